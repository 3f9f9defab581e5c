// Package openai instruments the go-openai client so chat completions made
// during an agent run show up as generation spans, with model and token
// usage captured from the API response.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/123zcr/traceboard/internal/adapters/agent"
	"github.com/123zcr/traceboard/internal/trace"
)

// Tracer wraps one go-openai client and reports every completion it makes.
type Tracer struct {
	client    *openai.Client
	processor *agent.Processor
}

// Options configure the wrapped client.
type Options struct {
	// BaseURL overrides the OpenAI API endpoint, e.g. to route through a proxy.
	BaseURL string
	// Transport replaces the HTTP transport; pass an instrumented transport
	// to get outbound spans for provider calls.
	Transport http.RoundTripper
}

func NewTracer(apiKey string, processor *agent.Processor, opts Options) *Tracer {
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Transport != nil {
		cfg.HTTPClient = &http.Client{Transport: opts.Transport}
	}
	return &Tracer{
		client:    openai.NewClientWithConfig(cfg),
		processor: processor,
	}
}

// Run is one traced agent run. All completions made through it are attached
// to the same trace.
type Run struct {
	tracer  *Tracer
	traceID string
}

// StartRun opens a trace and returns a Run handle. The returned error only
// reflects event validation; a full ingest queue is reported out-of-band.
func (t *Tracer) StartRun(ctx context.Context, name, groupID string) (*Run, error) {
	run := &Run{
		tracer:  t,
		traceID: agent.NewTraceID(),
	}
	err := t.processor.OnTraceStart(&trace.Trace{
		ID:      run.traceID,
		Name:    name,
		GroupID: groupID,
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// TraceID returns the identifier spans attach to.
func (r *Run) TraceID() string {
	return r.traceID
}

// End closes the run. A non-nil runErr marks the trace errored.
func (r *Run) End(ctx context.Context, runErr error) error {
	status := trace.StatusCompleted
	if runErr != nil {
		status = trace.StatusErrored
	}
	return r.tracer.processor.OnTraceEnd(&trace.Trace{
		ID:     r.traceID,
		Status: status,
	})
}

// CreateChatCompletion issues the request through the wrapped client and
// records it as a generation span under the run's trace.
func (r *Run) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	span := &trace.Span{
		ID:        agent.NewSpanID(),
		TraceID:   r.traceID,
		Type:      trace.SpanTypeGeneration,
		Name:      req.Model,
		Model:     req.Model,
		StartedAt: time.Now().UTC(),
		Input:     marshalField(req.Messages),
	}
	if err := r.tracer.processor.OnSpanStart(span); err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	resp, err := r.tracer.client.CreateChatCompletion(ctx, req)
	span.EndedAt = time.Now().UTC()
	if err != nil {
		span.Error = marshalField(map[string]string{"message": err.Error()})
	} else {
		// The response model can be more specific than the requested one
		// (e.g. a dated snapshot); prefer it for pricing.
		if resp.Model != "" {
			span.Model = resp.Model
		}
		span.Output = marshalField(resp.Choices)
		span.InputTokens = resp.Usage.PromptTokens
		span.OutputTokens = resp.Usage.CompletionTokens
	}
	if endErr := r.tracer.processor.OnSpanEnd(span); endErr != nil && err == nil {
		err = endErr
	}
	return resp, err
}

func marshalField(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
