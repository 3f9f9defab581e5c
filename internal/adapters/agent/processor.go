// Package agent turns agent-runtime lifecycle callbacks into trace and span
// events on the ingest queue. A runtime embeds one Processor and calls the
// On* hooks as work starts and ends; the processor stamps times, validates,
// and enqueues without ever blocking the agent.
package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/123zcr/traceboard/internal/trace"
)

// Ingestor accepts validated records for asynchronous persistence.
type Ingestor interface {
	Enqueue(record trace.Record) bool
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock replaces the time source. Tests use it for deterministic stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Processor converts lifecycle events into ingest records.
type Processor struct {
	ingest Ingestor
	now    func() time.Time
	logger *slog.Logger
}

func NewProcessor(ingest Ingestor, opts ...Option) *Processor {
	p := &Processor{
		ingest: ingest,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return "trace_" + uuidHex(32)
}

// NewSpanID returns a fresh span identifier.
func NewSpanID() string {
	return "span_" + uuidHex(24)
}

func uuidHex(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > 0 && n < len(hex) {
		return hex[:n]
	}
	return hex
}

// OnTraceStart records the beginning of a run. A missing ID is filled in and
// returned through the trace pointer so callers can attach spans to it.
func (p *Processor) OnTraceStart(t *trace.Trace) error {
	if t == nil {
		return fmt.Errorf("trace is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = NewTraceID()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = p.now().UTC()
	}
	if t.Status == "" {
		t.Status = trace.StatusRunning
	}

	event := *t
	if err := trace.ValidateTrace(&event); err != nil {
		return err
	}
	p.enqueue(trace.Record{Trace: &event})
	return nil
}

// OnTraceEnd records the completion of a run. The stored trace keeps its
// original start time; only the end fields travel in this event.
func (p *Processor) OnTraceEnd(t *trace.Trace) error {
	if t == nil {
		return fmt.Errorf("trace is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("trace id is required to end a trace")
	}
	if t.EndedAt.IsZero() {
		t.EndedAt = p.now().UTC()
	}
	if t.Status == "" || t.Status == trace.StatusRunning {
		t.Status = trace.StatusCompleted
	}

	event := trace.Trace{
		ID:       t.ID,
		Name:     t.Name,
		GroupID:  t.GroupID,
		EndedAt:  t.EndedAt,
		Status:   t.Status,
		Metadata: t.Metadata,
	}
	if err := trace.ValidateTrace(&event); err != nil {
		return err
	}
	p.enqueue(trace.Record{Trace: &event})
	return nil
}

// OnSpanStart records the beginning of one unit of work inside a run.
func (p *Processor) OnSpanStart(s *trace.Span) error {
	if s == nil {
		return fmt.Errorf("span is nil")
	}
	if strings.TrimSpace(s.TraceID) == "" {
		return fmt.Errorf("span trace id is required")
	}
	if strings.TrimSpace(s.ID) == "" {
		s.ID = NewSpanID()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = p.now().UTC()
	}

	event := *s
	if err := trace.ValidateSpan(&event); err != nil {
		return err
	}
	p.enqueue(trace.Record{Span: &event})
	return nil
}

// OnSpanEnd records the completion of a span, including output, error, and
// token usage gathered while it ran.
func (p *Processor) OnSpanEnd(s *trace.Span) error {
	if s == nil {
		return fmt.Errorf("span is nil")
	}
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.TraceID) == "" {
		return fmt.Errorf("span id and trace id are required to end a span")
	}
	if s.EndedAt.IsZero() {
		s.EndedAt = p.now().UTC()
	}

	event := *s
	if err := trace.ValidateSpan(&event); err != nil {
		return err
	}
	p.enqueue(trace.Record{Span: &event})
	return nil
}

func (p *Processor) enqueue(record trace.Record) {
	if p.ingest == nil {
		return
	}
	if !p.ingest.Enqueue(record) {
		id := ""
		kind := "trace"
		if record.Trace != nil {
			id = record.Trace.ID
		} else if record.Span != nil {
			kind = "span"
			id = record.Span.ID
		}
		p.logger.Warn("ingest queue is full; dropping event", "kind", kind, "id", id)
	}
}
