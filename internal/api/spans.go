package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/123zcr/traceboard/internal/analytics"
	"github.com/123zcr/traceboard/internal/trace"
)

type spanResponse struct {
	ID           string     `json:"id"`
	TraceID      string     `json:"trace_id"`
	ParentID     string     `json:"parent_id,omitempty"`
	Type         string     `json:"type"`
	Name         string     `json:"name,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMS   *float64   `json:"duration_ms,omitempty"`
	Input        any        `json:"input,omitempty"`
	Output       any        `json:"output,omitempty"`
	Error        any        `json:"error,omitempty"`
	Model        string     `json:"model,omitempty"`
	InputTokens  int        `json:"input_tokens,omitempty"`
	OutputTokens int        `json:"output_tokens,omitempty"`
	TotalTokens  int        `json:"total_tokens,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
}

type spanNodeResponse struct {
	spanResponse
	Depth    int                `json:"depth"`
	Children []spanNodeResponse `json:"children"`
}

type traceDetailResponse struct {
	Trace     traceDetail    `json:"trace"`
	Spans     []spanResponse `json:"spans"`
	SpanCount int            `json:"span_count"`
	TotalCost float64        `json:"total_cost"`
}

type traceTreeResponse struct {
	TraceID string             `json:"trace_id"`
	Spans   []spanNodeResponse `json:"spans"`
}

type traceExportResponse struct {
	Trace traceDetail    `json:"trace"`
	Spans []spanResponse `json:"spans"`
}

func handleTraceDetail(w http.ResponseWriter, r *http.Request, store trace.TraceStore, id string) {
	item, ok := loadTrace(w, r, store, id)
	if !ok {
		return
	}
	spans, err := store.ListSpans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read spans")
		return
	}

	spanItems := make([]spanResponse, 0, len(spans))
	totalCost := 0.0
	for _, span := range spans {
		converted := convertSpan(span)
		totalCost += converted.Cost
		spanItems = append(spanItems, converted)
	}

	writeJSON(w, http.StatusOK, traceDetailResponse{
		Trace:     detailTrace(item),
		Spans:     spanItems,
		SpanCount: len(spanItems),
		TotalCost: totalCost,
	})
}

func handleTraceSpans(w http.ResponseWriter, r *http.Request, store trace.TraceStore, id string) {
	if _, ok := loadTrace(w, r, store, id); !ok {
		return
	}
	spans, err := store.ListSpans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read spans")
		return
	}

	items := make([]spanResponse, 0, len(spans))
	for _, span := range spans {
		items = append(items, convertSpan(span))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func handleTraceTree(w http.ResponseWriter, r *http.Request, store trace.TraceStore, id string) {
	if _, ok := loadTrace(w, r, store, id); !ok {
		return
	}
	spans, err := store.ListSpans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read spans")
		return
	}

	roots := trace.BuildSpanTree(spans)
	writeJSON(w, http.StatusOK, traceTreeResponse{
		TraceID: id,
		Spans:   convertSpanNodes(roots),
	})
}

func handleTraceExport(w http.ResponseWriter, r *http.Request, store trace.TraceStore, id string) {
	item, ok := loadTrace(w, r, store, id)
	if !ok {
		return
	}
	spans, err := store.ListSpans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read spans")
		return
	}

	items := make([]spanResponse, 0, len(spans))
	for _, span := range spans {
		items = append(items, convertSpan(span))
	}
	writeJSON(w, http.StatusOK, traceExportResponse{
		Trace: detailTrace(item),
		Spans: items,
	})
}

func convertSpan(span *trace.Span) spanResponse {
	converted := spanResponse{
		ID:           span.ID,
		TraceID:      span.TraceID,
		ParentID:     span.ParentID,
		Type:         span.Type,
		Name:         span.Name,
		StartedAt:    timePtr(span.StartedAt),
		EndedAt:      timePtr(span.EndedAt),
		Input:        decodeJSONField(span.Input),
		Output:       decodeJSONField(span.Output),
		Error:        decodeJSONField(span.Error),
		Model:        span.Model,
		InputTokens:  span.InputTokens,
		OutputTokens: span.OutputTokens,
		TotalTokens:  span.TotalTokens(),
		Cost:         analytics.SpanCost(span),
	}
	if duration, ok := span.DurationMS(); ok {
		converted.DurationMS = &duration
	}
	return converted
}

func convertSpanNodes(nodes []*trace.SpanNode) []spanNodeResponse {
	converted := make([]spanNodeResponse, 0, len(nodes))
	for _, node := range nodes {
		converted = append(converted, spanNodeResponse{
			spanResponse: convertSpan(node.Span),
			Depth:        node.Depth,
			Children:     convertSpanNodes(node.Children),
		})
	}
	return converted
}

func decodeJSONField(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}
	return decoded
}
