package trace

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("trace store record not found")
var ErrInvalidEvent = errors.New("trace event failed validation")
var ErrStoreUnavailable = errors.New("trace store is unavailable")

type TraceStore interface {
	UpsertTrace(ctx context.Context, trace *Trace) error
	UpsertSpan(ctx context.Context, span *Span) error
	UpsertBatch(ctx context.Context, records []Record) error
	GetTrace(ctx context.Context, id string) (*Trace, error)
	ListTraces(ctx context.Context, filter TraceFilter) (*TraceList, error)
	ListSpans(ctx context.Context, traceID string) ([]*Span, error)
	GetMetrics(ctx context.Context) (*StoreMetrics, error)
	ExportAll(ctx context.Context) ([]*TraceExport, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// Record is one unit of ingest: exactly one of Trace or Span is set.
type Record struct {
	Trace *Trace
	Span  *Span
}

// TraceFilter selects a page of the trace list. Page is 1-based.
type TraceFilter struct {
	Status   string
	Name     string
	Page     int
	PageSize int
}

// TraceSummary is one trace list item enriched with span aggregates.
type TraceSummary struct {
	Trace      *Trace
	SpanCount  int
	SpanTokens int64
}

// TraceList is one stable page of traces plus the exact unpaginated total.
type TraceList struct {
	Items    []*TraceSummary
	Total    int64
	Page     int
	PageSize int
}

// StoreMetrics holds the raw aggregates behind a metrics snapshot. Cost is
// not part of it; callers derive cost from Usage through the price table.
type StoreMetrics struct {
	TotalTraces   int64
	TotalSpans    int64
	TotalTokens   int64
	AvgDurationMS float64
	ErrorCount    int64
	ByStatus      map[string]int64
	Usage         []ModelUsage
}

// ModelUsage is the summed token usage of generation spans for one model.
type ModelUsage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// TraceExport is one trace with all of its spans, as emitted by export.
type TraceExport struct {
	Trace *Trace
	Spans []*Span
}
