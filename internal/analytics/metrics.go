// Package analytics aggregates stored traces and spans into the dashboard
// metrics snapshot. Token totals come straight from the store; dollar
// amounts are derived per model through the price table at snapshot time.
package analytics

import (
	"context"
	"fmt"

	"github.com/123zcr/traceboard/internal/pricing"
	"github.com/123zcr/traceboard/internal/trace"
)

// MetricsReader is the slice of the trace store the aggregator needs.
type MetricsReader interface {
	GetMetrics(ctx context.Context) (*trace.StoreMetrics, error)
}

// Snapshot is one point-in-time aggregate over the whole store.
type Snapshot struct {
	TotalTraces    int64              `json:"total_traces"`
	TotalSpans     int64              `json:"total_spans"`
	TotalTokens    int64              `json:"total_tokens"`
	TotalCost      float64            `json:"total_cost"`
	AvgDurationMS  float64            `json:"avg_duration_ms"`
	ErrorCount     int64              `json:"error_count"`
	TracesByStatus map[string]int64   `json:"traces_by_status"`
	CostByModel    map[string]float64 `json:"cost_by_model"`
}

type MetricsService struct {
	store MetricsReader
}

func NewMetricsService(store MetricsReader) *MetricsService {
	return &MetricsService{store: store}
}

// Snapshot computes the current metrics snapshot. The average duration only
// covers ended traces; traces still running do not contribute.
func (s *MetricsService) Snapshot(ctx context.Context) (*Snapshot, error) {
	raw, err := s.store.GetMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("read store metrics: %w", err)
	}

	snapshot := &Snapshot{
		TotalTraces:    raw.TotalTraces,
		TotalSpans:     raw.TotalSpans,
		TotalTokens:    raw.TotalTokens,
		AvgDurationMS:  raw.AvgDurationMS,
		ErrorCount:     raw.ErrorCount,
		TracesByStatus: make(map[string]int64, len(raw.ByStatus)),
		CostByModel:    make(map[string]float64, len(raw.Usage)),
	}
	for status, count := range raw.ByStatus {
		snapshot.TracesByStatus[status] = count
	}
	for _, usage := range raw.Usage {
		cost := pricing.Cost(usage.Model, int(usage.InputTokens), int(usage.OutputTokens))
		snapshot.CostByModel[usage.Model] = cost
		snapshot.TotalCost += cost
	}

	return snapshot, nil
}

// SpanCost derives the cost of a single span. Only generation spans with a
// model carry cost; everything else is free.
func SpanCost(span *trace.Span) float64 {
	if span == nil || span.Type != trace.SpanTypeGeneration {
		return 0
	}
	if span.Model == "" && span.TotalTokens() == 0 {
		return 0
	}
	return pricing.Cost(span.Model, span.InputTokens, span.OutputTokens)
}
