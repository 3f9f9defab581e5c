package api

import (
	"net/http"
	"time"

	"github.com/123zcr/traceboard/internal/analytics"
	"github.com/123zcr/traceboard/internal/trace"
)

// MetricsHandler is the pull side of the live contract: clients that cannot
// hold a stream open poll this endpoint instead.
func MetricsHandler(metrics *analytics.MetricsService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if metrics == nil {
			writeError(w, http.StatusServiceUnavailable, "metrics are not configured")
			return
		}

		snapshot, err := metrics.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to compute metrics")
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	})
}

type exportResponse struct {
	ExportedAt time.Time             `json:"exported_at"`
	TraceCount int                   `json:"trace_count"`
	Traces     []traceExportResponse `json:"traces"`
}

func ExportHandler(store trace.TraceStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}

		exports, err := store.ExportAll(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to export traces")
			return
		}

		traces := make([]traceExportResponse, 0, len(exports))
		for _, export := range exports {
			spans := make([]spanResponse, 0, len(export.Spans))
			for _, span := range export.Spans {
				spans = append(spans, convertSpan(span))
			}
			traces = append(traces, traceExportResponse{
				Trace: detailTrace(export.Trace),
				Spans: spans,
			})
		}

		writeJSON(w, http.StatusOK, exportResponse{
			ExportedAt: time.Now().UTC(),
			TraceCount: len(traces),
			Traces:     traces,
		})
	})
}
