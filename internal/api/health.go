package api

import (
	"net/http"
	"os"
	"time"

	"github.com/123zcr/traceboard/internal/live"
	"github.com/123zcr/traceboard/internal/trace"
)

type HealthOptions struct {
	Version     string
	StartedAt   time.Time
	StoragePath string
	Store       trace.TraceStore
	Broadcaster *live.Broadcaster
}

type healthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UptimeSec       int64  `json:"uptime_sec"`
	TraceCount      int64  `json:"trace_count"`
	SpanCount       int64  `json:"span_count"`
	LiveSubscribers int    `json:"live_subscribers"`
	DBSizeBytes     int64  `json:"db_size_bytes,omitempty"`
}

func HealthHandler(options HealthOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		uptime := time.Since(options.StartedAt)
		traceCount := int64(0)
		spanCount := int64(0)
		if options.Store != nil {
			if metrics, err := options.Store.GetMetrics(r.Context()); err == nil {
				traceCount = metrics.TotalTraces
				spanCount = metrics.TotalSpans
			}
		}

		liveSubscribers := 0
		if options.Broadcaster != nil {
			liveSubscribers = options.Broadcaster.SubscriberCount()
		}

		dbSizeBytes := int64(0)
		if options.StoragePath != "" {
			if info, err := os.Stat(options.StoragePath); err == nil {
				dbSizeBytes = info.Size()
			}
		}

		writeJSON(w, http.StatusOK, healthResponse{
			Status:          "ok",
			Version:         options.Version,
			UptimeSec:       int64(uptime.Seconds()),
			TraceCount:      traceCount,
			SpanCount:       spanCount,
			LiveSubscribers: liveSubscribers,
			DBSizeBytes:     dbSizeBytes,
		})
	})
}
