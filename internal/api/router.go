package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/123zcr/traceboard/internal/analytics"
	"github.com/123zcr/traceboard/internal/live"
	"github.com/123zcr/traceboard/internal/trace"
)

// Ingestor accepts validated records for asynchronous persistence.
type Ingestor interface {
	Enqueue(record trace.Record) bool
}

type RouterOptions struct {
	AppVersion  string
	Store       trace.TraceStore
	StoragePath string
	Metrics     *analytics.MetricsService
	Broadcaster *live.Broadcaster
	Ingestor    Ingestor
	Diagnostics trace.PipelineDiagnosticsReader
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	mux := http.NewServeMux()

	mux.Handle("/api/health", HealthHandler(HealthOptions{
		Version:     options.AppVersion,
		StartedAt:   startedAt,
		StoragePath: options.StoragePath,
		Store:       options.Store,
		Broadcaster: options.Broadcaster,
	}))
	mux.Handle("/api/traces", TracesHandler(options.Store))
	mux.Handle("/api/traces/", TraceDetailHandler(options.Store))
	mux.Handle("/api/metrics", MetricsHandler(options.Metrics))
	mux.Handle("/api/export", ExportHandler(options.Store))
	mux.Handle("/api/events", EventsHandler(options.Ingestor))
	mux.Handle("/api/live", LiveHandler(options.Broadcaster))
	mux.Handle("/api/diagnostics", DiagnosticsHandler(options.Diagnostics))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "traceboard",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return withCORS(mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler) http.Handler {
	allowedHeaders := strings.Join([]string{"Content-Type", "Authorization"}, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
