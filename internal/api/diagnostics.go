package api

import (
	"net/http"
	"time"

	"github.com/123zcr/traceboard/internal/trace"
)

const pipelineDiagnosticsSchemaVersion = "ingest-pipeline-diagnostics.v1"

type pipelineDiagnosticsResponse struct {
	SchemaVersion string                    `json:"schema_version"`
	GeneratedAt   time.Time                 `json:"generated_at"`
	Diagnostics   trace.PipelineDiagnostics `json:"diagnostics"`
}

func DiagnosticsHandler(reader trace.PipelineDiagnosticsReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if reader == nil {
			writeError(w, http.StatusServiceUnavailable, "ingest pipeline diagnostics unavailable")
			return
		}

		writeJSON(w, http.StatusOK, pipelineDiagnosticsResponse{
			SchemaVersion: pipelineDiagnosticsSchemaVersion,
			GeneratedAt:   time.Now().UTC(),
			Diagnostics:   reader.PipelineDiagnostics(),
		})
	})
}
