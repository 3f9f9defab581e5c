package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/123zcr/traceboard/internal/trace"
)

const eventsBodyLimit = 4 << 20

type traceEvent struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	GroupID   string          `json:"group_id"`
	StartedAt *time.Time      `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata"`
}

type spanEvent struct {
	ID           string          `json:"id"`
	TraceID      string          `json:"trace_id"`
	ParentID     string          `json:"parent_id"`
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	StartedAt    *time.Time      `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output"`
	Error        json.RawMessage `json:"error"`
	Model        string          `json:"model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
}

type eventsRequest struct {
	Traces []traceEvent `json:"traces"`
	Spans  []spanEvent  `json:"spans"`
}

type eventsResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// EventsHandler is the remote ingest surface for adapters running in other
// processes. The whole batch is validated before anything is enqueued, so a
// malformed event never mutates stored state.
func EventsHandler(ingestor Ingestor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if ingestor == nil {
			writeError(w, http.StatusServiceUnavailable, "ingest pipeline is not configured")
			return
		}

		defer r.Body.Close()
		r.Body = http.MaxBytesReader(w, r.Body, eventsBodyLimit)
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()

		var req eventsRequest
		if err := decoder.Decode(&req); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "event batch too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid event batch body")
			return
		}
		if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid event batch body")
			return
		}

		records := make([]trace.Record, 0, len(req.Traces)+len(req.Spans))
		for _, event := range req.Traces {
			converted := convertTraceEvent(event)
			if err := trace.ValidateTrace(converted); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			records = append(records, trace.Record{Trace: converted})
		}
		for _, event := range req.Spans {
			converted := convertSpanEvent(event)
			if err := trace.ValidateSpan(converted); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			records = append(records, trace.Record{Span: converted})
		}

		accepted := 0
		dropped := 0
		for _, record := range records {
			if ingestor.Enqueue(record) {
				accepted++
			} else {
				dropped++
			}
		}

		writeJSON(w, http.StatusAccepted, eventsResponse{
			Accepted: accepted,
			Dropped:  dropped,
		})
	})
}

func convertTraceEvent(event traceEvent) *trace.Trace {
	return &trace.Trace{
		ID:        event.ID,
		Name:      event.Name,
		GroupID:   event.GroupID,
		StartedAt: timeValue(event.StartedAt),
		EndedAt:   timeValue(event.EndedAt),
		Status:    event.Status,
		Metadata:  string(event.Metadata),
	}
}

func convertSpanEvent(event spanEvent) *trace.Span {
	return &trace.Span{
		ID:           event.ID,
		TraceID:      event.TraceID,
		ParentID:     event.ParentID,
		Type:         event.Type,
		Name:         event.Name,
		StartedAt:    timeValue(event.StartedAt),
		EndedAt:      timeValue(event.EndedAt),
		Input:        string(event.Input),
		Output:       string(event.Output),
		Error:        string(event.Error),
		Model:        event.Model,
		InputTokens:  event.InputTokens,
		OutputTokens: event.OutputTokens,
	}
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
