package trace

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidateTrace is the ingestion gate for trace events. Malformed events are
// rejected here, before they reach the write queue, so a bad event never
// mutates the store. The store revalidates on upsert as defense in depth for
// callers that bypass the queue.
func ValidateTrace(t *Trace) error {
	if t == nil {
		return fmt.Errorf("%w: nil trace event", ErrInvalidEvent)
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: trace event is missing an id", ErrInvalidEvent)
	}
	if t.Status != "" && !validStatus(t.Status) {
		return fmt.Errorf("%w: unknown trace status %q", ErrInvalidEvent, t.Status)
	}
	if !t.StartedAt.IsZero() && !t.EndedAt.IsZero() && t.EndedAt.Before(t.StartedAt) {
		return fmt.Errorf("%w: trace %q ends before it starts", ErrInvalidEvent, t.ID)
	}
	if t.Metadata != "" && !json.Valid([]byte(t.Metadata)) {
		return fmt.Errorf("%w: trace %q metadata is not valid JSON", ErrInvalidEvent, t.ID)
	}
	return nil
}

// ValidateSpan is the ingestion gate for span events.
func ValidateSpan(s *Span) error {
	if s == nil {
		return fmt.Errorf("%w: nil span event", ErrInvalidEvent)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: span event is missing an id", ErrInvalidEvent)
	}
	if strings.TrimSpace(s.TraceID) == "" {
		return fmt.Errorf("%w: span %q is missing a trace id", ErrInvalidEvent, s.ID)
	}
	if s.Type != "" && !validSpanType(s.Type) {
		return fmt.Errorf("%w: span %q has unknown type %q", ErrInvalidEvent, s.ID, s.Type)
	}
	if !s.StartedAt.IsZero() && !s.EndedAt.IsZero() && s.EndedAt.Before(s.StartedAt) {
		return fmt.Errorf("%w: span %q ends before it starts", ErrInvalidEvent, s.ID)
	}
	if s.InputTokens < 0 || s.OutputTokens < 0 {
		return fmt.Errorf("%w: span %q has a negative token count", ErrInvalidEvent, s.ID)
	}
	return nil
}

func normalizeTrace(in *Trace) *Trace {
	row := *in
	row.ID = strings.TrimSpace(row.ID)
	if row.Status == "" {
		row.Status = StatusRunning
	}
	if row.Metadata == "" {
		row.Metadata = "{}"
	}
	if !row.StartedAt.IsZero() {
		row.StartedAt = row.StartedAt.UTC()
	}
	if !row.EndedAt.IsZero() {
		row.EndedAt = row.EndedAt.UTC()
		// An end timestamp without a terminal status still ends the trace.
		if row.Status == StatusRunning {
			row.Status = StatusCompleted
		}
	}
	return &row
}

func normalizeSpan(in *Span) *Span {
	row := *in
	row.ID = strings.TrimSpace(row.ID)
	row.TraceID = strings.TrimSpace(row.TraceID)
	if row.Type == "" {
		row.Type = SpanTypeCustom
	}
	if !row.StartedAt.IsZero() {
		row.StartedAt = row.StartedAt.UTC()
	}
	if !row.EndedAt.IsZero() {
		row.EndedAt = row.EndedAt.UTC()
	}
	return &row
}
