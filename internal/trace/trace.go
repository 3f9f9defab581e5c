package trace

import "time"

// Trace statuses. A trace starts running and moves to exactly one of the
// terminal statuses; the store never regresses a terminal status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusErrored   = "errored"
)

// Span types recognized by the event model.
const (
	SpanTypeAgent         = "agent"
	SpanTypeGeneration    = "generation"
	SpanTypeFunction      = "function"
	SpanTypeGuardrail     = "guardrail"
	SpanTypeHandoff       = "handoff"
	SpanTypeCustom        = "custom"
	SpanTypeTranscription = "transcription"
	SpanTypeSpeech        = "speech"
	SpanTypeSpeechGroup   = "speech_group"
)

// Trace is one top-level agent run. EndedAt stays zero while the run is
// in flight. Metadata holds an opaque JSON object supplied by the adapter.
type Trace struct {
	ID        string
	Name      string
	GroupID   string
	StartedAt time.Time
	EndedAt   time.Time
	Status    string
	Metadata  string
}

// Span is one operation inside a trace. StartedAt may be zero when the end
// event arrived before the start event; the store merges the pair.
// Input, Output and Error hold opaque JSON payloads. Model and the token
// counts are only meaningful for generation spans; cost is derived from
// them at read time and never stored.
type Span struct {
	ID           string
	TraceID      string
	ParentID     string
	Type         string
	Name         string
	StartedAt    time.Time
	EndedAt      time.Time
	Input        string
	Output       string
	Error        string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Ended reports whether the trace has reached a terminal status or carries
// an end timestamp.
func (t *Trace) Ended() bool {
	if t == nil {
		return false
	}
	return !t.EndedAt.IsZero() || t.Status == StatusCompleted || t.Status == StatusErrored
}

// DurationMS returns the trace duration in milliseconds, or false while the
// trace has no end timestamp yet.
func (t *Trace) DurationMS() (float64, bool) {
	if t == nil || t.StartedAt.IsZero() || t.EndedAt.IsZero() {
		return 0, false
	}
	return float64(t.EndedAt.Sub(t.StartedAt)) / float64(time.Millisecond), true
}

// DurationMS returns the span duration in milliseconds, or false while the
// span is missing either timestamp.
func (s *Span) DurationMS() (float64, bool) {
	if s == nil || s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0, false
	}
	return float64(s.EndedAt.Sub(s.StartedAt)) / float64(time.Millisecond), true
}

// TotalTokens is the combined prompt and completion token count.
func (s *Span) TotalTokens() int {
	if s == nil {
		return 0
	}
	return s.InputTokens + s.OutputTokens
}

func validStatus(status string) bool {
	switch status {
	case StatusRunning, StatusCompleted, StatusErrored:
		return true
	}
	return false
}

func validSpanType(spanType string) bool {
	switch spanType {
	case SpanTypeAgent, SpanTypeGeneration, SpanTypeFunction, SpanTypeGuardrail,
		SpanTypeHandoff, SpanTypeCustom, SpanTypeTranscription, SpanTypeSpeech,
		SpanTypeSpeechGroup:
		return true
	}
	return false
}
