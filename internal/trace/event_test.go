package trace

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTrace(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		event   *Trace
		wantErr bool
	}{
		{name: "nil event", event: nil, wantErr: true},
		{name: "missing id", event: &Trace{}, wantErr: true},
		{name: "blank id", event: &Trace{ID: "   "}, wantErr: true},
		{name: "unknown status", event: &Trace{ID: "trace_1", Status: "finished"}, wantErr: true},
		{name: "end before start", event: &Trace{ID: "trace_1", StartedAt: started, EndedAt: started.Add(-time.Second)}, wantErr: true},
		{name: "invalid metadata json", event: &Trace{ID: "trace_1", Metadata: "{oops"}, wantErr: true},
		{name: "minimal valid", event: &Trace{ID: "trace_1"}},
		{name: "empty status allowed", event: &Trace{ID: "trace_1", StartedAt: started}},
		{name: "end-only event", event: &Trace{ID: "trace_1", EndedAt: started, Status: StatusCompleted}},
		{name: "equal start and end", event: &Trace{ID: "trace_1", StartedAt: started, EndedAt: started}},
		{name: "valid metadata", event: &Trace{ID: "trace_1", Metadata: `{"tenant":"acme"}`}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateTrace(tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Fatalf("ValidateTrace() error=%v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateTrace() error: %v", err)
			}
		})
	}
}

func TestValidateSpan(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		event   *Span
		wantErr bool
	}{
		{name: "nil event", event: nil, wantErr: true},
		{name: "missing id", event: &Span{TraceID: "trace_1"}, wantErr: true},
		{name: "missing trace id", event: &Span{ID: "span_1"}, wantErr: true},
		{name: "unknown type", event: &Span{ID: "span_1", TraceID: "trace_1", Type: "llm"}, wantErr: true},
		{name: "end before start", event: &Span{ID: "span_1", TraceID: "trace_1", StartedAt: started, EndedAt: started.Add(-time.Millisecond)}, wantErr: true},
		{name: "negative input tokens", event: &Span{ID: "span_1", TraceID: "trace_1", InputTokens: -1}, wantErr: true},
		{name: "negative output tokens", event: &Span{ID: "span_1", TraceID: "trace_1", OutputTokens: -5}, wantErr: true},
		{name: "minimal valid", event: &Span{ID: "span_1", TraceID: "trace_1"}},
		{name: "empty type allowed", event: &Span{ID: "span_1", TraceID: "trace_1", StartedAt: started}},
		{name: "generation with usage", event: &Span{ID: "span_1", TraceID: "trace_1", Type: SpanTypeGeneration, Model: "gpt-4o", InputTokens: 10, OutputTokens: 5}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSpan(tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Fatalf("ValidateSpan() error=%v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateSpan() error: %v", err)
			}
		})
	}
}

func TestValidateSpanAcceptsAllKnownTypes(t *testing.T) {
	t.Parallel()

	types := []string{
		SpanTypeAgent, SpanTypeGeneration, SpanTypeFunction, SpanTypeGuardrail,
		SpanTypeHandoff, SpanTypeCustom, SpanTypeTranscription, SpanTypeSpeech,
		SpanTypeSpeechGroup,
	}
	for _, spanType := range types {
		event := &Span{ID: "span_1", TraceID: "trace_1", Type: spanType}
		if err := ValidateSpan(event); err != nil {
			t.Fatalf("ValidateSpan(type=%q) error: %v", spanType, err)
		}
	}
}

func TestNormalizeTrace(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		row := normalizeTrace(&Trace{ID: " trace_1 "})
		if row.ID != "trace_1" {
			t.Fatalf("id=%q, want trimmed", row.ID)
		}
		if row.Status != StatusRunning {
			t.Fatalf("status=%q, want %q", row.Status, StatusRunning)
		}
		if row.Metadata != "{}" {
			t.Fatalf("metadata=%q, want {}", row.Metadata)
		}
	})

	t.Run("ended without terminal status becomes completed", func(t *testing.T) {
		t.Parallel()
		ended := time.Date(2026, 2, 10, 10, 0, 5, 0, time.UTC)
		row := normalizeTrace(&Trace{ID: "trace_1", EndedAt: ended})
		if row.Status != StatusCompleted {
			t.Fatalf("status=%q, want %q", row.Status, StatusCompleted)
		}
	})

	t.Run("errored status survives end timestamp", func(t *testing.T) {
		t.Parallel()
		ended := time.Date(2026, 2, 10, 10, 0, 5, 0, time.UTC)
		row := normalizeTrace(&Trace{ID: "trace_1", EndedAt: ended, Status: StatusErrored})
		if row.Status != StatusErrored {
			t.Fatalf("status=%q, want %q", row.Status, StatusErrored)
		}
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		t.Parallel()
		event := &Trace{ID: "trace_1"}
		_ = normalizeTrace(event)
		if event.Status != "" || event.Metadata != "" {
			t.Fatalf("input mutated: %+v", event)
		}
	})
}

func TestNormalizeSpan(t *testing.T) {
	t.Parallel()

	t.Run("type defaults to custom", func(t *testing.T) {
		t.Parallel()
		row := normalizeSpan(&Span{ID: "span_1", TraceID: "trace_1"})
		if row.Type != SpanTypeCustom {
			t.Fatalf("type=%q, want %q", row.Type, SpanTypeCustom)
		}
	})

	t.Run("name left empty", func(t *testing.T) {
		t.Parallel()
		// A defaulted name would overwrite the real one when the end event
		// merges into the stored row.
		row := normalizeSpan(&Span{ID: "span_1", TraceID: "trace_1", Type: SpanTypeGeneration})
		if row.Name != "" {
			t.Fatalf("name=%q, want empty", row.Name)
		}
	})

	t.Run("timestamps normalized to UTC", func(t *testing.T) {
		t.Parallel()
		loc := time.FixedZone("PST", -8*3600)
		started := time.Date(2026, 2, 10, 2, 0, 0, 0, loc)
		row := normalizeSpan(&Span{ID: "span_1", TraceID: "trace_1", StartedAt: started})
		if row.StartedAt.Location() != time.UTC {
			t.Fatalf("started_at location=%v, want UTC", row.StartedAt.Location())
		}
		if !row.StartedAt.Equal(started) {
			t.Fatalf("started_at=%v changed instant", row.StartedAt)
		}
	})
}
