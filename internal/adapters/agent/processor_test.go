package agent

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/123zcr/traceboard/internal/trace"
)

type captureIngestor struct {
	mu      sync.Mutex
	records []trace.Record
	full    bool
}

func (c *captureIngestor) Enqueue(record trace.Record) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return true
}

func (c *captureIngestor) last(t *testing.T) trace.Record {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		t.Fatal("no records enqueued")
	}
	return c.records[len(c.records)-1]
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewTraceIDFormat(t *testing.T) {
	t.Parallel()

	id := NewTraceID()
	if !strings.HasPrefix(id, "trace_") {
		t.Fatalf("id=%q, want trace_ prefix", id)
	}
	if got := len(strings.TrimPrefix(id, "trace_")); got != 32 {
		t.Fatalf("hex length=%d, want 32", got)
	}
	if id == NewTraceID() {
		t.Fatal("consecutive trace ids collided")
	}
}

func TestNewSpanIDFormat(t *testing.T) {
	t.Parallel()

	id := NewSpanID()
	if !strings.HasPrefix(id, "span_") {
		t.Fatalf("id=%q, want span_ prefix", id)
	}
	if got := len(strings.TrimPrefix(id, "span_")); got != 24 {
		t.Fatalf("hex length=%d, want 24", got)
	}
}

func TestOnTraceStartFillsDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	ingestor := &captureIngestor{}
	processor := NewProcessor(ingestor, WithClock(fixedClock(now)))

	event := &trace.Trace{Name: "checkout"}
	if err := processor.OnTraceStart(event); err != nil {
		t.Fatalf("OnTraceStart() error: %v", err)
	}

	if !strings.HasPrefix(event.ID, "trace_") {
		t.Fatalf("generated id=%q", event.ID)
	}
	record := ingestor.last(t)
	if record.Trace == nil {
		t.Fatal("expected a trace record")
	}
	if record.Trace.ID != event.ID || record.Trace.Name != "checkout" {
		t.Fatalf("record=%+v", record.Trace)
	}
	if !record.Trace.StartedAt.Equal(now) {
		t.Fatalf("started_at=%v, want clock time", record.Trace.StartedAt)
	}
	if record.Trace.Status != trace.StatusRunning {
		t.Fatalf("status=%q, want running", record.Trace.Status)
	}
}

func TestOnTraceStartKeepsProvidedFields(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	ingestor := &captureIngestor{}
	processor := NewProcessor(ingestor, WithClock(fixedClock(started.Add(time.Hour))))

	event := &trace.Trace{ID: "trace_fixed", StartedAt: started}
	if err := processor.OnTraceStart(event); err != nil {
		t.Fatalf("OnTraceStart() error: %v", err)
	}

	record := ingestor.last(t)
	if record.Trace.ID != "trace_fixed" || !record.Trace.StartedAt.Equal(started) {
		t.Fatalf("record=%+v, want caller values preserved", record.Trace)
	}
}

func TestOnTraceEndOmitsStartTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 10, 10, 0, 5, 0, time.UTC)
	ingestor := &captureIngestor{}
	processor := NewProcessor(ingestor, WithClock(fixedClock(now)))

	event := &trace.Trace{ID: "trace_1", StartedAt: now.Add(-5 * time.Second)}
	if err := processor.OnTraceEnd(event); err != nil {
		t.Fatalf("OnTraceEnd() error: %v", err)
	}

	record := ingestor.last(t)
	// The end event must not carry a start time; the store keeps the one the
	// start event already persisted.
	if !record.Trace.StartedAt.IsZero() {
		t.Fatalf("started_at=%v, want zero on end event", record.Trace.StartedAt)
	}
	if !record.Trace.EndedAt.Equal(now) {
		t.Fatalf("ended_at=%v, want clock time", record.Trace.EndedAt)
	}
	if record.Trace.Status != trace.StatusCompleted {
		t.Fatalf("status=%q, want completed", record.Trace.Status)
	}
}

func TestOnTraceEndPreservesErroredStatus(t *testing.T) {
	t.Parallel()

	ingestor := &captureIngestor{}
	processor := NewProcessor(ingestor)

	event := &trace.Trace{ID: "trace_1", Status: trace.StatusErrored}
	if err := processor.OnTraceEnd(event); err != nil {
		t.Fatalf("OnTraceEnd() error: %v", err)
	}
	if got := ingestor.last(t).Trace.Status; got != trace.StatusErrored {
		t.Fatalf("status=%q, want errored", got)
	}
}

func TestOnTraceEndRequiresID(t *testing.T) {
	t.Parallel()

	processor := NewProcessor(&captureIngestor{})
	if err := processor.OnTraceEnd(&trace.Trace{}); err == nil {
		t.Fatal("expected error for missing trace id")
	}
}

func TestOnSpanStartAndEnd(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	ingestor := &captureIngestor{}
	processor := NewProcessor(ingestor, WithClock(fixedClock(now)))

	span := &trace.Span{TraceID: "trace_1", Type: trace.SpanTypeFunction, Name: "lookup_user"}
	if err := processor.OnSpanStart(span); err != nil {
		t.Fatalf("OnSpanStart() error: %v", err)
	}
	if !strings.HasPrefix(span.ID, "span_") {
		t.Fatalf("generated span id=%q", span.ID)
	}
	start := ingestor.last(t)
	if start.Span == nil || !start.Span.StartedAt.Equal(now) {
		t.Fatalf("start record=%+v", start.Span)
	}

	span.Output = `{"user":"u_1"}`
	if err := processor.OnSpanEnd(span); err != nil {
		t.Fatalf("OnSpanEnd() error: %v", err)
	}
	end := ingestor.last(t)
	if end.Span.ID != span.ID || !end.Span.EndedAt.Equal(now) {
		t.Fatalf("end record=%+v", end.Span)
	}
	if end.Span.Output != `{"user":"u_1"}` {
		t.Fatalf("output=%q", end.Span.Output)
	}
}

func TestOnSpanStartRequiresTraceID(t *testing.T) {
	t.Parallel()

	processor := NewProcessor(&captureIngestor{})
	if err := processor.OnSpanStart(&trace.Span{}); err == nil {
		t.Fatal("expected error for missing trace id")
	}
}

func TestOnSpanEndRequiresBothIDs(t *testing.T) {
	t.Parallel()

	processor := NewProcessor(&captureIngestor{})
	if err := processor.OnSpanEnd(&trace.Span{TraceID: "trace_1"}); err == nil {
		t.Fatal("expected error for missing span id")
	}
}

func TestInvalidEventIsNotEnqueued(t *testing.T) {
	t.Parallel()

	ingestor := &captureIngestor{}
	processor := NewProcessor(ingestor)

	err := processor.OnSpanStart(&trace.Span{TraceID: "trace_1", Type: "llm"})
	if err == nil {
		t.Fatal("expected validation error for unknown span type")
	}
	if len(ingestor.records) != 0 {
		t.Fatalf("enqueued=%d, want 0", len(ingestor.records))
	}
}

func TestFullQueueLogsWarning(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	processor := NewProcessor(&captureIngestor{full: true}, WithLogger(logger))

	if err := processor.OnTraceStart(&trace.Trace{ID: "trace_1"}); err != nil {
		t.Fatalf("OnTraceStart() error: %v", err)
	}
	if !strings.Contains(buf.String(), "dropping event") {
		t.Fatalf("log=%q, want drop warning", buf.String())
	}
}
