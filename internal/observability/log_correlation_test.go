package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newSpanContextTracer(t *testing.T) *sdktrace.TracerProvider {
	t.Helper()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogCorrelationStampsActiveSpanIDs(t *testing.T) {
	t.Parallel()

	tp := newSpanContextTracer(t)

	var buf bytes.Buffer
	logger := slog.New(NewLogCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx, span := tp.Tracer("test").Start(context.Background(), "ingest.flush")
	defer span.End()

	logger.InfoContext(ctx, "flushed batch", "batch_size", 64)

	entry := decodeLogEntry(t, &buf)
	traceID, ok := entry["otel_trace_id"].(string)
	if !ok || len(traceID) != 32 {
		t.Fatalf("otel_trace_id=%q, want 32 hex chars", traceID)
	}
	spanID, ok := entry["otel_span_id"].(string)
	if !ok || len(spanID) != 16 {
		t.Fatalf("otel_span_id=%q, want 16 hex chars", spanID)
	}
	if got, ok := entry["batch_size"].(float64); !ok || got != 64 {
		t.Fatalf("batch_size=%v, want 64", entry["batch_size"])
	}
}

func TestLogCorrelationOmitsIDsWithoutSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewLogCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	// Covers both a bare background context and the context.Background()
	// that logger.Info passes internally.
	logger.InfoContext(context.Background(), "no active span")

	entry := decodeLogEntry(t, &buf)
	if _, ok := entry["otel_trace_id"]; ok {
		t.Fatal("otel_trace_id stamped without an active span")
	}
	if _, ok := entry["otel_span_id"]; ok {
		t.Fatal("otel_span_id stamped without an active span")
	}
}

func TestLogCorrelationEnabledDelegates(t *testing.T) {
	t.Parallel()

	handler := NewLogCorrelationHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled despite warn-level inner handler")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error disabled despite warn-level inner handler")
	}
}

func TestLogCorrelationSurvivesWithAttrsAndWithGroup(t *testing.T) {
	t.Parallel()

	tp := newSpanContextTracer(t)

	var buf bytes.Buffer
	handler := NewLogCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "writer")}).WithGroup("detail"))

	ctx, span := tp.Tracer("test").Start(context.Background(), "ingest.flush")
	defer span.End()

	logger.InfoContext(ctx, "grouped", "key", "val")

	entry := decodeLogEntry(t, &buf)
	if component, ok := entry["component"].(string); !ok || component != "writer" {
		t.Fatalf("component=%v, want writer", entry["component"])
	}
	// The span ids land inside the open group; presence is what matters.
	output := buf.String()
	if !strings.Contains(output, "otel_trace_id") || !strings.Contains(output, "otel_span_id") {
		t.Fatalf("span ids missing from grouped output: %s", output)
	}
}

func TestNewLogCorrelationHandlerNilFallback(t *testing.T) {
	t.Parallel()

	handler := NewLogCorrelationHandler(nil)
	if handler == nil {
		t.Fatal("NewLogCorrelationHandler(nil) returned nil")
	}
	slog.New(handler).Info("fallback")
}
