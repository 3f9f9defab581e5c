package observability

import (
	"context"
	"log/slog"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Correlation attribute keys. The otel_ prefix keeps them apart from
// the trace_id fields the API handlers log for stored agent traces,
// which are a different id space entirely.
const (
	logKeyTraceID = "otel_trace_id"
	logKeySpanID  = "otel_span_id"
)

// logCorrelationHandler stamps records with the ids of the active
// OpenTelemetry span so a log line can be matched to its exported span.
type logCorrelationHandler struct {
	next slog.Handler
}

// NewLogCorrelationHandler wraps next with span-id stamping. A nil next
// falls back to the default handler.
func NewLogCorrelationHandler(next slog.Handler) slog.Handler {
	if next == nil {
		next = slog.Default().Handler()
	}
	return &logCorrelationHandler{next: next}
}

func (h *logCorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *logCorrelationHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(logKeyTraceID, sc.TraceID().String()),
			slog.String(logKeySpanID, sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h *logCorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logCorrelationHandler{next: h.next.WithAttrs(attrs)}
}

func (h *logCorrelationHandler) WithGroup(name string) slog.Handler {
	return &logCorrelationHandler{next: h.next.WithGroup(name)}
}
