package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// redactExporter rewrites payload secrets out of spans on their way to
// the OTLP endpoint. Traceboard's own spans can quote agent payload
// fragments in span names, error events, and status text, so every
// string-valued part is run through the redact rules. This happens in
// the batch export goroutine, off the request path.
type redactExporter struct {
	next sdktrace.SpanExporter
}

func newRedactExporter(next sdktrace.SpanExporter) sdktrace.SpanExporter {
	return &redactExporter{next: next}
}

// ExportSpans hands the batch to the wrapped exporter, copying it only
// when at least one span actually needed redaction.
func (e *redactExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	var out []sdktrace.ReadOnlySpan
	for i, span := range spans {
		clean, changed := redactSpan(span)
		if changed && out == nil {
			out = append(out, spans[:i]...)
		}
		if out != nil {
			out = append(out, clean)
		}
	}
	if out == nil {
		out = spans
	}
	return e.next.ExportSpans(ctx, out)
}

func (e *redactExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// redactSpan reports whether anything had to change; untouched spans
// are returned as-is so clean batches avoid the snapshot copy entirely.
func redactSpan(span sdktrace.ReadOnlySpan) (sdktrace.ReadOnlySpan, bool) {
	attrs, attrsChanged := redactAttrs(span.Attributes())

	events := span.Events()
	eventsChanged := false
	for i, event := range events {
		clean, changed := redactAttrs(event.Attributes)
		if !changed {
			continue
		}
		if !eventsChanged {
			events = append([]sdktrace.Event(nil), events...)
			eventsChanged = true
		}
		events[i].Attributes = clean
	}

	name := span.Name()
	nameChanged := HasSecret(name)
	status := span.Status()
	statusChanged := HasSecret(status.Description)

	if !attrsChanged && !eventsChanged && !nameChanged && !statusChanged {
		return span, false
	}

	stub := tracetest.SpanStubFromReadOnlySpan(span)
	stub.Attributes = attrs
	stub.Events = events
	if nameChanged {
		stub.Name = RedactSecrets(name)
	}
	if statusChanged {
		stub.Status.Description = RedactSecrets(status.Description)
	}
	return stub.Snapshot(), true
}

// redactAttrs leaves the input slice alone until the first dirty value.
// Non-string attributes cannot carry payload text and pass untouched.
func redactAttrs(attrs []attribute.KeyValue) ([]attribute.KeyValue, bool) {
	var out []attribute.KeyValue
	for i, kv := range attrs {
		if kv.Value.Type() != attribute.STRING {
			continue
		}
		value := kv.Value.AsString()
		if !HasSecret(value) {
			continue
		}
		if out == nil {
			out = append(out, attrs...)
		}
		out[i] = attribute.String(string(kv.Key), RedactSecrets(value))
	}
	if out == nil {
		return attrs, false
	}
	return out, true
}
