package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/123zcr/traceboard/internal/config"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func spanAttrMap(span sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string, len(span.Attributes()))
	for _, a := range span.Attributes() {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

func TestSetupDisabledReturnsInertRuntime(t *testing.T) {
	t.Parallel()

	runtime, err := Setup(context.Background(), config.OTelConfig{Enabled: false}, "test", nil)
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if runtime.Enabled() {
		t.Fatal("disabled config produced enabled runtime")
	}

	// All hooks must be safe no-ops on a disabled runtime.
	runtime.RecordIngestDrop()
	runtime.RecordWriteFailure("upsert_trace", "storage", 3)
	runtime.RecordFlush(8, 5*time.Millisecond)
	if err := runtime.RegisterQueueDepthGauge(func() int { return 0 }); err != nil {
		t.Fatalf("RegisterQueueDepthGauge() error: %v", err)
	}
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestNilRuntimeIsSafe(t *testing.T) {
	t.Parallel()

	var runtime *Runtime
	if runtime.Enabled() {
		t.Fatal("nil runtime reported enabled")
	}
	runtime.RecordIngestDrop()
	runtime.RecordWriteFailure("upsert_span", "contention", 1)
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestWrapHTTPHandlerDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	wrapped := runtime.WrapHTTPHandler(inner)
	recorder := httptest.NewRecorder()
	wrapped.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))

	if !called {
		t.Fatal("inner handler was not invoked")
	}
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", recorder.Code, http.StatusNoContent)
	}
}

func TestWrapHTTPHandlerNilHandlerReturns404(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	wrapped := runtime.WrapHTTPHandler(nil)
	recorder := httptest.NewRecorder()
	wrapped.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestWrapHTTPTransportDisabledReturnsBase(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	base := &http.Transport{}
	if got := runtime.WrapHTTPTransport(base); got != http.RoundTripper(base) {
		t.Fatal("disabled runtime should return the base transport unchanged")
	}
	if got := runtime.WrapHTTPTransport(nil); got != http.DefaultTransport {
		t.Fatal("nil base should fall back to http.DefaultTransport")
	}
}

func TestNormalizeOTLPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		wantEndpoint string
		wantInsecure bool
		wantErr      bool
	}{
		{name: "bare host:port", raw: "localhost:4318", wantEndpoint: "localhost:4318", wantInsecure: false},
		{name: "http scheme implies insecure", raw: "http://collector:4318", wantEndpoint: "collector:4318", wantInsecure: true},
		{name: "https scheme implies secure", raw: "https://collector.example.com", wantEndpoint: "collector.example.com", wantInsecure: false},
		{name: "whitespace trimmed", raw: "  localhost:4318  ", wantEndpoint: "localhost:4318"},
		{name: "empty rejected", raw: "", wantErr: true},
		{name: "grpc scheme rejected", raw: "grpc://collector:4317", wantErr: true},
		{name: "missing host rejected", raw: "http://", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			endpoint, insecure, err := normalizeOTLPEndpoint(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("normalizeOTLPEndpoint(%q) expected error, got %q", tt.raw, endpoint)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeOTLPEndpoint(%q) error: %v", tt.raw, err)
			}
			if endpoint != tt.wantEndpoint {
				t.Fatalf("endpoint=%q, want %q", endpoint, tt.wantEndpoint)
			}
			if insecure != tt.wantInsecure {
				t.Fatalf("insecure=%v, want %v", insecure, tt.wantInsecure)
			}
		})
	}
}

func TestServerSpanName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{method: "GET", path: "/api/traces", want: "GET /api/traces/*"},
		{method: "GET", path: "/api/traces/tr-1/spans", want: "GET /api/traces/*"},
		{method: "POST", path: "/api/events", want: "POST /api/*"},
		{method: "GET", path: "/api/metrics", want: "GET /api/*"},
		{method: "GET", path: "/", want: "GET /"},
		{method: "GET", path: "/favicon.ico", want: "GET /other"},
		{method: "", path: "/api/live", want: "UNKNOWN /api/*"},
	}

	for _, tt := range tests {
		tt := tt
		if got := serverSpanName(tt.method, tt.path); got != tt.want {
			t.Fatalf("serverSpanName(%q, %q) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestStatusCapturingResponseWriter(t *testing.T) {
	t.Parallel()

	t.Run("explicit status", func(t *testing.T) {
		t.Parallel()
		recorder := httptest.NewRecorder()
		w := &statusCapturingResponseWriter{ResponseWriter: recorder}
		w.WriteHeader(http.StatusBadGateway)
		if got := w.StatusCode(); got != http.StatusBadGateway {
			t.Fatalf("StatusCode()=%d, want %d", got, http.StatusBadGateway)
		}
	})

	t.Run("implicit 200 on write", func(t *testing.T) {
		t.Parallel()
		recorder := httptest.NewRecorder()
		w := &statusCapturingResponseWriter{ResponseWriter: recorder}
		if _, err := w.Write([]byte("ok")); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
		if got := w.StatusCode(); got != http.StatusOK {
			t.Fatalf("StatusCode()=%d, want %d", got, http.StatusOK)
		}
	})

	t.Run("first status wins", func(t *testing.T) {
		t.Parallel()
		recorder := httptest.NewRecorder()
		w := &statusCapturingResponseWriter{ResponseWriter: recorder}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.WriteHeader(http.StatusOK)
		if got := w.StatusCode(); got != http.StatusServiceUnavailable {
			t.Fatalf("StatusCode()=%d, want %d", got, http.StatusServiceUnavailable)
		}
	})

	t.Run("flush delegates", func(t *testing.T) {
		t.Parallel()
		recorder := httptest.NewRecorder()
		w := &statusCapturingResponseWriter{ResponseWriter: recorder}
		w.Flush()
		if !recorder.Flushed {
			t.Fatal("Flush() did not reach the underlying writer")
		}
	})
}

func TestSpanEnrichmentMiddlewareDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	wrapped := runtime.SpanEnrichmentMiddleware(inner)
	recorder := httptest.NewRecorder()
	wrapped.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/traces", nil))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", recorder.Code, http.StatusInternalServerError)
	}
}

func TestScrubAttributesLeavesCleanSliceIntact(t *testing.T) {
	t.Parallel()

	attrs := []attribute.KeyValue{
		attribute.String("span.type", "generation"),
		attribute.String("span.model", "gpt-4o"),
	}
	scrubbed, _ := redactAttrs(attrs)
	for i, a := range scrubbed {
		if a.Value.Emit() != attrs[i].Value.Emit() {
			t.Fatalf("attribute %q changed: %q", a.Key, a.Value.Emit())
		}
		if strings.Contains(a.Value.Emit(), redactedValue) {
			t.Fatalf("clean attribute %q was redacted", a.Key)
		}
	}
}
