package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupRecorder installs an in-memory span exporter and restores the
// previous tracer provider when the test ends.
func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	tracer = otel.Tracer("outbound-relay")
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tracer = otel.Tracer("outbound-relay")
	})
	return recorder
}

func TestMiddleware_CreatesServerSpan(t *testing.T) {
	recorder := setupRecorder(t)

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/routing/email", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "GET /routing/email" {
		t.Errorf("span name = %q, want %q", got, "GET /routing/email")
	}
}

func TestMiddleware_SetsTraceIDHeader(t *testing.T) {
	setupRecorder(t)

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Trace-Id") == "" {
		t.Error("X-Trace-Id header should be set")
	}
}

func TestMiddleware_RecordsStatusCode(t *testing.T) {
	recorder := setupRecorder(t)

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest(http.MethodPost, "/jobs/compress", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	foundError := false
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "error" && attr.Value.AsBool() {
			foundError = true
		}
	}
	if !foundError {
		t.Error("5xx response should mark the span as error")
	}
}
