// Package http provides the orchestrator's HTTP surface: job submission,
// routing recommendations, provider health, admin circuit control and the
// operational endpoints.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"outbound-relay/internal/handler/http/requestid"
	"outbound-relay/internal/handler/http/respond"
	"outbound-relay/internal/handler/http/responsewriter"
	"outbound-relay/internal/observability/metrics"
)

// Logging returns middleware that logs one structured line per completed
// request, carrying the request ID and the active trace ID so logs and
// traces can be joined.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := responsewriter.Wrap(w)
			next.ServeHTTP(wrapped, r)

			span := trace.SpanFromContext(r.Context())

			logger.Info("request completed",
				slog.String("request_id", requestid.FromContext(r.Context())),
				slog.String("trace_id", span.SpanContext().TraceID().String()),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", wrapped.StatusCode()),
				slog.Int("bytes", wrapped.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Recover returns middleware that turns handler panics into 500 responses
// instead of crashing the server.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					respond.SafeError(w, http.StatusInternalServerError, fmt.Errorf("internal error"))

					logger.Error("panic recovered",
						slog.String("request_id", requestid.FromContext(r.Context())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.Any("panic", rec),
						slog.String("stack", string(debug.Stack())),
					)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LimitRequestBody caps request body size. Compression payloads are the
// largest legitimate bodies; anything bigger is rejected by MaxBytesReader.
func LimitRequestBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records request counts and latency per method, path and status.
// The route surface is a small fixed set, so raw paths are safe as labels.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := responsewriter.Wrap(w)

		start := time.Now()
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		status := strconv.Itoa(wrapped.StatusCode())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
	})
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Chain applies middleware outermost-first.
func Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
