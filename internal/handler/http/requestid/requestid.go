// Package requestid generates and propagates per-request IDs so log lines
// from one request can be correlated across the handler and usecase layers.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a private key type to avoid context collisions.
type contextKey string

const (
	// RequestIDKey is the context key holding the request ID.
	RequestIDKey contextKey = "request_id"
	// RequestIDHeader is the header used to accept and echo the ID.
	RequestIDHeader = "X-Request-ID"
)

// FromContext returns the request ID, or "" when none was set.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID attaches a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// Middleware propagates the caller's X-Request-ID or mints a new UUID,
// echoes it in the response header, and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
