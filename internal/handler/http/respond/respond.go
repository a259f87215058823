// Package respond writes JSON responses and keeps internal error details out
// of client-visible bodies.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// JSON writes v as a JSON body with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already out; nothing to send the client.
			slog.Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// Error writes a JSON error body with the given status code. The message is
// sent verbatim, so only pass errors that are safe to show callers.
func Error(w http.ResponseWriter, code int, err error) {
	JSON(w, code, map[string]string{"error": err.Error()})
}

// AppError carries a user-facing message alongside the internal cause.
type AppError struct {
	UserMsg string
	Err     error
	Code    int
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.UserMsg
}

// Unwrap returns the internal cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError.
func NewAppError(code int, userMsg string, err error) *AppError {
	return &AppError{Code: code, UserMsg: userMsg, Err: err}
}

// SafeError writes an error response without leaking internals. An AppError
// chooses its own status and user message; everything else becomes a generic
// body for 5xx codes, with the real error logged, and is sent verbatim for
// 4xx codes (those originate from request validation).
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			slog.Error("application error",
				slog.String("status", http.StatusText(appErr.Code)),
				slog.Int("code", appErr.Code),
				slog.String("user_message", appErr.UserMsg),
				slog.Any("error", Sanitize(appErr.Err)))
		}
		JSON(w, appErr.Code, map[string]string{"error": appErr.UserMsg})
		return
	}

	if code >= 500 {
		slog.Error("internal server error",
			slog.String("status", http.StatusText(code)),
			slog.Int("code", code),
			slog.Any("error", Sanitize(err)))
		JSON(w, code, map[string]string{"error": "internal server error"})
		return
	}

	Error(w, code, err)
}
