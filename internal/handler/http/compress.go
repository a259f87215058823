package http

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"outbound-relay/internal/handler/http/respond"
	"outbound-relay/internal/usecase/compress"
)

// compressResponse is the winning race result returned to the caller.
type compressResponse struct {
	Provider  string `json:"provider"`
	Method    string `json:"method"`
	SizeBytes int    `json:"size_bytes"`
	Data      string `json:"data"` // base64-encoded compressed payload
}

// CompressHandler accepts a raw image body and races the compression
// providers for it.
type CompressHandler struct {
	Service *compress.Service
}

// ServeHTTP handles POST /jobs/compress.
func (h *CompressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if len(payload) == 0 {
		respond.SafeError(w, http.StatusBadRequest, errors.New("payload is required"))
		return
	}

	out, err := h.Service.Compress(r.Context(), payload)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, compressError(err))
		return
	}

	respond.JSON(w, http.StatusOK, compressResponse{
		Provider:  string(out.Provider),
		Method:    out.Method,
		SizeBytes: len(out.Bytes),
		Data:      base64.StdEncoding.EncodeToString(out.Bytes),
	})
}

// compressError maps race outcomes to client-visible errors. The aggregate's
// per-provider reasons are intentionally surfaced: callers use them to decide
// whether to retry.
func compressError(err error) error {
	var raceErr *compress.RaceError
	switch {
	case errors.Is(err, compress.ErrNoEligibleProviders):
		return respond.NewAppError(http.StatusServiceUnavailable, "no eligible providers", err)
	case errors.As(err, &raceErr):
		return respond.NewAppError(http.StatusBadGateway, raceErr.Error(), nil)
	default:
		return err
	}
}
