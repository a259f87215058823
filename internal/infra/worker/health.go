package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer serves the worker's liveness and readiness probes:
// /health always returns 200, /health/ready returns 200 only after the cron
// scheduler is running.
type HealthServer struct {
	addr    string
	logger  *slog.Logger
	isReady *atomic.Bool
	server  *http.Server
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewHealthServer creates a health server that is not yet started and not
// yet ready.
func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	isReady := &atomic.Bool{}
	return &HealthServer{
		addr:    addr,
		logger:  logger,
		isReady: isReady,
	}
}

// Start serves probes until ctx is cancelled, then shuts down gracefully
// with a 5 second timeout. Blocking; returns http.ErrServerClosed on clean
// shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if err != http.ErrServerClosed {
			h.logger.Error("health server failed", slog.Any("error", err))
		}
		return err
	}
}

// SetReady flips the readiness probe.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, "ok", h.logger)
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if h.isReady.Load() {
		writeHealth(w, http.StatusOK, "ok", h.logger)
		return
	}
	writeHealth(w, http.StatusServiceUnavailable, "not ready", h.logger)
}

func writeHealth(w http.ResponseWriter, code int, status string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: status}); err != nil {
		logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
