package http

import (
	"errors"
	"log/slog"
	"net/http"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/handler/http/auth"
	"outbound-relay/internal/handler/http/requestid"
	"outbound-relay/internal/handler/http/respond"
	"outbound-relay/internal/resilience/circuit"
	"outbound-relay/internal/usecase/route"
)

// ProvidersHandler serves the read-only provider health snapshot.
type ProvidersHandler struct {
	Service *route.Service
}

// ServeHTTP handles GET /providers/health.
func (h *ProvidersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	views := h.Service.Health(r.Context())
	respond.JSON(w, http.StatusOK, map[string]any{
		"providers": toHealthViews(views),
	})
}

// AdminHandler serves the authenticated circuit-control surface.
type AdminHandler struct {
	Circuits *circuit.Registry
	Health   *route.HealthAggregator
}

// knownProvider reports whether id names a configured provider. Resetting an
// arbitrary name would silently create a fresh breaker for it.
func knownProvider(id provider.ID) bool {
	for _, known := range provider.CompressionProviders() {
		if id == known {
			return true
		}
	}
	for _, known := range provider.EmailProviders() {
		if id == known {
			return true
		}
	}
	return false
}

// ResetCircuit handles POST /admin/circuits/{provider}/reset. It forces the
// provider's circuit back to closed and drops the cached health snapshot so
// the change is visible immediately.
func (h *AdminHandler) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	id := provider.ID(r.PathValue("provider"))
	if !knownProvider(id) {
		respond.SafeError(w, http.StatusNotFound, errors.New("unknown provider"))
		return
	}

	before := h.Circuits.Snapshot(id)
	h.Circuits.Reset(id)
	if h.Health != nil {
		h.Health.Invalidate()
	}

	slog.Warn("circuit manually reset",
		slog.String("request_id", requestid.FromContext(r.Context())),
		slog.String("admin", auth.UserFromContext(r.Context())),
		slog.String("provider", string(id)),
		slog.String("previous_state", before.State.String()))

	respond.JSON(w, http.StatusOK, map[string]string{
		"provider":       string(id),
		"previous_state": before.State.String(),
		"state":          circuit.StateClosed.String(),
	})
}
