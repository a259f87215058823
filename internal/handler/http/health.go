package http

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"outbound-relay/internal/handler/http/respond"
)

const healthCheckTimeout = 5 * time.Second

// HealthResponse is the JSON body for the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
	Version   string                 `json:"version"`
}

// CheckStatus is the status of a single dependency check.
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler reports liveness of the orchestrator's own dependencies:
// the stats database and the quota Redis. Provider health is deliberately
// excluded; degraded providers are this service doing its job, not this
// service being unhealthy.
type HealthHandler struct {
	DB      *sql.DB
	Redis   *redis.Client
	Version string
}

// ServeHTTP handles GET /healthz. Returns 503 when any dependency check
// fails.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]CheckStatus)
	allHealthy := true

	checks["database"] = h.checkDatabase(ctx)
	if checks["database"].Status != "healthy" {
		allHealthy = false
	}

	checks["redis"] = h.checkRedis(ctx)
	if checks["redis"].Status != "healthy" {
		allHealthy = false
	}

	status := "healthy"
	code := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	respond.JSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckStatus {
	if h.DB == nil {
		return CheckStatus{Status: "unhealthy", Message: "not configured"}
	}
	if err := h.DB.PingContext(ctx); err != nil {
		return CheckStatus{Status: "unhealthy", Message: "ping failed"}
	}
	return CheckStatus{Status: "healthy"}
}

func (h *HealthHandler) checkRedis(ctx context.Context) CheckStatus {
	if h.Redis == nil {
		return CheckStatus{Status: "unhealthy", Message: "not configured"}
	}
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		return CheckStatus{Status: "unhealthy", Message: "ping failed"}
	}
	return CheckStatus{Status: "healthy"}
}
