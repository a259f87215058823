package http

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"outbound-relay/internal/handler/http/auth"
	"outbound-relay/internal/handler/http/requestid"
	"outbound-relay/internal/observability/tracing"
	"outbound-relay/internal/resilience/circuit"
	"outbound-relay/internal/usecase/compress"
	"outbound-relay/internal/usecase/route"
)

// maxRequestBodyBytes bounds inbound bodies. Image payloads dominate; the
// largest width band tops out at 5 MiB, so 10 MiB leaves headroom without
// letting a client exhaust memory.
const maxRequestBodyBytes = 10 << 20

// RouterDeps carries everything the HTTP surface needs. All dependencies are
// injected; the router owns no state of its own.
type RouterDeps struct {
	Logger   *slog.Logger
	Compress *compress.Service
	Route    *route.Service
	Circuits *circuit.Registry
	Health   *route.HealthAggregator
	DB       *sql.DB
	Redis    *redis.Client
	Version  string
}

// NewRouter builds the full route table with the shared middleware chain
// applied.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	compressHandler := &CompressHandler{Service: deps.Compress}
	routingHandler := &RoutingHandler{Service: deps.Route}
	providersHandler := &ProvidersHandler{Service: deps.Route}
	adminHandler := &AdminHandler{Circuits: deps.Circuits, Health: deps.Health}
	healthHandler := &HealthHandler{DB: deps.DB, Redis: deps.Redis, Version: deps.Version}

	mux.HandleFunc("POST /auth/token", auth.TokenHandler())

	mux.Handle("POST /jobs/compress", compressHandler)
	mux.HandleFunc("GET /routing/email", routingHandler.Recommend)
	mux.HandleFunc("POST /routing/email/send", routingHandler.Send)
	mux.Handle("GET /providers/health", providersHandler)

	mux.Handle("POST /admin/circuits/{provider}/reset",
		auth.RequireAdmin(http.HandlerFunc(adminHandler.ResetCircuit)))

	mux.Handle("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", MetricsHandler())

	return Chain(mux,
		requestid.Middleware,
		tracing.Middleware,
		Logging(deps.Logger),
		Metrics,
		Recover(deps.Logger),
		LimitRequestBody(maxRequestBodyBytes),
	)
}
