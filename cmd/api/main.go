package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"outbound-relay/internal/config"
	"outbound-relay/internal/domain/provider"
	hhttp "outbound-relay/internal/handler/http"
	pgRepo "outbound-relay/internal/infra/adapter/persistence/postgres"
	"outbound-relay/internal/infra/alert"
	"outbound-relay/internal/infra/compressor"
	"outbound-relay/internal/infra/db"
	"outbound-relay/internal/infra/mailer"
	"outbound-relay/internal/infra/quota"
	"outbound-relay/internal/infra/worker"
	"outbound-relay/internal/observability/logging"
	"outbound-relay/internal/observability/metrics"
	"outbound-relay/internal/resilience/circuit"
	"outbound-relay/internal/resilience/retry"
	"outbound-relay/internal/resilience/storeguard"
	"outbound-relay/internal/usecase/compress"
	"outbound-relay/internal/usecase/route"
)

func main() {
	logger := initLogger()
	validateJWTSecret(logger)

	ctx := context.Background()

	database := initDatabase(ctx, logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	rdb := initRedis(ctx, logger)
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis", slog.Any("error", err))
		}
	}()

	cfg := config.Load()
	table, err := config.LoadRoutingTable()
	if err != nil {
		logger.Error("failed to load routing table", slog.Any("error", err))
		os.Exit(1)
	}

	alerts := buildAlertDispatcher(logger)

	compressSvc, routeSvc, circuits, health := setupServices(logger, cfg, table, database, rdb, alerts)

	flusher := worker.NewMirrorFlusher(
		circuits,
		pgRepo.NewCircuitMirrorRepo(storeguard.NewDB(database)),
		durationFromEnv("CIRCUIT_MIRROR_INTERVAL", 30*time.Second),
		logger,
	)

	handler := hhttp.NewRouter(hhttp.RouterDeps{
		Logger:   logger,
		Compress: compressSvc,
		Route:    routeSvc,
		Circuits: circuits,
		Health:   health,
		DB:       database,
		Redis:    rdb,
		Version:  getVersion(),
	})

	runServer(logger, handler, compressSvc, flusher, alerts)
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if val, err := time.ParseDuration(raw); err == nil && val > 0 {
			return val
		}
	}
	return fallback
}

// initLogger initializes the process-wide structured logger.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// validateJWTSecret refuses to start with a missing or weak admin token
// secret.
func validateJWTSecret(logger *slog.Logger) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Error("JWT_SECRET must be set")
		os.Exit(1)
	}
	if len(secret) < 32 {
		logger.Error("JWT_SECRET must be at least 32 characters")
		os.Exit(1)
	}
}

// initDatabase opens the database connection and runs migrations.
func initDatabase(ctx context.Context, logger *slog.Logger) *sql.DB {
	database, err := db.Open(ctx)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.MigrateUp(database); err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(1)
	}
	return database
}

// initRedis connects the quota counter store.
func initRedis(ctx context.Context, logger *slog.Logger) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("failed to connect to redis",
			slog.String("addr", addr),
			slog.Any("error", err))
		os.Exit(1)
	}
	return rdb
}

// getVersion returns the application version from environment or default.
func getVersion() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return version
}

// setupServices wires the circuit registry, stores and provider adapters into
// the two usecase services.
func setupServices(
	logger *slog.Logger,
	cfg config.Config,
	table config.RoutingTable,
	database *sql.DB,
	rdb *redis.Client,
	alerts *alert.Dispatcher,
) (*compress.Service, *route.Service, *circuit.Registry, *route.HealthAggregator) {
	circuits := circuit.NewRegistry(circuit.Config{
		FailureThreshold:    cfg.Circuit.FailureThreshold,
		ResetTimeout:        cfg.Circuit.ResetTimeout,
		HalfOpenMaxAttempts: cfg.Circuit.HalfOpenMaxAttempts,
	}, circuit.WithStateChangeHook(func(name string, from, to circuit.State) {
		metrics.RecordCircuitTransition(name, to.String())
		alerts.Notify(alert.Event{
			Provider: provider.ID(name),
			From:     from.String(),
			To:       to.String(),
			At:       time.Now(),
		})
	}))

	guarded := storeguard.NewDB(database)
	stats := pgRepo.NewProviderStatsRepo(guarded)
	quotaStore := quota.NewRedisStore(rdb)

	adapters := buildCompressionAdapters(logger)
	senders := buildSenders(logger)

	raceRetry := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	emailRetry := retry.Config{
		MaxAttempts: cfg.EmailRetry.MaxAttempts,
		BaseDelay:   cfg.EmailRetry.BaseDelay,
		MaxDelay:    cfg.EmailRetry.MaxDelay,
	}

	compressSvc := compress.NewService(circuits, stats, quotaStore, adapters, raceRetry, cfg.AttemptTimeout)

	health := route.NewHealthAggregator(stats, quotaStore, circuits, table, senderIDs(senders), cfg.Health.CacheTTL)
	selector := route.NewSelector(table, cfg.Health.MinHealthThreshold)
	routeSvc := route.NewService(health, selector, circuits, stats, quotaStore, senders, emailRetry)

	return compressSvc, routeSvc, circuits, health
}

// buildCompressionAdapters creates one adapter per configured compression
// provider. Providers without credentials are skipped so a partial deployment
// still races what it has.
func buildCompressionAdapters(logger *slog.Logger) []compress.Adapter {
	var adapters []compress.Adapter

	if key := os.Getenv("TINYPNG_API_KEY"); key != "" {
		adapters = append(adapters, compressor.NewTinyPNG(compressor.TinyPNGConfig{APIKey: key}))
	} else {
		logger.Warn("TINYPNG_API_KEY not set, tinypng disabled")
	}

	key, secret := os.Getenv("KRAKEN_API_KEY"), os.Getenv("KRAKEN_API_SECRET")
	if key != "" && secret != "" {
		adapters = append(adapters, compressor.NewKraken(compressor.KrakenConfig{APIKey: key, APISecret: secret}))
	} else {
		logger.Warn("KRAKEN_API_KEY or KRAKEN_API_SECRET not set, kraken disabled")
	}

	logger.Info("compression adapters configured", slog.Int("count", len(adapters)))
	return adapters
}

// buildSenders creates one sender per configured email provider.
func buildSenders(logger *slog.Logger) []route.Sender {
	var senders []route.Sender

	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		senders = append(senders, mailer.NewSendGrid(mailer.SendGridConfig{APIKey: key}))
	} else {
		logger.Warn("SENDGRID_API_KEY not set, sendgrid disabled")
	}

	key, domain := os.Getenv("MAILGUN_API_KEY"), os.Getenv("MAILGUN_DOMAIN")
	if key != "" && domain != "" {
		senders = append(senders, mailer.NewMailgun(mailer.MailgunConfig{APIKey: key, Domain: domain}))
	} else {
		logger.Warn("MAILGUN_API_KEY or MAILGUN_DOMAIN not set, mailgun disabled")
	}

	if token := os.Getenv("SES_ACCESS_TOKEN"); token != "" {
		senders = append(senders, mailer.NewSES(mailer.SESConfig{AccessToken: token}))
	} else {
		logger.Warn("SES_ACCESS_TOKEN not set, ses disabled")
	}

	logger.Info("email senders configured", slog.Int("count", len(senders)))
	return senders
}

// buildAlertDispatcher configures chat alerting for circuit transitions.
// Channels without a webhook URL are left out; with none configured the
// dispatcher simply has nothing to fan out to.
func buildAlertDispatcher(logger *slog.Logger) *alert.Dispatcher {
	var alerters []alert.Alerter

	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		alerters = append(alerters, alert.NewSlackAlerter(alert.SlackConfig{
			Enabled:    true,
			WebhookURL: url,
			Timeout:    10 * time.Second,
		}))
	}
	if url := os.Getenv("DISCORD_WEBHOOK_URL"); url != "" {
		alerters = append(alerters, alert.NewDiscordAlerter(alert.DiscordConfig{
			Enabled:    true,
			WebhookURL: url,
			Timeout:    10 * time.Second,
		}))
	}

	logger.Info("circuit alert channels configured", slog.Int("count", len(alerters)))
	return alert.NewDispatcher(alerters, 30*time.Second, logger)
}

func senderIDs(senders []route.Sender) []provider.ID {
	ids := make([]provider.ID, 0, len(senders))
	for _, s := range senders {
		ids = append(ids, s.ID())
	}
	return ids
}

// runServer starts the HTTP server and the circuit mirror flusher, then
// handles graceful shutdown, waiting for in-flight races and background
// cleanups before exiting.
func runServer(logger *slog.Logger, handler http.Handler, compressSvc *compress.Service, flusher *worker.MirrorFlusher, alerts *alert.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go flusher.Run(ctx)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("version", getVersion()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}

	// Stragglers from provider races keep recording outcomes after the
	// listener stops; give them a bounded window to finish.
	if err := compressSvc.Shutdown(shutdownCtx); err != nil {
		logger.Error("compression service shutdown incomplete", slog.Any("error", err))
	}

	alerts.Wait()
	cancel()
	logger.Info("server stopped")
}
