package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"outbound-relay/internal/domain/provider"
	pgRepo "outbound-relay/internal/infra/adapter/persistence/postgres"
	"outbound-relay/internal/infra/db"
	"outbound-relay/internal/infra/quota"
	workerPkg "outbound-relay/internal/infra/worker"
	"outbound-relay/internal/observability/logging"
	"outbound-relay/internal/resilience/storeguard"
)

// waitForMigrations blocks until the API's startup migration has created the
// schema, so the worker can start in any order relative to the API.
func waitForMigrations(logger *slog.Logger, database *sql.DB) {
	const probe = "SELECT 1 FROM provider_stats LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := database.Exec(probe); err == nil {
			return
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	logger.Error("migrations did not complete in time")
	os.Exit(1)
}

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(ctx)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()
	waitForMigrations(logger, database)

	rdb := initRedis(ctx, logger)
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis", slog.Any("error", err))
		}
	}()

	metrics := workerPkg.NewMetrics()
	cfg := workerPkg.LoadConfigFromEnv(logger, metrics)
	logger.Info("worker configuration loaded",
		slog.String("cron_schedule", cfg.CronSchedule),
		slog.String("timezone", cfg.Timezone),
		slog.Duration("job_timeout", cfg.JobTimeout),
		slog.Duration("mirror_retention", cfg.MirrorRetention))

	startMetricsServer(ctx, logger, cfg.MetricsPort)

	healthServer := workerPkg.NewHealthServer(addrFor(cfg.HealthPort), logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	guarded := storeguard.NewDB(database)
	digest := workerPkg.NewDigest(
		pgRepo.NewProviderStatsRepo(guarded),
		quota.NewRedisStore(rdb),
		pgRepo.NewCircuitMirrorRepo(guarded),
		allProviders(),
		cfg.MirrorRetention,
		metrics,
		logger,
	)

	startCron(cancel, logger, digest, cfg, metrics, healthServer)
}

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

func allProviders() []provider.ID {
	ids := provider.CompressionProviders()
	return append(ids, provider.EmailProviders()...)
}

func addrFor(port int) string {
	return fmt.Sprintf(":%d", port)
}

// startCron schedules the digest job and blocks until a shutdown signal.
func startCron(
	cancel context.CancelFunc,
	logger *slog.Logger,
	digest *workerPkg.Digest,
	cfg workerPkg.Config,
	metrics *workerPkg.Metrics,
	healthServer *workerPkg.HealthServer,
) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.CronSchedule, func() {
		runDigest(logger, digest, cfg, metrics)
	})
	if err != nil {
		logger.Error("failed to add cron job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()

	healthServer.SetReady(true)
	logger.Info("worker started",
		slog.String("schedule", cfg.CronSchedule),
		slog.String("timezone", cfg.Timezone))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	healthServer.SetReady(false)
	cronCtx := c.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(cfg.JobTimeout):
		logger.Warn("digest job did not finish before shutdown deadline")
	}
	cancel()
	logger.Info("worker stopped")
}

// runDigest executes one digest pass with timeout and metrics.
func runDigest(logger *slog.Logger, digest *workerPkg.Digest, cfg workerPkg.Config, metrics *workerPkg.Metrics) {
	start := time.Now()
	logger.Info("digest started")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout)
	defer cancel()

	if err := digest.Run(ctx); err != nil {
		logger.Error("digest failed", slog.Any("error", err))
		metrics.RecordJobRun("failure")
		metrics.RecordJobDuration(time.Since(start).Seconds())
		return
	}

	metrics.RecordJobRun("success")
	metrics.RecordJobDuration(time.Since(start).Seconds())
	metrics.RecordLastSuccess()
	logger.Info("digest completed", slog.Duration("duration", time.Since(start)))
}
