package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/repository"
)

// MirrorPruner removes circuit mirror rows that have not been refreshed
// within the retention window.
type MirrorPruner interface {
	PruneStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Digest is the periodic maintenance job: it logs a per-provider usage
// summary from the durable stores and prunes stale circuit mirror rows.
type Digest struct {
	stats     repository.StatsRepository
	quota     repository.QuotaStore
	pruner    MirrorPruner
	providers []provider.ID
	retention time.Duration
	metrics   *Metrics
	logger    *slog.Logger
}

// NewDigest creates the maintenance job.
func NewDigest(
	stats repository.StatsRepository,
	quota repository.QuotaStore,
	pruner MirrorPruner,
	providers []provider.ID,
	retention time.Duration,
	metrics *Metrics,
	logger *slog.Logger,
) *Digest {
	return &Digest{
		stats:     stats,
		quota:     quota,
		pruner:    pruner,
		providers: providers,
		retention: retention,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run executes one digest pass.
func (d *Digest) Run(ctx context.Context) error {
	counters, err := d.stats.FetchCounters(ctx)
	if err != nil {
		return fmt.Errorf("digest fetch counters: %w", err)
	}

	for _, id := range d.providers {
		c := counters[id]
		used, err := d.quota.Used(ctx, id)
		if err != nil {
			d.logger.Warn("digest quota read failed",
				slog.String("provider", string(id)),
				slog.Any("error", err))
		}

		var avgLatency float64
		if c.TotalRequests > 0 {
			avgLatency = c.AvgLatencyMs
		}
		d.logger.Info("provider digest",
			slog.String("provider", string(id)),
			slog.Uint64("total_requests", c.TotalRequests),
			slog.Uint64("successful_requests", c.SuccessfulRequests),
			slog.Uint64("failed_requests", c.FailedRequests),
			slog.Float64("avg_latency_ms", avgLatency),
			slog.Int64("quota_used_today", used))
	}

	pruned, err := d.pruner.PruneStale(ctx, d.retention)
	if err != nil {
		return fmt.Errorf("digest prune mirror: %w", err)
	}
	if pruned > 0 {
		d.metrics.RecordMirrorRowsPruned(pruned)
		d.logger.Info("stale circuit mirror rows pruned",
			slog.Int64("rows", pruned),
			slog.Duration("retention", d.retention))
	}

	return nil
}
