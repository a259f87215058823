// Package postgres implements the orchestrator's persistence interfaces on
// PostgreSQL. The schema lives in migrations/; this package only reads and
// writes it.
package postgres

import (
	"context"
	"fmt"
	"time"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/repository"
	"outbound-relay/internal/resilience/storeguard"
)

// ProviderStatsRepo implements repository.StatsRepository on PostgreSQL.
// Every query goes through the store guard so a dead database trips a
// breaker instead of stalling routing requests.
type ProviderStatsRepo struct {
	db *storeguard.DB
}

// NewProviderStatsRepo creates a new PostgreSQL-based StatsRepository.
func NewProviderStatsRepo(db *storeguard.DB) repository.StatsRepository {
	return &ProviderStatsRepo{db: db}
}

// RecordAttempt upserts one attempt outcome into the cumulative counters.
// Latency is folded into a running total so the average can be derived at
// read time.
func (repo *ProviderStatsRepo) RecordAttempt(ctx context.Context, id provider.ID, success bool, latency time.Duration) error {
	successes := 0
	failures := 0
	if success {
		successes = 1
	} else {
		failures = 1
	}

	const query = `
INSERT INTO provider_stats (provider, total_requests, successful_requests, failed_requests, total_latency_ms, updated_at)
VALUES ($1, 1, $2, $3, $4, NOW())
ON CONFLICT (provider)
DO UPDATE SET
	total_requests = provider_stats.total_requests + 1,
	successful_requests = provider_stats.successful_requests + EXCLUDED.successful_requests,
	failed_requests = provider_stats.failed_requests + EXCLUDED.failed_requests,
	total_latency_ms = provider_stats.total_latency_ms + EXCLUDED.total_latency_ms,
	updated_at = NOW()`

	_, err := repo.db.ExecContext(ctx, query, string(id), successes, failures, latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

// FetchCounters returns cumulative counters per provider. The average
// latency is derived from the running totals.
func (repo *ProviderStatsRepo) FetchCounters(ctx context.Context) (map[provider.ID]repository.ProviderCounters, error) {
	const query = `
SELECT provider, total_requests, successful_requests, failed_requests, total_latency_ms
FROM provider_stats`

	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("FetchCounters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[provider.ID]repository.ProviderCounters)
	for rows.Next() {
		var (
			name           string
			total          uint64
			successes      uint64
			failures       uint64
			totalLatencyMs int64
		)
		if err := rows.Scan(&name, &total, &successes, &failures, &totalLatencyMs); err != nil {
			return nil, fmt.Errorf("FetchCounters: scan: %w", err)
		}
		counters := repository.ProviderCounters{
			TotalRequests:      total,
			SuccessfulRequests: successes,
			FailedRequests:     failures,
		}
		if total > 0 {
			counters.AvgLatencyMs = float64(totalLatencyMs) / float64(total)
		}
		out[provider.ID(name)] = counters
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FetchCounters: rows: %w", err)
	}
	return out, nil
}
