// Package repository defines the persistence interfaces the orchestrator
// depends on. Implementations live under internal/infra; schema ownership is
// external to this core.
package repository

import (
	"context"
	"time"

	"outbound-relay/internal/domain/provider"
)

// ProviderCounters are the raw per-provider counters persisted by the stats
// store. Health scores are derived from these, never stored.
type ProviderCounters struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	AvgLatencyMs       float64
}

// StatsRepository mirrors attempt outcomes to a durable store and serves the
// counters the health aggregator ranks providers by.
//
// Writes are best-effort: the in-process circuit registry stays authoritative
// for same-instance decisions, and a failed mirror write must never fail the
// job that produced it.
type StatsRepository interface {
	// RecordAttempt persists one attempt outcome.
	RecordAttempt(ctx context.Context, id provider.ID, success bool, latency time.Duration) error

	// FetchCounters returns the cumulative counters for every provider
	// that has recorded at least one attempt.
	FetchCounters(ctx context.Context) (map[provider.ID]ProviderCounters, error)
}

// CircuitMirror persists point-in-time circuit snapshots for cross-instance
// visibility. The mirror is opportunistic: readers treat it as eventually
// consistent and the in-process registry always wins for local decisions.
type CircuitMirror interface {
	// MirrorCircuit upserts the latest snapshot for one provider.
	MirrorCircuit(ctx context.Context, id provider.ID, state string, consecutiveFailures uint, lastFailure time.Time) error
}

// QuotaStore tracks daily units used per provider (emails sent, bytes
// processed). A day's record is created lazily on first use; date rollover
// is implicit because a new day is just an absent key.
type QuotaStore interface {
	// Add records units consumed by a successful attempt.
	Add(ctx context.Context, id provider.ID, units int64) error

	// Used returns the units consumed today.
	Used(ctx context.Context, id provider.ID) (int64, error)
}
