// Package route implements the health-ranked provider selection path for
// outbound email. Unlike the compression race, this path never invokes
// providers speculatively: it recommends a primary and ordered alternates,
// and the send path walks them in order.
package route

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"outbound-relay/internal/config"
	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/observability/metrics"
	"outbound-relay/internal/repository"
	"outbound-relay/internal/resilience/circuit"
)

// latencyPenaltyCap bounds how much slow responses can drag a score down.
const latencyPenaltyCap = 20.0

// View is one provider's health snapshot as seen by the selector.
type View struct {
	Provider       provider.ID
	HealthScore    float64
	QuotaRemaining int64
	DailyLimit     int64
	AvgLatencyMs   float64
	CircuitState   circuit.State
}

// HealthAggregator computes per-provider health views from the stats store,
// quota counters and the circuit registry. Views are cached for a short TTL;
// concurrent cache-miss callers share a single underlying fetch.
//
// The aggregator never fails its callers: when the stats store is degraded it
// serves optimistic defaults (full score, full quota, closed circuit) because
// a caller with no recommendation has nowhere to send the job at all.
type HealthAggregator struct {
	stats    repository.StatsRepository
	quota    repository.QuotaStore
	circuits *circuit.Registry
	table    config.RoutingTable

	providers []provider.ID
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	cached   []View
	cachedAt time.Time

	group singleflight.Group
}

// AggregatorOption configures a HealthAggregator.
type AggregatorOption func(*HealthAggregator)

// WithNow substitutes the time source. Used by tests.
func WithNow(now func() time.Time) AggregatorOption {
	return func(a *HealthAggregator) { a.now = now }
}

// NewHealthAggregator creates an aggregator over the given providers.
//
// Parameters:
//   - stats: counter source (may be backed by a guarded store)
//   - quota: daily usage counters
//   - circuits: shared circuit registry
//   - table: routing table supplying per-provider daily limits
//   - providers: the providers to report on, in display order
//   - ttl: cache lifetime for a computed snapshot
func NewHealthAggregator(
	stats repository.StatsRepository,
	quota repository.QuotaStore,
	circuits *circuit.Registry,
	table config.RoutingTable,
	providers []provider.ID,
	ttl time.Duration,
	opts ...AggregatorOption,
) *HealthAggregator {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	a := &HealthAggregator{
		stats:     stats,
		quota:     quota,
		circuits:  circuits,
		table:     table,
		providers: providers,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Views returns one health view per configured provider. Served from cache
// within the TTL; otherwise recomputed, with concurrent misses deduplicated
// into one fetch.
func (a *HealthAggregator) Views(ctx context.Context) []View {
	a.mu.Lock()
	if a.cached != nil && a.now().Sub(a.cachedAt) < a.ttl {
		views := a.cached
		a.mu.Unlock()
		metrics.RecordHealthCache("hit")
		return views
	}
	a.mu.Unlock()

	result, _, shared := a.group.Do("health", func() (any, error) {
		views := a.fetch(ctx)
		a.mu.Lock()
		a.cached = views
		a.cachedAt = a.now()
		a.mu.Unlock()
		return views, nil
	})

	if shared {
		metrics.RecordHealthCache("shared")
	} else {
		metrics.RecordHealthCache("miss")
	}
	return result.([]View)
}

// Invalidate drops the cached snapshot so the next read recomputes. Used
// after an admin circuit reset, where serving a stale Open state would be
// confusing.
func (a *HealthAggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = nil
}

// fetch recomputes every view from the underlying stores.
func (a *HealthAggregator) fetch(ctx context.Context) []View {
	counters, err := a.stats.FetchCounters(ctx)
	if err != nil {
		metrics.RecordHealthFetchFailure()
		slog.Warn("health counters fetch failed, serving safe defaults",
			slog.Any("error", err))
		return a.defaultViews()
	}

	views := make([]View, 0, len(a.providers))
	for _, id := range a.providers {
		limit := a.table.DailyLimits[id]

		used, quotaErr := a.quota.Used(ctx, id)
		if quotaErr != nil {
			slog.Warn("quota read failed, assuming full quota",
				slog.String("provider", string(id)),
				slog.Any("error", quotaErr))
			used = 0
		}

		c := counters[id]
		snap := a.circuits.Snapshot(id)

		views = append(views, View{
			Provider:       id,
			HealthScore:    healthScore(c),
			QuotaRemaining: remaining(limit, used),
			DailyLimit:     limit,
			AvgLatencyMs:   c.AvgLatencyMs,
			CircuitState:   snap.State,
		})
	}
	return views
}

// defaultViews is the degraded-store fallback: every provider looks healthy
// so the selector can still hand out a recommendation.
func (a *HealthAggregator) defaultViews() []View {
	views := make([]View, 0, len(a.providers))
	for _, id := range a.providers {
		limit := a.table.DailyLimits[id]
		views = append(views, View{
			Provider:       id,
			HealthScore:    100,
			QuotaRemaining: limit,
			DailyLimit:     limit,
			CircuitState:   circuit.StateClosed,
		})
	}
	return views
}

// healthScore derives the 0-100 score from raw counters. A provider with no
// traffic scores 100: it has done nothing wrong yet.
func healthScore(c repository.ProviderCounters) float64 {
	if c.TotalRequests == 0 {
		return 100
	}
	successRate := float64(c.SuccessfulRequests) / float64(c.TotalRequests)
	penalty := c.AvgLatencyMs / 100
	if penalty > latencyPenaltyCap {
		penalty = latencyPenaltyCap
	}
	score := successRate*100 - penalty
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func remaining(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}
