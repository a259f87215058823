// Package metrics provides centralized Prometheus metrics for the
// orchestrator. All metrics are registered with the default registry and
// exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider attempt metrics track every outbound provider call, including
// race losers that finish after a winner was already chosen.
var (
	// ProviderAttemptsTotal counts provider attempts by provider and outcome.
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_provider_attempts_total",
			Help: "Total provider attempts by provider and outcome (success/failure)",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderAttemptDuration measures provider call latency in seconds.
	ProviderAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_provider_attempt_duration_seconds",
			Help:    "Provider attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// CircuitTransitionsTotal counts circuit state transitions per provider.
	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_circuit_transitions_total",
			Help: "Circuit state transitions by provider and destination state",
		},
		[]string{"provider", "to"},
	)
)

// Race metrics cover the first-success-wins compression dispatcher.
var (
	// RaceWinsTotal counts which provider won each compression race.
	RaceWinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_race_wins_total",
			Help: "Compression race wins by provider",
		},
		[]string{"provider"},
	)

	// RaceDuration measures time to first success in seconds.
	RaceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_race_duration_seconds",
			Help:    "Time from race start to first successful provider result",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RaceExhaustedTotal counts races where every launched provider failed.
	RaceExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_race_exhausted_total",
			Help: "Compression races where all launched providers failed",
		},
	)

	// RaceNoEligibleTotal counts races rejected because no circuit admitted
	// an attempt.
	RaceNoEligibleTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_race_no_eligible_total",
			Help: "Compression requests rejected with no eligible providers",
		},
	)
)

// Routing metrics cover the health aggregator and provider selector.
var (
	// HealthCacheRequestsTotal counts health snapshot reads by cache result.
	HealthCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_health_cache_requests_total",
			Help: "Health snapshot requests by cache result (hit/miss/shared)",
		},
		[]string{"result"},
	)

	// HealthFetchFailuresTotal counts metrics-store fetches that fell back
	// to safe default views.
	HealthFetchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_health_fetch_failures_total",
			Help: "Health counter fetches that degraded to safe defaults",
		},
	)

	// SelectorFallbacksTotal counts degraded-fallback recommendations.
	SelectorFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_selector_fallbacks_total",
			Help: "Routing selections that fell back to the first-priority provider",
		},
		[]string{"job_type"},
	)

	// QuotaUnitsTotal counts quota units consumed per provider.
	QuotaUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_quota_units_total",
			Help: "Daily quota units consumed by provider",
		},
		[]string{"provider"},
	)
)

// HTTP metrics track the request surface.
var (
	// HTTPRequestsTotal counts HTTP requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
