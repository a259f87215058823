package route

import (
	"fmt"
	"log/slog"

	"outbound-relay/internal/config"
	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/observability/metrics"
	"outbound-relay/internal/resilience/circuit"
)

// Selection is a routing recommendation for one job.
type Selection struct {
	// Provider is the recommended primary.
	Provider provider.ID

	// Reason explains the choice in human-readable form.
	Reason string

	// Alternates are the remaining healthy candidates in priority order,
	// for the caller's own fallback attempts.
	Alternates []provider.ID

	// Degraded is true when no candidate passed the health checks and the
	// first-priority provider was returned anyway.
	Degraded bool
}

// Selector picks a provider for a job type from the current health views.
// It never returns an error: when everything is unhealthy it falls back to
// the first-priority provider, because the caller has no other path to send
// the job.
type Selector struct {
	table        config.RoutingTable
	minThreshold float64
}

// NewSelector creates a selector over the routing table. minThreshold is the
// health score below which a candidate is skipped.
func NewSelector(table config.RoutingTable, minThreshold float64) *Selector {
	return &Selector{table: table, minThreshold: minThreshold}
}

// Select walks the job type's priority list and returns the first candidate
// that is circuit-admissible, has quota remaining and meets the health
// threshold. Later surviving candidates become ordered alternates.
func (s *Selector) Select(jobType provider.JobType, views []View) Selection {
	byID := make(map[provider.ID]View, len(views))
	for _, v := range views {
		byID[v.Provider] = v
	}

	priorities := s.table.Priorities[jobType]
	if len(priorities) == 0 {
		slog.Error("no priority list for job type",
			slog.String("job_type", string(jobType)))
		return Selection{Reason: "no providers configured for job type", Degraded: true}
	}

	var survivors []provider.ID
	var primaryView View

	for _, id := range priorities {
		view, ok := byID[id]
		if !ok {
			slog.Debug("provider missing from health views, skipping",
				slog.String("provider", string(id)),
				slog.String("job_type", string(jobType)))
			continue
		}
		if reason := disqualify(view, s.minThreshold); reason != "" {
			slog.Debug("provider disqualified",
				slog.String("provider", string(id)),
				slog.String("job_type", string(jobType)),
				slog.String("reason", reason))
			continue
		}
		if len(survivors) == 0 {
			primaryView = view
		}
		survivors = append(survivors, id)
	}

	if len(survivors) == 0 {
		primary := priorities[0]
		metrics.RecordSelectorFallback(string(jobType))
		slog.Warn("no healthy provider, returning degraded fallback",
			slog.String("job_type", string(jobType)),
			slog.String("provider", string(primary)))
		return Selection{
			Provider: primary,
			Reason:   "degraded fallback: no candidate passed health checks",
			Degraded: true,
		}
	}

	return Selection{
		Provider: survivors[0],
		Reason: fmt.Sprintf("healthy: score %.1f, quota %d remaining",
			primaryView.HealthScore, primaryView.QuotaRemaining),
		Alternates: survivors[1:],
	}
}

// disqualify returns a non-empty reason when the view fails a health check.
func disqualify(v View, minThreshold float64) string {
	switch {
	case v.CircuitState == circuit.StateOpen:
		return "circuit open"
	case v.QuotaRemaining <= 0:
		return "quota exhausted"
	case v.HealthScore < minThreshold:
		return fmt.Sprintf("score %.1f below threshold %.1f", v.HealthScore, minThreshold)
	}
	return ""
}
