package metrics

import (
	"time"
)

// RecordProviderAttempt records the outcome and latency of one provider
// attempt. Race losers report through the same path as winners.
func RecordProviderAttempt(providerName string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ProviderAttemptsTotal.WithLabelValues(providerName, outcome).Inc()
	ProviderAttemptDuration.WithLabelValues(providerName).Observe(duration.Seconds())
}

// RecordCircuitTransition records a circuit state change. Wired into the
// circuit registry's state-change hook.
func RecordCircuitTransition(providerName, toState string) {
	CircuitTransitionsTotal.WithLabelValues(providerName, toState).Inc()
}

// RecordRaceWin records the winning provider and the time to first success.
func RecordRaceWin(providerName string, duration time.Duration) {
	RaceWinsTotal.WithLabelValues(providerName).Inc()
	RaceDuration.Observe(duration.Seconds())
}

// RecordRaceExhausted records a race where all launched providers failed.
func RecordRaceExhausted() {
	RaceExhaustedTotal.Inc()
}

// RecordRaceNoEligible records a race rejected before launch.
func RecordRaceNoEligible() {
	RaceNoEligibleTotal.Inc()
}

// RecordHealthCache records a health snapshot read. result should be "hit",
// "miss" or "shared" (a concurrent miss that joined an in-flight fetch).
func RecordHealthCache(result string) {
	HealthCacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordHealthFetchFailure records a counters fetch that degraded to safe
// default views.
func RecordHealthFetchFailure() {
	HealthFetchFailuresTotal.Inc()
}

// RecordSelectorFallback records a degraded-fallback recommendation.
func RecordSelectorFallback(jobType string) {
	SelectorFallbacksTotal.WithLabelValues(jobType).Inc()
}

// RecordQuotaUnits records quota units consumed by a successful attempt.
func RecordQuotaUnits(providerName string, units int64) {
	if units <= 0 {
		return
	}
	QuotaUnitsTotal.WithLabelValues(providerName).Add(float64(units))
}
