// Package resilience groups the fault-tolerance building blocks of the
// orchestrator:
//
//   - circuit: the externally driven per-provider circuit registry that
//     gates outbound provider attempts
//   - retry: bounded exponential-backoff execution of a single provider call
//   - storeguard: a gobreaker-based wrapper protecting the metrics store so
//     a degraded database cannot drag down routing decisions
//
// The provider circuits and the store guard are intentionally different
// machines: provider circuits are driven by explicit RecordSuccess and
// RecordFailure calls (attempts that lose a race still report their outcome
// after the winner returned), while the store guard wraps calls in the usual
// Execute style.
package resilience
