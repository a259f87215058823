// Package circuit implements the per-provider circuit breaker used to gate
// outbound provider attempts. Unlike the store-level breaker in
// internal/resilience/storeguard, this state machine is driven externally:
// callers ask CanAttempt before calling a provider and report the outcome
// with RecordSuccess/RecordFailure, which lets attempts that finish after a
// race has already been won still feed their results back in.
package circuit

import (
	"log/slog"
	"time"
)

// State represents the current state of a provider circuit.
type State int

const (
	// StateClosed allows traffic. Normal operation.
	StateClosed State = iota

	// StateOpen rejects traffic until the reset timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe attempts to test
	// provider recovery.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Clock provides time abstraction for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Config holds the thresholds for a provider circuit.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 3.
	FailureThreshold uint

	// ResetTimeout is how long an open circuit waits before admitting
	// half-open probes. Default: 60 seconds.
	ResetTimeout time.Duration

	// HalfOpenMaxAttempts is the number of concurrent probes admitted
	// while half-open. Default: 1.
	HalfOpenMaxAttempts uint
}

// DefaultConfig returns the default circuit thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    3,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxAttempts == 0 {
		c.HalfOpenMaxAttempts = 1
	}
	return c
}

// Snapshot is a point-in-time copy of a circuit's bookkeeping.
type Snapshot struct {
	State                State
	ConsecutiveFailures  uint
	ConsecutiveSuccesses uint
	LastFailureTime      time.Time
	HalfOpenProbesUsed   uint
}

// breaker holds the state machine for one provider. All methods are called
// with the registry lock held; the breaker itself is not safe for concurrent
// use on its own.
type breaker struct {
	cfg      Config
	clock    Clock
	onChange func(name string, from, to State)

	state                State
	consecutiveFailures  uint
	consecutiveSuccesses uint
	lastFailureTime      time.Time
	halfOpenProbesUsed   uint
}

func newBreaker(cfg Config, clock Clock, onChange func(name string, from, to State)) *breaker {
	return &breaker{cfg: cfg, clock: clock, onChange: onChange, state: StateClosed}
}

// maybeRecover performs the lazy Open -> HalfOpen transition. It runs on
// every read so the transition happens on whichever caller observes the
// elapsed timeout first.
func (b *breaker) maybeRecover(name string) {
	if b.state != StateOpen {
		return
	}
	if b.clock.Now().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
		b.transition(name, StateHalfOpen)
		b.halfOpenProbesUsed = 0
	}
}

// canAttempt reports whether an attempt may proceed, counting the admission
// immediately when half-open so concurrent callers cannot exceed the probe
// cap.
func (b *breaker) canAttempt(name string) bool {
	b.maybeRecover(name)

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.halfOpenProbesUsed >= b.cfg.HalfOpenMaxAttempts {
			return false
		}
		b.halfOpenProbesUsed++
		return true
	default:
		return false
	}
}

func (b *breaker) recordSuccess(name string) {
	b.maybeRecover(name)

	b.consecutiveSuccesses++
	switch b.state {
	case StateHalfOpen:
		b.consecutiveFailures = 0
		b.halfOpenProbesUsed = 0
		b.transition(name, StateClosed)
	case StateClosed:
		b.consecutiveFailures = 0
	case StateOpen:
		// A straggler from a lost race finished after the circuit
		// opened. The success is counted but does not short-circuit
		// the reset timeout.
	}
}

func (b *breaker) recordFailure(name string) {
	b.maybeRecover(name)

	b.consecutiveFailures++
	b.consecutiveSuccesses = 0

	switch b.state {
	case StateHalfOpen:
		// A failed probe reopens the circuit and restarts the timer.
		b.lastFailureTime = b.clock.Now()
		b.transition(name, StateOpen)
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.lastFailureTime = b.clock.Now()
			b.transition(name, StateOpen)
		}
	case StateOpen:
		// Straggler failure while already open. Counted, but the timer
		// is not refreshed so recovery probing is not pushed out
		// indefinitely by in-flight attempts.
	}
}

func (b *breaker) snapshot(name string) Snapshot {
	b.maybeRecover(name)
	return Snapshot{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailureTime:      b.lastFailureTime,
		HalfOpenProbesUsed:   b.halfOpenProbesUsed,
	}
}

func (b *breaker) reset() {
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.lastFailureTime = time.Time{}
	b.halfOpenProbesUsed = 0
}

func (b *breaker) transition(name string, to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	slog.Warn("circuit state changed",
		slog.String("provider", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Uint64("consecutive_failures", uint64(b.consecutiveFailures)))
	if b.onChange != nil {
		b.onChange(name, from, to)
	}
}
