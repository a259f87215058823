// Package storeguard protects calls to the persisted metrics/quota store
// with a circuit breaker. It uses the github.com/sony/gobreaker library: the
// store is a conventional request/response dependency, so the Execute style
// fits, unlike the externally driven provider circuits in
// internal/resilience/circuit.
package storeguard

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the configuration for a store guard breaker.
type Config struct {
	// Name is the breaker name for logging.
	Name string

	// MaxRequests is the maximum number of requests allowed in half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state to clear counts.
	Interval time.Duration

	// Timeout is how long to wait in open state before trying again.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the circuit.
	FailureThreshold float64

	// MinRequests is the minimum number of requests before the ratio is
	// evaluated.
	MinRequests uint32
}

// StatsStoreConfig returns configuration for the provider stats database.
// Trips on sustained total failure so a flapping database degrades the
// health view to safe defaults instead of stalling every routing request.
func StatsStoreConfig() Config {
	return Config{
		Name:             "stats-store",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 1.0,
		MinRequests:      5,
	}
}

// QuotaStoreConfig returns configuration for the redis quota counters.
func QuotaStoreConfig() Config {
	return Config{
		Name:             "quota-store",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 1.0,
		MinRequests:      5,
	}
}

// Guard wraps gobreaker.CircuitBreaker.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a guard with the given configuration.
func New(cfg Config) *Guard {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("store guard state changed",
				slog.String("store", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &Guard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn through the breaker. If the circuit is open it returns
// gobreaker.ErrOpenState immediately without touching the store.
func (g *Guard) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return g.breaker.Execute(fn)
}

// State returns the current breaker state.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// Name returns the guard name.
func (g *Guard) Name() string {
	return g.name
}

// IsOpen returns true if the breaker is in the open state.
func (g *Guard) IsOpen() bool {
	return g.breaker.State() == gobreaker.StateOpen
}
