// Package config loads the orchestrator configuration. Thresholds and
// timeouts come from environment variables with defaults; the routing table
// (job-type priorities and daily quota limits) comes from an optional YAML
// file, see routing.go. Nothing here is mutated at runtime.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full orchestrator configuration.
type Config struct {
	// Circuit holds the per-provider circuit thresholds.
	Circuit CircuitConfig

	// Retry holds the backoff settings for race participants.
	Retry RetryConfig

	// EmailRetry holds the backoff settings for direct email sends.
	EmailRetry RetryConfig

	// Health holds the aggregator cache and selector thresholds.
	Health HealthConfig

	// AttemptTimeout bounds a single provider attempt when the incoming
	// request carries no deadline of its own.
	AttemptTimeout time.Duration
}

// CircuitConfig holds circuit breaker thresholds.
type CircuitConfig struct {
	// FailureThreshold is the consecutive failures that open a circuit.
	// Default: 3.
	FailureThreshold uint

	// ResetTimeout is the open-state wait before half-open probing.
	// Default: 60s.
	ResetTimeout time.Duration

	// HalfOpenMaxAttempts is the half-open probe cap. Default: 1.
	HalfOpenMaxAttempts uint
}

// RetryConfig holds retry executor settings.
type RetryConfig struct {
	// MaxAttempts is the total attempts including the first. Default: 2.
	MaxAttempts int

	// BaseDelay is the first backoff delay. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 5s.
	MaxDelay time.Duration
}

// HealthConfig holds health aggregator and selector settings.
type HealthConfig struct {
	// CacheTTL is how long a health snapshot is served before refetching.
	// Default: 60s.
	CacheTTL time.Duration

	// MinHealthThreshold is the score below which the selector skips a
	// provider. Default: 20.
	MinHealthThreshold float64
}

// Load reads the configuration from environment variables, falling back to
// defaults for anything unset or unparsable.
func Load() Config {
	return Config{
		Circuit: CircuitConfig{
			FailureThreshold:    uintFromEnv("CIRCUIT_FAILURE_THRESHOLD", 3),
			ResetTimeout:        durationFromEnv("CIRCUIT_RESET_TIMEOUT", 60*time.Second),
			HalfOpenMaxAttempts: uintFromEnv("CIRCUIT_HALF_OPEN_MAX_ATTEMPTS", 1),
		},
		Retry: RetryConfig{
			MaxAttempts: intFromEnv("RETRY_MAX_ATTEMPTS", 2),
			BaseDelay:   durationFromEnv("RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    durationFromEnv("RETRY_MAX_DELAY", 5*time.Second),
		},
		EmailRetry: RetryConfig{
			MaxAttempts: intFromEnv("EMAIL_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   durationFromEnv("EMAIL_RETRY_BASE_DELAY", time.Second),
			MaxDelay:    durationFromEnv("EMAIL_RETRY_MAX_DELAY", 10*time.Second),
		},
		Health: HealthConfig{
			CacheTTL:           durationFromEnv("HEALTH_CACHE_TTL", 60*time.Second),
			MinHealthThreshold: floatFromEnv("MIN_HEALTH_THRESHOLD", 20),
		},
		AttemptTimeout: durationFromEnv("ATTEMPT_TIMEOUT", 30*time.Second),
	}
}

func intFromEnv(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 {
			return val
		}
	}
	return fallback
}

func uintFromEnv(key string, fallback uint) uint {
	if raw := os.Getenv(key); raw != "" {
		if val, err := strconv.ParseUint(raw, 10, 32); err == nil && val > 0 {
			return uint(val)
		}
	}
	return fallback
}

func floatFromEnv(key string, fallback float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if val, err := strconv.ParseFloat(raw, 64); err == nil && val >= 0 {
			return val
		}
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if val, err := time.ParseDuration(raw); err == nil && val > 0 {
			return val
		}
	}
	return fallback
}
