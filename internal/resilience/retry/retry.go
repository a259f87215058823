// Package retry provides the bounded exponential-backoff executor that wraps
// a single provider attempt. It decides retries from the tagged error
// classification in internal/domain/provider, never from message text, and it
// deliberately does not consult the circuit registry: callers decide whether
// an attempt is circuit-admissible before invoking it.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"outbound-relay/internal/domain/provider"
)

// Config holds the configuration for the retry executor.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// JitterFraction is the fraction of delay added as random jitter
	// (0.0 to 1.0) to avoid synchronized retries.
	JitterFraction float64
}

// DefaultConfig returns the default retry configuration for provider calls.
// Two attempts total: provider races already supply redundancy, so the
// per-provider budget stays small.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    2,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.1,
	}
}

// EmailConfig returns the retry configuration for direct email sends, which
// have no race redundancy behind them.
func EmailConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.1,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Do executes fn up to cfg.MaxAttempts times with exponential backoff.
// It returns nil on the first success, or the last error once attempts are
// exhausted. There is no sleep after the final failed attempt.
//
// Retry policy by error kind:
//   - transient: retried
//   - rate-limited: retried, unless the provider-signalled cooldown exceeds
//     the remaining backoff budget, in which case the loop aborts early
//   - permanent: never retried
func Do(ctx context.Context, cfg Config, name provider.ID, fn func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				slog.Info("provider call succeeded after retry",
					slog.String("provider", string(name)),
					slog.Int("attempt", attempt))
			}
			return nil
		}

		kind := provider.KindOf(lastErr)
		if kind == provider.KindPermanent {
			slog.Warn("permanent provider error, not retrying",
				slog.String("provider", string(name)),
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr))
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)

		if kind == provider.KindRateLimited {
			if cooldown := provider.CooldownOf(lastErr); cooldown > cfg.MaxDelay {
				// The provider asked for a longer cooldown than this
				// attempt's backoff budget allows. Give up now and let
				// the circuit bookkeeping handle it.
				slog.Warn("provider cooldown exceeds backoff budget, aborting retries",
					slog.String("provider", string(name)),
					slog.Duration("cooldown", cooldown),
					slog.Duration("max_delay", cfg.MaxDelay))
				break
			}
		}

		slog.Warn("provider call failed, retrying",
			slog.String("provider", string(name)),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("kind", kind.String()),
			slog.Any("error", lastErr))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// backoffDelay computes min(base * 2^(attempt-1), max) plus jitter.
func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << (attempt - 1)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return addJitter(delay, cfg.JitterFraction)
}

// addJitter adds random jitter to a duration to prevent thundering herd.
func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}
	// #nosec G404 -- math/rand is fine for backoff jitter.
	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	return duration + jitter
}
