package alert

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket so alerters never exceed the webhook
// service's posted limits even when circuits flap.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter allowing requestsPerSecond sustained
// with the given burst capacity.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Allow blocks until a token is available or the context is canceled.
func (r *RateLimiter) Allow(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
