// Package compress implements the race-to-first-success dispatcher for image
// compression jobs. Eligible providers are launched concurrently; the first
// successful result is returned and the rest run to completion in the
// background so their outcomes still feed circuit and stats bookkeeping.
package compress

import (
	"context"

	"outbound-relay/internal/domain/provider"
)

// Result is the outcome of one successful compression attempt.
type Result struct {
	// Bytes is the compressed image payload.
	Bytes []byte

	// Method is the human-readable label of the transform applied
	// (e.g. "tinypng-resize-1200").
	Method string

	// Cleanup removes any temporary artifact the provider left behind
	// (an uploaded source image, a staged output URL). May be nil. The
	// dispatcher runs it in the background and logs failures; callers
	// never wait on it.
	Cleanup func(ctx context.Context) error
}

// Adapter is a provider-specific compression implementation.
//
// Implementations must:
//   - Respect context cancellation and timeout
//   - Apply their own rate limiting against the upstream API
//   - Tag every returned error with the provider error classification
//     (Transient, RateLimited, Permanent) so the core never inspects
//     message text
//
// All methods must be safe for concurrent use.
type Adapter interface {
	// ID returns the provider this adapter calls.
	ID() provider.ID

	// Compress uploads payload and returns it resized to targetWidth.
	Compress(ctx context.Context, payload []byte, targetWidth int) (*Result, error)
}
