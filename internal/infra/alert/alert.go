// Package alert delivers operational alerts about circuit state changes to
// chat webhooks. It defines the Alerter interface which allows different
// channels (Slack, Discord) to be used interchangeably through dependency
// injection, plus a no-op implementation for when alerting is disabled.
//
// Implementations handle rate limiting, retries, and error logging
// internally; callers fire and forget through the Dispatcher.
package alert

import (
	"context"
	"time"

	"outbound-relay/internal/domain/provider"
)

// Event describes one circuit state transition.
type Event struct {
	// Provider is the provider whose circuit changed state.
	Provider provider.ID

	// From and To are the state names, e.g. "closed" -> "open".
	From string
	To   string

	// ConsecutiveFailures is the failure streak at transition time.
	ConsecutiveFailures uint

	// At is when the transition was observed.
	At time.Time
}

// Alerter sends a notification about a circuit state transition.
type Alerter interface {
	// CircuitTransition delivers one transition event. Implementations
	// apply their own rate limiting and retry policy and respect context
	// cancellation.
	CircuitTransition(ctx context.Context, e Event) error
}

// NoOpAlerter is used when alerting is disabled so callers never need nil
// checks.
type NoOpAlerter struct{}

// NewNoOpAlerter creates a new NoOpAlerter instance.
func NewNoOpAlerter() *NoOpAlerter {
	return &NoOpAlerter{}
}

// CircuitTransition does nothing and returns nil immediately.
func (n *NoOpAlerter) CircuitTransition(ctx context.Context, e Event) error {
	return nil
}
