package circuit

import (
	"sync"

	"outbound-relay/internal/domain/provider"
)

// Registry tracks one circuit per provider. It is the single process-wide
// source of truth for admission decisions; construct one instance and share
// it, there are no package-level globals.
//
// All methods are safe for concurrent use. Breakers are created lazily on
// first touch so the registry does not need the provider list up front.
type Registry struct {
	cfg   Config
	clock Clock

	onChange func(name string, from, to State)

	mu       sync.Mutex
	breakers map[provider.ID]*breaker
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock substitutes the time source. Used by tests.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithStateChangeHook registers a callback invoked on every state
// transition, after the transition is applied. Used to feed metrics.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry creates a registry with the given thresholds applied to every
// provider circuit.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		clock:    SystemClock{},
		breakers: make(map[provider.ID]*breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) breakerFor(id provider.ID) *breaker {
	b, ok := r.breakers[id]
	if !ok {
		b = newBreaker(r.cfg, r.clock, r.onChange)
		r.breakers[id] = b
	}
	return b
}

// CanAttempt reports whether an attempt against the provider may proceed.
// While half-open, a true return consumes one of the probe slots
// immediately; the caller is expected to follow through with the attempt and
// report its outcome.
func (r *Registry) CanAttempt(id provider.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakerFor(id).canAttempt(string(id))
}

// RecordSuccess feeds a successful attempt outcome back into the circuit.
func (r *Registry) RecordSuccess(id provider.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerFor(id).recordSuccess(string(id))
}

// RecordFailure feeds a failed attempt outcome back into the circuit.
func (r *Registry) RecordFailure(id provider.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerFor(id).recordFailure(string(id))
}

// Snapshot returns a copy of the provider's circuit state, applying the lazy
// Open -> HalfOpen transition first.
func (r *Registry) Snapshot(id provider.ID) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakerFor(id).snapshot(string(id))
}

// SnapshotAll returns the current state of every circuit the registry has
// seen. Used by the worker's persistence mirror and the health endpoint.
func (r *Registry) SnapshotAll() map[provider.ID]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[provider.ID]Snapshot, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.snapshot(string(id))
	}
	return out
}

// Reset forces the provider's circuit back to closed. Manual intervention
// only, exposed through the admin endpoint.
func (r *Registry) Reset(id provider.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerFor(id).reset()
}
