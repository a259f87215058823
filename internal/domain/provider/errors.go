package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure. Adapters tag every error they
// return so the core never has to pattern-match on message text.
type ErrorKind int

const (
	// KindTransient covers network failures, timeouts and 5xx responses.
	// Transient errors are retried and count against the circuit.
	KindTransient ErrorKind = iota

	// KindRateLimited covers 429-class responses. Counts against the
	// circuit like a transient failure, but a provider-signalled cooldown
	// longer than the backoff budget aborts the retry loop.
	KindRateLimited

	// KindPermanent covers bad input and unsupported formats. Never
	// retried and never counted against the circuit; it is not the
	// provider's fault.
	KindPermanent
)

// String returns a string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a tagged provider failure.
type Error struct {
	Provider ID
	Kind     ErrorKind
	// Cooldown is the provider-requested wait before the next attempt.
	// Only meaningful for KindRateLimited; zero when the provider did not
	// signal one.
	Cooldown time.Duration
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient provider failure.
func Transient(p ID, err error) *Error {
	return &Error{Provider: p, Kind: KindTransient, Err: err}
}

// RateLimited wraps err as a rate-limit failure with an optional cooldown.
func RateLimited(p ID, cooldown time.Duration, err error) *Error {
	return &Error{Provider: p, Kind: KindRateLimited, Cooldown: cooldown, Err: err}
}

// Permanent wraps err as a permanent failure.
func Permanent(p ID, err error) *Error {
	return &Error{Provider: p, Kind: KindPermanent, Err: err}
}

// KindOf extracts the classification from err. Untagged errors are treated
// as transient so an adapter bug degrades to the safe behavior (retry and
// count against the circuit) instead of silently dropping work.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// CooldownOf returns the provider-signalled cooldown, or zero.
func CooldownOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Cooldown
	}
	return 0
}

// CountsAgainstCircuit reports whether err should be recorded as a circuit
// failure. Permanent errors are the caller's problem, not the provider's.
func CountsAgainstCircuit(err error) bool {
	return KindOf(err) != KindPermanent
}
