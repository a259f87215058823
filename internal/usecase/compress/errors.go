package compress

import (
	"errors"
	"fmt"
	"strings"

	"outbound-relay/internal/domain/provider"
)

// ErrNoEligibleProviders is returned when every configured provider is
// rejected by its circuit before the race starts. It is distinct from an
// all-providers-failed aggregate: nothing was even attempted.
var ErrNoEligibleProviders = errors.New("no eligible providers")

// RaceError aggregates the failures of a race in which every launched
// provider failed. Its message names each provider and its failure reason.
type RaceError struct {
	Failures []error
}

// Error implements the error interface.
func (e *RaceError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		parts[i] = failureLine(err)
	}
	return fmt.Sprintf("all providers failed: %s", strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *RaceError) Unwrap() []error {
	return e.Failures
}

// failureLine renders one failure as "provider: reason". The tagged provider
// error already carries that shape; retry wrapping is stripped so the
// aggregate stays readable.
func failureLine(err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}
