package route

import "errors"

// ErrUnknownJobType is returned when a send request carries a job type
// outside the fixed set.
var ErrUnknownJobType = errors.New("unknown job type")

// ErrNoEligibleProviders is returned when every recommended candidate is
// rejected by its circuit before any send was attempted.
var ErrNoEligibleProviders = errors.New("no eligible providers")
