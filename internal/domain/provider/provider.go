// Package provider defines the provider and job identifiers shared by the
// orchestrator core, along with the tagged error classification that adapters
// use to report failures.
package provider

// ID identifies a third-party provider.
type ID string

// Configured providers. The orchestrator supports a small fixed set; adding a
// provider means adding an adapter and a priority-table entry, not new core
// logic.
const (
	// Image compression providers.
	TinyPNG ID = "tinypng"
	Kraken  ID = "kraken"

	// Email delivery providers.
	SendGrid ID = "sendgrid"
	Mailgun  ID = "mailgun"
	SES      ID = "ses"
)

// CompressionProviders returns the providers that can run compression jobs,
// in default priority order.
func CompressionProviders() []ID {
	return []ID{TinyPNG, Kraken}
}

// EmailProviders returns the providers that can deliver email, in default
// priority order.
func EmailProviders() []ID {
	return []ID{SendGrid, Mailgun, SES}
}

// JobType classifies an outbound email job for routing purposes.
type JobType string

const (
	JobAuth          JobType = "auth"
	JobTransactional JobType = "transactional"
	JobMarketing     JobType = "marketing"
)

// ParseJobType validates a raw job type string.
// Returns false for anything outside the fixed set.
func ParseJobType(s string) (JobType, bool) {
	switch JobType(s) {
	case JobAuth, JobTransactional, JobMarketing:
		return JobType(s), true
	}
	return "", false
}
