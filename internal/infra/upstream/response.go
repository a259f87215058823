// Package upstream classifies third-party API responses into the tagged
// provider error taxonomy. Adapters call Classify after every request so the
// core never inspects status codes or message text itself.
package upstream

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"outbound-relay/internal/domain/provider"
)

const maxErrorBodyBytes = 512

// Classify maps an HTTP response to a tagged provider error, or nil for a
// 2xx status.
//
// Mapping:
//   - 2xx: nil
//   - 429: rate-limited, with the Retry-After cooldown when present
//   - other 4xx: permanent (the request itself is bad; retrying cannot help)
//   - 5xx and anything else: transient
func Classify(id provider.ID, statusCode int, header http.Header, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return provider.RateLimited(id, RetryAfter(header),
			fmt.Errorf("rate limited (429): %s", trimBody(body)))
	case statusCode >= 400 && statusCode < 500:
		return provider.Permanent(id,
			fmt.Errorf("client error (%d): %s", statusCode, trimBody(body)))
	default:
		return provider.Transient(id,
			fmt.Errorf("server error (%d): %s", statusCode, trimBody(body)))
	}
}

// RetryAfter parses the Retry-After header as delay seconds. Returns zero
// when absent or unparsable; HTTP-date form is not worth supporting for the
// APIs we call.
func RetryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// trimBody bounds error bodies so a misbehaving upstream cannot flood logs.
func trimBody(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes]) + "..."
	}
	return string(body)
}
