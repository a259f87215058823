package respond

import (
	"errors"
	"regexp"
)

// Secrets that can leak through provider or store errors: bearer tokens,
// api_key style query/form parameters, and userinfo embedded in URLs
// (postgres DSNs, basic-auth API endpoints).
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/-]+=*`),
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|password|token)(["']?\s*[:=]\s*["']?)[^\s"'&]+`),
	regexp.MustCompile(`(://[^/:@\s]+:)[^@\s]+(@)`),
}

// Sanitize masks credential-looking substrings in an error message before it
// reaches the logs. The original error is never returned.
func Sanitize(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, p := range secretPatterns {
		msg = p.ReplaceAllString(msg, "${1}***${2}")
	}
	return errors.New(msg)
}
