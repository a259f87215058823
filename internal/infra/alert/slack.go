package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SlackConfig contains configuration for Slack webhook alerts.
type SlackConfig struct {
	// Enabled indicates whether Slack alerts are enabled
	Enabled bool

	// WebhookURL is the Slack Incoming Webhook URL (includes authentication token)
	WebhookURL string

	// Timeout is the HTTP request timeout for Slack API calls
	Timeout time.Duration
}

// SlackAlerter posts circuit transition alerts to Slack via Incoming Webhook.
type SlackAlerter struct {
	config      SlackConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewSlackAlerter creates a new SlackAlerter with the specified configuration.
//
// The rate limiter is set to 1 request/second with burst of 1
// (Slack Webhook limit: 1 message per second).
func NewSlackAlerter(config SlackConfig) *SlackAlerter {
	return &SlackAlerter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: NewRateLimiter(1.0, 1),
	}
}

// SlackWebhookPayload represents the JSON payload sent to Slack webhook using Block Kit.
type SlackWebhookPayload struct {
	Text   string       `json:"text"`   // Fallback text (required)
	Blocks []SlackBlock `json:"blocks"` // Rich formatting blocks
}

// SlackBlock represents a Slack Block Kit block.
type SlackBlock struct {
	Type     string            `json:"type"`               // "section", "context", "divider"
	Text     *SlackTextObject  `json:"text,omitempty"`     // Text content (for section)
	Elements []SlackTextObject `json:"elements,omitempty"` // Elements (for context)
}

// SlackTextObject represents a text object in Slack Block Kit.
type SlackTextObject struct {
	Type string `json:"type"` // "mrkdwn" or "plain_text"
	Text string `json:"text"` // Actual text content
}

const (
	// Slack Block Kit limits
	maxSectionTextLength = 3000
	maxFallbackLength    = 150

	slackTruncationSuffix = "..."
)

// stateEmoji maps a circuit state name to a status emoji for the section
// header.
func stateEmoji(state string) string {
	switch state {
	case "open":
		return ":red_circle:"
	case "half-open":
		return ":large_yellow_circle:"
	default:
		return ":large_green_circle:"
	}
}

// buildBlockKitPayload creates a Slack webhook payload from a transition
// event.
//
// The payload includes:
//   - Text: Fallback text for notifications ("circuit open: kraken")
//   - Section Block: Transition summary with the failure streak
//   - Context Block: Service name + transition timestamp
func (s *SlackAlerter) buildBlockKitPayload(e Event) SlackWebhookPayload {
	fallbackText := fmt.Sprintf("circuit %s: %s", e.To, e.Provider)
	if len(fallbackText) > maxFallbackLength {
		fallbackText = fallbackText[:maxFallbackLength-len(slackTruncationSuffix)] + slackTruncationSuffix
	}

	sectionText := fmt.Sprintf("%s *Circuit state change*\n`%s` moved from `%s` to `%s`",
		stateEmoji(e.To), e.Provider, e.From, e.To)
	if e.To == "open" {
		sectionText += fmt.Sprintf(" after %d consecutive failures", e.ConsecutiveFailures)
	}
	sectionText = truncateText(sectionText, maxSectionTextLength, slackTruncationSuffix)

	contextText := fmt.Sprintf("outbound-relay • %s", e.At.Format(time.RFC3339))

	sectionBlock := SlackBlock{
		Type: "section",
		Text: &SlackTextObject{
			Type: "mrkdwn",
			Text: sectionText,
		},
	}

	contextBlock := SlackBlock{
		Type: "context",
		Elements: []SlackTextObject{
			{
				Type: "mrkdwn",
				Text: contextText,
			},
		},
	}

	return SlackWebhookPayload{
		Text:   fallbackText,
		Blocks: []SlackBlock{sectionBlock, contextBlock},
	}
}

// sendWebhookRequest sends one Slack webhook request.
//
// Error types:
//   - 429: Rate limit error (retryable, contains retry_after duration)
//   - 4xx (non-429): Client error (non-retryable)
//   - 5xx: Server error (retryable)
//   - Network error: Connection/timeout error (retryable)
func (s *SlackAlerter) sendWebhookRequest(ctx context.Context, e Event) error {
	payload := s.buildBlockKitPayload(e)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Read response body for error messages
	body, _ := io.ReadAll(resp.Body)

	// Slack returns "ok" as plain text on success
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := extractRetryAfter(resp, body)
		return &RateLimitError{
			Message:    "Slack rate limit exceeded",
			RetryAfter: retryAfter,
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ClientError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Slack API client error: %s", string(body)),
		}
	}

	if resp.StatusCode >= 500 {
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Slack API server error: %s", string(body)),
		}
	}

	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

// sendWebhookRequestWithRetry sends a Slack webhook request with retry logic.
//
// Retry strategy:
//   - Max attempts: 2
//   - Base delay: 5 seconds
//   - 429 errors: Use retry_after from Slack response (or Retry-After header)
//   - Server errors (5xx): Exponential backoff (5s, 10s)
//   - Client errors (4xx): No retry, fail immediately
//
// All attempts are logged with alert_id for tracing.
func (s *SlackAlerter) sendWebhookRequestWithRetry(ctx context.Context, e Event) error {
	const (
		maxAttempts = 2
		baseDelay   = 5 * time.Second
	)

	alertID, _ := ctx.Value(alertIDKey).(string)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.sendWebhookRequest(ctx, e)

		if err == nil {
			slog.Info("Slack alert delivered",
				slog.String("alert_id", alertID),
				slog.String("provider", string(e.Provider)),
				slog.String("to_state", e.To),
				slog.Int("attempt", attempt))
			return nil
		}

		lastErr = err

		if rateLimitErr, ok := is429Error(err); ok {
			slog.Warn("Slack rate limit hit, backing off",
				slog.String("alert_id", alertID),
				slog.String("provider", string(e.Provider)),
				slog.Duration("retry_after", rateLimitErr.RetryAfter),
				slog.Int("attempt", attempt))

			select {
			case <-time.After(rateLimitErr.RetryAfter):
				continue
			case <-ctx.Done():
				return fmt.Errorf("context canceled during rate limit backoff: %w", ctx.Err())
			}
		}

		if !isRetryableError(err) {
			slog.Error("Slack alert failed with non-retryable error",
				slog.String("alert_id", alertID),
				slog.String("provider", string(e.Provider)),
				slog.Any("error", err),
				slog.Int("attempt", attempt))
			return err
		}

		if attempt < maxAttempts {
			delay := baseDelay * time.Duration(attempt)
			slog.Warn("Slack webhook request failed, retrying",
				slog.String("alert_id", alertID),
				slog.String("provider", string(e.Provider)),
				slog.Any("error", err),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))

			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}
		}
	}

	slog.Error("Slack alert failed after all retries",
		slog.String("alert_id", alertID),
		slog.String("provider", string(e.Provider)),
		slog.Any("error", lastErr),
		slog.Int("max_attempts", maxAttempts))

	return fmt.Errorf("slack alert failed after %d attempts: %w", maxAttempts, lastErr)
}

// CircuitTransition posts a Slack alert for one circuit state transition.
// This method implements the Alerter interface.
//
// It performs the following steps:
//  1. Generate unique alert_id for tracing
//  2. Apply rate limiting (1 req/s, burst of 1)
//  3. Send webhook request with retry logic
func (s *SlackAlerter) CircuitTransition(ctx context.Context, e Event) error {
	alertID := uuid.New().String()
	ctx = context.WithValue(ctx, alertIDKey, alertID)

	slog.Info("sending Slack circuit alert",
		slog.String("alert_id", alertID),
		slog.String("provider", string(e.Provider)),
		slog.String("from_state", e.From),
		slog.String("to_state", e.To))

	if err := s.rateLimiter.Allow(ctx); err != nil {
		slog.Error("alert rate limiter error",
			slog.String("alert_id", alertID),
			slog.String("provider", string(e.Provider)),
			slog.Any("error", err))
		return fmt.Errorf("rate limiter error: %w", err)
	}

	return s.sendWebhookRequestWithRetry(ctx, e)
}
