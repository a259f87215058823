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

// DiscordConfig contains configuration for Discord webhook alerts.
type DiscordConfig struct {
	// Enabled indicates whether Discord alerts are enabled
	Enabled bool

	// WebhookURL is the Discord webhook URL (includes authentication token)
	WebhookURL string

	// Timeout is the HTTP request timeout for Discord API calls
	Timeout time.Duration
}

// DiscordAlerter posts circuit transition alerts to Discord via webhook.
type DiscordAlerter struct {
	config      DiscordConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewDiscordAlerter creates a new DiscordAlerter with the specified
// configuration.
//
// The rate limiter is set to 0.5 requests/second with burst of 3
// (Discord Webhook limit: 30 requests per minute).
func NewDiscordAlerter(config DiscordConfig) *DiscordAlerter {
	return &DiscordAlerter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: NewRateLimiter(0.5, 3),
	}
}

// DiscordWebhookPayload represents the JSON payload sent to Discord webhook.
type DiscordWebhookPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed represents a Discord embed message.
type DiscordEmbed struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Color       int                `json:"color"`
	Footer      DiscordEmbedFooter `json:"footer"`
	Timestamp   string             `json:"timestamp"`
}

// DiscordEmbedFooter represents the footer of a Discord embed.
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

const (
	// Discord limits
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	truncationSuffix     = "..."

	// Embed colors per target state
	discordRedColor    = 15548997 // #ED4245
	discordYellowColor = 16705372 // #FEE75C
	discordGreenColor  = 5763719  // #57F287
)

// stateColor maps a circuit state name to an embed color.
func stateColor(state string) int {
	switch state {
	case "open":
		return discordRedColor
	case "half-open":
		return discordYellowColor
	default:
		return discordGreenColor
	}
}

// buildEmbedPayload creates a Discord webhook payload from a transition
// event.
//
// The payload includes:
//   - Title: "Circuit <state>: <provider>" (truncated to 256 chars)
//   - Description: Transition summary with the failure streak
//   - Color: Red for open, yellow for half-open, green for closed
//   - Footer: Service name
//   - Timestamp: Transition time in RFC3339 format
func (d *DiscordAlerter) buildEmbedPayload(e Event) DiscordWebhookPayload {
	title := fmt.Sprintf("Circuit %s: %s", e.To, e.Provider)
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}

	description := fmt.Sprintf("`%s` moved from `%s` to `%s`", e.Provider, e.From, e.To)
	if e.To == "open" {
		description += fmt.Sprintf(" after %d consecutive failures", e.ConsecutiveFailures)
	}
	description = truncateText(description, maxDescriptionLength, truncationSuffix)

	embed := DiscordEmbed{
		Title:       title,
		Description: description,
		Color:       stateColor(e.To),
		Footer: DiscordEmbedFooter{
			Text: "outbound-relay",
		},
		Timestamp: e.At.Format(time.RFC3339),
	}

	return DiscordWebhookPayload{
		Embeds: []DiscordEmbed{embed},
	}
}

// sendWebhookRequest sends one Discord webhook request.
//
// Error types:
//   - 429: Rate limit error (retryable, contains retry_after duration)
//   - 4xx (non-429): Client error (non-retryable)
//   - 5xx: Server error (retryable)
//   - Network error: Connection/timeout error (retryable)
func (d *DiscordAlerter) sendWebhookRequest(ctx context.Context, e Event) error {
	payload := d.buildEmbedPayload(e)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Read response body for error messages
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := extractRetryAfter(resp, body)
		return &RateLimitError{
			Message:    "Discord rate limit exceeded",
			RetryAfter: retryAfter,
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ClientError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Discord API client error: %s", string(body)),
		}
	}

	if resp.StatusCode >= 500 {
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Discord API server error: %s", string(body)),
		}
	}

	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

// sendWebhookRequestWithRetry sends a Discord webhook request with retry
// logic. Same strategy as the Slack alerter: 2 attempts, 5 second base
// delay, retry_after honored on 429, no retry on other 4xx.
func (d *DiscordAlerter) sendWebhookRequestWithRetry(ctx context.Context, e Event) error {
	const (
		maxAttempts = 2
		baseDelay   = 5 * time.Second
	)

	alertID, _ := ctx.Value(alertIDKey).(string)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.sendWebhookRequest(ctx, e)

		if err == nil {
			slog.Info("Discord alert delivered",
				slog.String("alert_id", alertID),
				slog.String("provider", string(e.Provider)),
				slog.String("to_state", e.To),
				slog.Int("attempt", attempt))
			return nil
		}

		lastErr = err

		if rateLimitErr, ok := is429Error(err); ok {
			slog.Warn("Discord rate limit hit, backing off",
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
			slog.Error("Discord alert failed with non-retryable error",
				slog.String("alert_id", alertID),
				slog.String("provider", string(e.Provider)),
				slog.Any("error", err),
				slog.Int("attempt", attempt))
			return err
		}

		if attempt < maxAttempts {
			delay := baseDelay * time.Duration(attempt)
			slog.Warn("Discord webhook request failed, retrying",
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

	slog.Error("Discord alert failed after all retries",
		slog.String("alert_id", alertID),
		slog.String("provider", string(e.Provider)),
		slog.Any("error", lastErr),
		slog.Int("max_attempts", maxAttempts))

	return fmt.Errorf("discord alert failed after %d attempts: %w", maxAttempts, lastErr)
}

// CircuitTransition posts a Discord alert for one circuit state transition.
// This method implements the Alerter interface.
func (d *DiscordAlerter) CircuitTransition(ctx context.Context, e Event) error {
	alertID := uuid.New().String()
	ctx = context.WithValue(ctx, alertIDKey, alertID)

	slog.Info("sending Discord circuit alert",
		slog.String("alert_id", alertID),
		slog.String("provider", string(e.Provider)),
		slog.String("from_state", e.From),
		slog.String("to_state", e.To))

	if err := d.rateLimiter.Allow(ctx); err != nil {
		slog.Error("alert rate limiter error",
			slog.String("alert_id", alertID),
			slog.String("provider", string(e.Provider)),
			slog.Any("error", err))
		return fmt.Errorf("rate limiter error: %w", err)
	}

	return d.sendWebhookRequestWithRetry(ctx, e)
}
