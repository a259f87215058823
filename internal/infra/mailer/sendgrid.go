// Package mailer implements the provider-specific email senders. Each sender
// applies its own rate limiting and reports failures through the tagged
// provider error taxonomy.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/infra/upstream"
	"outbound-relay/internal/usecase/route"
)

const defaultTimeout = 15 * time.Second

// SendGridConfig contains configuration for the SendGrid v3 mail API.
type SendGridConfig struct {
	// APIKey is the bearer token for the v3 API.
	APIKey string

	// BaseURL overrides the API endpoint for tests.
	BaseURL string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// SendGrid delivers mail through the SendGrid v3 send API.
type SendGrid struct {
	cfg        SendGridConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSendGrid creates a SendGrid sender with a 10 req/s limiter (burst 20).
func NewSendGrid(cfg SendGridConfig) *SendGrid {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &SendGrid{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(10, 20),
	}
}

// ID returns the provider identifier.
func (s *SendGrid) ID() provider.ID {
	return provider.SendGrid
}

// sendGridPayload is the v3 send request body.
type sendGridPayload struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func buildSendGridPayload(msg route.Message) sendGridPayload {
	p := sendGridPayload{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To}}}},
		From:             sgAddress{Email: msg.From},
		Subject:          msg.Subject,
	}
	if msg.Text != "" {
		p.Content = append(p.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		p.Content = append(p.Content, sgContent{Type: "text/html", Value: msg.HTML})
	}
	return p
}

// Send implements the route.Sender contract. SendGrid answers 202 on accept.
func (s *SendGrid) Send(ctx context.Context, msg route.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return provider.Transient(provider.SendGrid, fmt.Errorf("rate limiter: %w", err))
	}

	jsonData, err := json.Marshal(buildSendGridPayload(msg))
	if err != nil {
		return provider.Permanent(provider.SendGrid, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(jsonData))
	if err != nil {
		return provider.Permanent(provider.SendGrid, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return provider.Transient(provider.SendGrid, fmt.Errorf("send: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	return upstream.Classify(provider.SendGrid, resp.StatusCode, resp.Header, body)
}
