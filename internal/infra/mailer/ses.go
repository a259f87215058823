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

// SESConfig contains configuration for the SES v2 outbound email API.
type SESConfig struct {
	// AccessToken authorizes requests. The deployment fronts SES with a
	// signing proxy, so the adapter only carries a bearer token.
	AccessToken string

	// BaseURL overrides the API endpoint for tests.
	BaseURL string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// SES delivers mail through the SES v2 send API.
type SES struct {
	cfg        SESConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSES creates an SES sender with a 14 req/s limiter (burst 14), matching
// the default SES sending rate.
func NewSES(cfg SESConfig) *SES {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://email.us-east-1.amazonaws.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &SES{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(14, 14),
	}
}

// ID returns the provider identifier.
func (s *SES) ID() provider.ID {
	return provider.SES
}

// sesPayload is the v2 SendEmail request body.
type sesPayload struct {
	FromEmailAddress string `json:"FromEmailAddress"`
	Destination      struct {
		ToAddresses []string `json:"ToAddresses"`
	} `json:"Destination"`
	Content struct {
		Simple struct {
			Subject sesText `json:"Subject"`
			Body    struct {
				Text *sesText `json:"Text,omitempty"`
				HTML *sesText `json:"Html,omitempty"`
			} `json:"Body"`
		} `json:"Simple"`
	} `json:"Content"`
}

type sesText struct {
	Data string `json:"Data"`
}

// Send implements the route.Sender contract.
func (s *SES) Send(ctx context.Context, msg route.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return provider.Transient(provider.SES, fmt.Errorf("rate limiter: %w", err))
	}

	var payload sesPayload
	payload.FromEmailAddress = msg.From
	payload.Destination.ToAddresses = []string{msg.To}
	payload.Content.Simple.Subject = sesText{Data: msg.Subject}
	if msg.Text != "" {
		payload.Content.Simple.Body.Text = &sesText{Data: msg.Text}
	}
	if msg.HTML != "" {
		payload.Content.Simple.Body.HTML = &sesText{Data: msg.HTML}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return provider.Permanent(provider.SES, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v2/email/outbound-emails", bytes.NewReader(jsonData))
	if err != nil {
		return provider.Permanent(provider.SES, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return provider.Transient(provider.SES, fmt.Errorf("send: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	return upstream.Classify(provider.SES, resp.StatusCode, resp.Header, body)
}
