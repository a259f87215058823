package mailer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/infra/upstream"
	"outbound-relay/internal/usecase/route"
)

// MailgunConfig contains configuration for the Mailgun messages API.
type MailgunConfig struct {
	// APIKey authenticates via basic auth as user "api".
	APIKey string

	// Domain is the sending domain registered with Mailgun.
	Domain string

	// BaseURL overrides the API endpoint for tests.
	BaseURL string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// Mailgun delivers mail through the Mailgun v3 messages API, which takes a
// form-encoded body rather than JSON.
type Mailgun struct {
	cfg        MailgunConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewMailgun creates a Mailgun sender with a 5 req/s limiter (burst 10).
func NewMailgun(cfg MailgunConfig) *Mailgun {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mailgun.net"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Mailgun{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(5, 10),
	}
}

// ID returns the provider identifier.
func (m *Mailgun) ID() provider.ID {
	return provider.Mailgun
}

// Send implements the route.Sender contract.
func (m *Mailgun) Send(ctx context.Context, msg route.Message) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return provider.Transient(provider.Mailgun, fmt.Errorf("rate limiter: %w", err))
	}

	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}

	endpoint := fmt.Sprintf("%s/v3/%s/messages", m.cfg.BaseURL, m.cfg.Domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return provider.Permanent(provider.Mailgun, fmt.Errorf("create request: %w", err))
	}
	req.SetBasicAuth("api", m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return provider.Transient(provider.Mailgun, fmt.Errorf("send: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	return upstream.Classify(provider.Mailgun, resp.StatusCode, resp.Header, body)
}
