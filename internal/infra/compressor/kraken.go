package compressor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/infra/upstream"
	"outbound-relay/internal/usecase/compress"
)

// KrakenConfig contains configuration for the kraken.io API.
type KrakenConfig struct {
	APIKey    string
	APISecret string

	// BaseURL overrides the API endpoint for tests.
	BaseURL string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// Kraken compresses images through the kraken.io synchronous upload API.
// The response carries a staged download URL; the adapter downloads it and
// schedules deletion of the staged artifact as a cleanup task.
type Kraken struct {
	cfg        KrakenConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewKraken creates a Kraken adapter with a 2 req/s limiter (burst 4).
func NewKraken(cfg KrakenConfig) *Kraken {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Kraken{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(2, 4),
	}
}

// ID returns the provider identifier.
func (k *Kraken) ID() provider.ID {
	return provider.Kraken
}

// uploadRequest is the synchronous (wait:true) upload payload.
type uploadRequest struct {
	Auth struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	} `json:"auth"`
	Wait      bool   `json:"wait"`
	ImageData string `json:"image_data"`
	Resize    struct {
		Width    int    `json:"width"`
		Strategy string `json:"strategy"`
	} `json:"resize"`
}

// uploadResponse is the synchronous upload result.
type uploadResponse struct {
	Success   bool   `json:"success"`
	KrakedURL string `json:"kraked_url"`
	Message   string `json:"message"`
}

// Compress implements the compression adapter contract.
func (k *Kraken) Compress(ctx context.Context, payload []byte, targetWidth int) (*compress.Result, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, provider.Transient(provider.Kraken, fmt.Errorf("rate limiter: %w", err))
	}

	var upload uploadRequest
	upload.Auth.APIKey = k.cfg.APIKey
	upload.Auth.APISecret = k.cfg.APISecret
	upload.Wait = true
	upload.ImageData = base64.StdEncoding.EncodeToString(payload)
	upload.Resize.Width = targetWidth
	upload.Resize.Strategy = "auto"

	jsonData, err := json.Marshal(upload)
	if err != nil {
		return nil, provider.Permanent(provider.Kraken, fmt.Errorf("marshal upload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.cfg.BaseURL+"/v1/upload", bytes.NewReader(jsonData))
	if err != nil {
		return nil, provider.Permanent(provider.Kraken, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, provider.Transient(provider.Kraken, fmt.Errorf("upload: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if err := upstream.Classify(provider.Kraken, resp.StatusCode, resp.Header, body); err != nil {
		return nil, err
	}

	var result uploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, provider.Transient(provider.Kraken, fmt.Errorf("malformed upload response: %q", body))
	}
	if !result.Success || result.KrakedURL == "" {
		return nil, provider.Transient(provider.Kraken, fmt.Errorf("upload rejected: %s", result.Message))
	}

	kraked, err := k.download(ctx, result.KrakedURL)
	if err != nil {
		return nil, err
	}

	return &compress.Result{
		Bytes:  kraked,
		Method: fmt.Sprintf("kraken-resize-%d", targetWidth),
		Cleanup: func(cleanupCtx context.Context) error {
			return k.deleteStaged(cleanupCtx, result.KrakedURL)
		},
	}, nil
}

// download fetches the staged compressed output.
func (k *Kraken) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, provider.Permanent(provider.Kraken, fmt.Errorf("create request: %w", err))
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, provider.Transient(provider.Kraken, fmt.Errorf("download: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Transient(provider.Kraken, fmt.Errorf("read output: %w", err))
	}
	if err := upstream.Classify(provider.Kraken, resp.StatusCode, resp.Header, body); err != nil {
		return nil, err
	}
	return body, nil
}

// deleteStaged removes the staged artifact after the race consumed (or
// discarded) the result. Best-effort: the staging area expires on its own
// anyway.
func (k *Kraken) deleteStaged(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete staged artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delete staged artifact: status %d", resp.StatusCode)
	}
	return nil
}
