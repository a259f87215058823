// Package compressor implements the provider-specific compression adapters.
// Each adapter applies its own rate limiting against the upstream API and
// reports failures through the tagged provider error taxonomy.
package compressor

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
	"outbound-relay/internal/usecase/compress"
)

const defaultTimeout = 30 * time.Second

// TinyPNGConfig contains configuration for the TinyPNG (tinify) API.
type TinyPNGConfig struct {
	// APIKey authenticates against the tinify API via basic auth.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to the public API;
	// tests point it at a local server.
	BaseURL string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// TinyPNG compresses images through the tinify shrink API. The API is a two
// step flow: upload the source to /shrink, then request the resized output
// from the returned location.
type TinyPNG struct {
	cfg        TinyPNGConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTinyPNG creates a TinyPNG adapter. The limiter allows 5 req/s with a
// burst of 5, well under the tinify account ceiling.
func NewTinyPNG(cfg TinyPNGConfig) *TinyPNG {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.tinify.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &TinyPNG{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(5, 5),
	}
}

// ID returns the provider identifier.
func (t *TinyPNG) ID() provider.ID {
	return provider.TinyPNG
}

// shrinkResponse is the upload step's response body.
type shrinkResponse struct {
	Output struct {
		URL  string `json:"url"`
		Size int64  `json:"size"`
	} `json:"output"`
}

// Compress implements the compression adapter contract.
func (t *TinyPNG) Compress(ctx context.Context, payload []byte, targetWidth int) (*compress.Result, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, provider.Transient(provider.TinyPNG, fmt.Errorf("rate limiter: %w", err))
	}

	outputURL, err := t.shrink(ctx, payload)
	if err != nil {
		return nil, err
	}

	resized, err := t.resize(ctx, outputURL, targetWidth)
	if err != nil {
		return nil, err
	}

	return &compress.Result{
		Bytes:  resized,
		Method: fmt.Sprintf("tinypng-fit-%d", targetWidth),
	}, nil
}

// shrink uploads the source image and returns the staged output URL.
func (t *TinyPNG) shrink(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/shrink", bytes.NewReader(payload))
	if err != nil {
		return "", provider.Permanent(provider.TinyPNG, fmt.Errorf("create request: %w", err))
	}
	req.SetBasicAuth("api", t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", provider.Transient(provider.TinyPNG, fmt.Errorf("upload: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if err := upstream.Classify(provider.TinyPNG, resp.StatusCode, resp.Header, body); err != nil {
		return "", err
	}

	var shrunk shrinkResponse
	if err := json.Unmarshal(body, &shrunk); err != nil || shrunk.Output.URL == "" {
		return "", provider.Transient(provider.TinyPNG, fmt.Errorf("malformed shrink response: %q", body))
	}
	return shrunk.Output.URL, nil
}

// resizeRequest asks the API to fit the staged output into a width.
type resizeRequest struct {
	Resize struct {
		Method string `json:"method"`
		Width  int    `json:"width"`
	} `json:"resize"`
}

// resize fetches the staged output resized to targetWidth.
func (t *TinyPNG) resize(ctx context.Context, outputURL string, targetWidth int) ([]byte, error) {
	var opts resizeRequest
	opts.Resize.Method = "fit"
	opts.Resize.Width = targetWidth

	jsonData, err := json.Marshal(opts)
	if err != nil {
		return nil, provider.Permanent(provider.TinyPNG, fmt.Errorf("marshal resize options: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, outputURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, provider.Permanent(provider.TinyPNG, fmt.Errorf("create request: %w", err))
	}
	req.SetBasicAuth("api", t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, provider.Transient(provider.TinyPNG, fmt.Errorf("download: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Transient(provider.TinyPNG, fmt.Errorf("read output: %w", err))
	}
	if err := upstream.Classify(provider.TinyPNG, resp.StatusCode, resp.Header, body); err != nil {
		return nil, err
	}
	return body, nil
}
