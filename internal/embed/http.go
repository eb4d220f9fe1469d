package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 60 * time.Second
	maxIdleConns        = 100
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// HTTPProvider calls a remote embeddings endpoint.
type HTTPProvider struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	limiter    *rate.Limiter
}

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	Endpoint          string
	APIKey            string
	Model             string
	Dimension         int
	RequestsPerSecond float64
	BurstSize         int
}

// NewHTTPProvider creates a provider backed by a remote embeddings API.
func NewHTTPProvider(opts HTTPOptions) (*HTTPProvider, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("embed: endpoint is required")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("embed: dimension must be positive")
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPProvider{
		httpClient: &http.Client{Transport: transport, Timeout: defaultTimeout},
		endpoint:   opts.Endpoint,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		dimension:  opts.Dimension,
		limiter:    limiter,
	}, nil
}

type embedRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests an embedding for text and unit-normalizes the result.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embedRequest{Model: p.model, Text: text})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, resp.StatusCode, bytes.TrimSpace(data))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrModelUnavailable, err)
	}
	if len(out.Embedding) != p.dimension {
		return nil, fmt.Errorf("%w: expected %d dims, got %d", ErrModelUnavailable, p.dimension, len(out.Embedding))
	}

	return Normalize(out.Embedding), nil
}

// Dimension returns the configured vector width.
func (p *HTTPProvider) Dimension() int {
	return p.dimension
}
