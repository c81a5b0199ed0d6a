// Package discourse adapts the forum host's REST API to the domain host
// interfaces. All writes go through the system API user.
package discourse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
)

// rateLimitKey is the shared budget key for every call against the host.
const rateLimitKey = "discourse_api"

// Client is the low-level REST client. The typed adapters (Topics, Users,
// Groups, Poster) sit on top of it.
type Client struct {
	baseURL    string
	apiKey     string
	apiUser    string
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// Config holds the host connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	// APIUsername is the acting user for API writes, normally "system".
	APIUsername string
	Timeout     time.Duration
}

// NewClient creates a Client. limiter may be nil, in which case calls are not
// throttled locally.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	apiUser := cfg.APIUsername
	if apiUser == "" {
		apiUser = "system"
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiUser:    apiUser,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "discourse_client")),
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) put(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPut, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("discourse: rate limit: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("discourse: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("discourse: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Api-Username", c.apiUser)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discourse: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("discourse: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("discourse: %s %s: %w", method, path, domain.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("discourse: %s %s: status %d: %s",
			method, path, resp.StatusCode, truncate(respBody, 512))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("discourse: decode %s response: %w", path, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
