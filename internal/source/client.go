// Package source talks to the remote timetable data API. Responses are
// returned as raw bytes; the cache layer owns parsing.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Daryl2002/timetable-cache/internal/platform/observability"
	"github.com/Daryl2002/timetable-cache/internal/platform/resilience"
)

// Fetcher retrieves the raw body of a resource URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Client is the HTTP implementation of Fetcher with retry and a
// circuit breaker around the source API.
type Client struct {
	client   *http.Client
	logger   *observability.Logger
	retryCfg resilience.RetryConfig
	cb       *resilience.CircuitBreaker
}

// ClientConfig holds source client configuration
type ClientConfig struct {
	Timeout        time.Duration
	Logger         *observability.Logger
	RetryConfig    resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

// NewClient creates a new source API client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	cb := cfg.CircuitBreaker
	if cb == nil {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "source",
		})
	}

	return &Client{
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger,
		retryCfg: cfg.RetryConfig,
		cb:       cb,
	}
}

// Fetch retrieves url, retrying transient failures. Every attempt goes
// through the circuit breaker; an open breaker aborts the retry loop.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	body, err := resilience.RetryWithResult(ctx, c.retryCfg, isRetryable, func(ctx context.Context) ([]byte, error) {
		return resilience.ExecuteWithResult(c.cb, ctx, func(ctx context.Context) ([]byte, error) {
			return c.doRequest(ctx, url)
		})
	})

	duration := time.Since(start)
	if err != nil {
		c.logger.LogWarn(ctx, "source fetch failed",
			"url", url,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	c.logger.LogDebug(ctx, "source fetch completed",
		"url", url,
		"bytes", len(body),
		"duration_ms", duration.Milliseconds(),
	)
	return body, nil
}

// doRequest performs a single GET against the source API
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// isRetryable reports whether a fetch attempt is worth repeating.
// Client errors other than 429 are deterministic; an open breaker means
// the source is already known to be down.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	if strings.Contains(msg, "status code 4") && !strings.Contains(msg, "status code 429") {
		return false
	}
	return true
}
