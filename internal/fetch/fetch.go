// Package fetch provides the shared HTTP client used for sampling new
// acquisition targets. Plugin fetches go through the plugins themselves;
// this client only serves the analyze step and ad-hoc probes.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"forager/internal/types"
)

const (
	userAgent = "forager/1.0"

	// maxSampleBytes bounds how much of a response body is read when
	// sampling a target for analysis.
	maxSampleBytes = 256 * 1024
)

// Client is a rate-limited HTTP fetcher.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client with the given per-request timeout. Outbound
// requests are limited to one per second with a small burst so repeated
// probes of the same host stay polite.
func New(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// Sample fetches url and returns up to maxSampleBytes of the body.
func (c *Client) Sample(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid fetch target %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &types.TransientError{Err: fmt.Errorf("fetch %s: %w", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &types.TransientError{Err: fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSampleBytes))
	if err != nil {
		return "", &types.TransientError{Err: fmt.Errorf("read %s: %w", url, err)}
	}
	return string(body), nil
}
