// Package transport is the shared outbound HTTP client used by every
// external collaborator the trader calls: the Market Source, the News and
// Social collectors, and the LM Client. It centralizes rate limiting,
// retry-with-backoff, and JSON decoding so none of those packages re-
// implement them.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"predictionmarket-trader/internal/logger"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
)

// Client is a rate-limited, retrying JSON HTTP client. One Client is
// shared per external collaborator (market source, news, social, LM) so
// its own limiter governs only calls to that collaborator.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	agent   string
}

// New builds a Client with the given requests-per-second ceiling (burst
// equal to the rate truncated to an integer, and at least 1) and user agent
// string.
func New(userAgent string, requestsPerSecond float64) *Client {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http:    &http.Client{Timeout: 20 * time.Second, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		agent:   userAgent,
	}
}

// isRetryable reports whether an HTTP status indicates a transient error
// worth a retry (§7 transient_io).
func isRetryable(statusCode int) bool {
	return statusCode == 429 || statusCode == 502 || statusCode == 503 || statusCode == 504
}

// GetJSON fetches url and decodes the JSON response body into dst, retrying
// transient failures up to maxRetries times with linear backoff.
func (c *Client) GetJSON(ctx context.Context, url string, dst interface{}) error {
	return c.do(ctx, http.MethodGet, url, nil, dst)
}

// PostJSON POSTs body as JSON to url and decodes the JSON response into
// dst, with the same retry policy as GetJSON.
func (c *Client) PostJSON(ctx context.Context, url string, body, dst interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, encoded, dst)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, dst interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.agent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn("transport", fmt.Sprintf("request failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err))
			continue
		}

		if resp.StatusCode == http.StatusOK {
			decErr := json.NewDecoder(resp.Body).Decode(dst)
			resp.Body.Close()
			return decErr
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("transport: %s %d: %s", url, resp.StatusCode, string(respBody))
		if !isRetryable(resp.StatusCode) {
			return lastErr
		}
		logger.Warn("transport", fmt.Sprintf("retryable %d (attempt %d/%d): %s", resp.StatusCode, attempt+1, maxRetries+1, url))
	}
	return lastErr
}

// GetText fetches url and returns the raw response body as a string,
// retrying with the same policy as GetJSON. Used by the News collector to
// fetch RSS/Atom payloads before parsing.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", c.agent)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			return string(data), err
		}
		resp.Body.Close()
		lastErr = fmt.Errorf("transport: %s %d", url, resp.StatusCode)
		if !isRetryable(resp.StatusCode) {
			return "", lastErr
		}
	}
	return "", lastErr
}
