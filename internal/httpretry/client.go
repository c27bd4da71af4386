// Package httpretry wraps an HTTP client with bounded retries, exponential
// backoff, and jitter. The external platforms this worker talks to throttle
// aggressively; a single 429 must not fail a whole sync pass.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Doer executes HTTP requests. Both *http.Client and *Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries throttled and transient-server responses with exponential
// backoff and full jitter. Client errors (400, 401, 403, 404) are returned
// immediately: retrying a rejected credential only burns quota.
type Client struct {
	inner      Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New wraps inner with up to maxRetries retries after the initial attempt.
// A nil inner uses a default http.Client with a 60s timeout.
func New(inner Doer, maxRetries int) *Client {
	if inner == nil {
		inner = &http.Client{Timeout: 60 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
	}
}

// SetDelays overrides the backoff window (tests).
func (c *Client) SetDelays(base, max time.Duration) {
	c.baseDelay = base
	c.maxDelay = max
}

// Do executes the request, retrying on 429/5xx responses and transient
// network errors. On the final attempt the response is returned as-is so the
// caller can classify the status itself.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := Backoff(attempt, c.baseDelay, c.maxDelay)
			log.Printf("httpretry: attempt %d/%d for %s %s%s after %s",
				attempt, c.maxRetries, req.Method, req.URL.Host, req.URL.Path, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		// Drain for connection reuse before retrying.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// Backoff returns the sleep before retry attempt n (1-based): full jitter
// over min(max, base*2^(n-1)), floored at 100ms to avoid busy-looping.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		exp = float64(max)
	}
	jittered := time.Duration(rand.Float64() * exp)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
