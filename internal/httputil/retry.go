// Package httputil's one retryable-request helper backs the resolver
// loop's single GET per poll — a resolver host being briefly overloaded
// or mid-deploy shouldn't count as a failed poll the way an unresolved
// hostname does.
package httputil

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/breeze-rmm/agent/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls the retry behavior for HTTP requests.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryConfig returns the resolver's per-request retry budget —
// distinct from the resolver's own outer poll backoff, which spans whole
// polls rather than one request's retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// isRetryableStatus returns true for HTTP status codes that are safe to retry.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Do executes an HTTP request with retry logic. The request body must be
// provided separately as a byte slice so it can be replayed on retries.
// Returns the response from the first successful attempt, or nil and the
// last error once every attempt has failed.
func Do(ctx context.Context, client *http.Client, method, url string, body []byte, headers http.Header, cfg RetryConfig) (*http.Response, error) {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBeforeRetry(ctx, attempt, url, delay, cfg.JitterFrac); err != nil {
				return nil, err
			}
			delay = nextDelay(delay, cfg.BackoffFactor, cfg.MaxDelay)
		}

		resp, err := doOnce(ctx, client, method, url, body, headers)
		if err != nil {
			lastErr = err
			continue // network error — retry
		}
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil // success or non-retryable error
		}
		resp.Body.Close()
		lastErr = &RetryableStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	log.Warn("all retries exhausted",
		"method", method,
		"url", url,
		"attempts", cfg.MaxRetries+1,
		"error", lastErr,
	)
	return nil, lastErr
}

// sleepBeforeRetry waits out the jittered backoff delay before a retry
// attempt, returning early if ctx is cancelled first.
func sleepBeforeRetry(ctx context.Context, attempt int, url string, delay time.Duration, jitterFrac float64) error {
	jittered := applyJitter(delay, jitterFrac)
	log.Debug("retrying request", "attempt", attempt, "delay", jittered, "url", url)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jittered):
		return nil
	}
}

// nextDelay applies exponential backoff, capped at maxDelay.
func nextDelay(delay time.Duration, factor float64, maxDelay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * factor)
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// doOnce issues a single attempt of the request; the body is re-wrapped in
// a fresh reader each call since a request body is single-use.
func doOnce(ctx context.Context, client *http.Client, method, url string, body []byte, headers http.Header) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err // not retryable
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	return client.Do(req)
}

// RetryableStatusError indicates the server returned a retryable HTTP status.
type RetryableStatusError struct {
	StatusCode int
	URL        string
}

func (e *RetryableStatusError) Error() string {
	return "request to " + e.URL + " failed after retries with status " + http.StatusText(e.StatusCode)
}

// applyJitter adds ±frac random jitter to a duration.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
