package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls retry behaviour for provider HTTP calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status warrants a retry.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value (seconds form only).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RetryDo runs fn with exponential backoff on retryable errors.
// Rate-limit responses honor the server's Retry-After when given.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := cfg.BaseDelay
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			var httpErr *HTTPError
			if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > 0 {
				wait = httpErr.RetryAfter
			}
			if wait > cfg.MaxDelay {
				wait = cfg.MaxDelay
			}
			slog.Warn("provider: retrying request", "attempt", attempt, "wait", wait, "error", lastErr)

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			delay *= 2
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("retries exhausted: %w", lastErr)
}
