package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/compass/internal/stream"
)

// withRetry runs fn until it succeeds, fails permanently, or runs out of
// attempts. Only call it for idempotent requests.
func (c *Client) withRetry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.cfg.RetryBackoff
			c.log.Warn().
				Err(err).
				Str("path", what).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying backend call")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// isRetryable reports whether err is a transient failure worth another try:
// a network error or a throttling/server status.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *stream.TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.StatusCode {
	case 0:
		return te.Err != nil
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return stream.StatusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	return stream.StatusCode(err) == http.StatusUnauthorized
}
