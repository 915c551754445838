// Package graph wraps the Microsoft Graph SDK for calendar operations. It
// provides a [Client] implementing the narrow [EventsAPI] surface the source
// and destination adapters consume, a throttling-aware [Retry] helper, and
// conversion between SDK event models and the package's plain [Event]
// records.
package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
)

const (
	// defaultMaxAttempts is the number of tries before Retry gives up.
	defaultMaxAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval.
	maxDelay = 5 * time.Second

	// maxRetryAfter caps how long a server-sent Retry-After hint may stall
	// a cycle.
	maxRetryAfter = 30 * time.Second
)

// Retry executes fn up to maxAttempts times. Throttled (429) and
// server-side (5xx) Graph failures are retried, waiting out the server's
// Retry-After hint when one is sent and falling back to exponential backoff
// with jitter otherwise. Other Graph errors fail immediately; errors without
// a status code are treated as transport hiccups and retried. It returns nil
// on the first successful call, or a wrapped error containing the last
// failure.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(retryDelay(lastErr, attempt)):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// retryable reports whether another attempt can help. A 404 or 403 will not
// get better by asking again; throttling and server-side failures will.
func retryable(err error) bool {
	var oerr *odataerrors.ODataError
	if !errors.As(err, &oerr) {
		return true
	}
	switch oerr.ResponseStatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryDelay picks the wait before the next attempt: the server's
// Retry-After hint when present and sane, otherwise exponential backoff.
func retryDelay(err error, attempt int) time.Duration {
	var oerr *odataerrors.ODataError
	if errors.As(err, &oerr) && oerr.ResponseHeaders != nil {
		for _, v := range oerr.ResponseHeaders.Get("Retry-After") {
			secs, convErr := strconv.Atoi(v)
			if convErr != nil || secs <= 0 {
				continue
			}
			if d := time.Duration(secs) * time.Second; d <= maxRetryAfter {
				return d
			}
			return maxRetryAfter
		}
	}
	return backoffDelay(attempt)
}

// backoffDelay computes the delay for a given attempt index, applying
// exponential growth with 50–100 % jitter.
func backoffDelay(attempt int) time.Duration {
	delay := baseDelay * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	// Jitter: uniform in [delay/2, delay).
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}
