package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/permitpack/safeio"
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("retrieve: %s: http %d", e.URL, e.Code)
}

// retryable reports whether err is worth another attempt. Client errors
// other than 429 and blocked URLs are final.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, safeio.ErrSSRF) || errors.Is(err, safeio.ErrUnsafeScheme) || errors.Is(err, safeio.ErrTooLarge) {
		return false
	}
	return true
}

// withRetry runs fn up to 1+retries times with exponential backoff,
// stopping early on context cancellation or a non-retryable error.
func withRetry(ctx context.Context, retries int, backoff time.Duration, logger *slog.Logger, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return lastErr
		}
		if attempt < retries {
			wait := backoff * (1 << uint(attempt))
			logger.WarnContext(ctx, "retrieve: retrying",
				"op", op,
				"attempt", attempt+1,
				"max_retries", retries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}
