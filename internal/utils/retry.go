package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hazard-alert-service/internal/logging"
)

// ErrRetriesExhausted wraps the last error once every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Retry runs fn until it succeeds, returns an error retryable rejects, or
// maxAttempts is reached. A nil retryable retries every error.
func Retry(ctx context.Context, logger *logging.Logger, maxAttempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		lastErr = err
		logger.Debugf("Attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt == maxAttempts {
			break
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}
