package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// RetryDirected is Retry for servers that direct their own backoff: fn
// reports how long to wait before the next attempt and whether the failure
// is terminal. Terminal failures stop immediately; a zero wait falls back to
// baseDelay with exponential growth.
func RetryDirected(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() (wait time.Duration, terminal bool, err error)) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var wait time.Duration
		var terminal bool
		wait, terminal, err = fn()
		if err == nil {
			return nil
		}
		if terminal {
			return err
		}

		if attempt < maxAttempts-1 {
			if wait <= 0 {
				wait = delay
				delay *= 2
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return err
}
