package provider

import (
	"context"
	"time"
)

const (
	maxAttempts    = 3
	baseBackoff    = 250 * time.Millisecond
	backoffCeiling = 2 * time.Second
)

// withRetry runs fn up to three times with capped exponential backoff
// (250ms·2^attempt, ceiling 2s). Only recoverable errors are retried;
// anything else propagates immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << attempt
			if backoff > backoffCeiling {
				backoff = backoffCeiling
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			return err
		}
	}
	return err
}
