package app

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	retryMaxAttempts  = 4
	retryBaseDelay    = 15 * time.Millisecond
	retryJitterFactor = 0.3
)

// retryTx runs fn with bounded exponential backoff, retrying only transaction
// conflicts. Schedule: 0ms, 15ms, 30ms, 60ms (plus jitter against thundering
// herds); everything else fails fast.
func retryTx(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rand.Float64() * float64(delay) * retryJitterFactor)
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrTxConflict) {
			return lastErr
		}
	}
	return lastErr
}
