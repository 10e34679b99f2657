package pipeline

import (
	"context"
	"time"
)

// withRetry runs op up to attempts times with a fixed backoff between tries.
// Store and queue calls in the pipeline are retried this way before the
// failure is reclassified as a batch warning or a fatal send error.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = op(); last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return last
}
