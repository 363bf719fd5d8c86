// Package eventual reads results that the research backend produces
// asynchronously, retrying on a fixed schedule until they are ready.
package eventual

import (
	"context"
	"time"
)

// Policy controls a retrying read.
type Policy[T any] struct {
	// MaxAttempts is the maximum number of reads issued. Values below 1 are
	// treated as 1.
	MaxAttempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// IsReady reports whether a read returned usable data.
	IsReady func(T) bool
}

// ReadFunc performs one read attempt.
type ReadFunc[T any] func(ctx context.Context) (T, error)

// ReadWithRetry calls read until IsReady accepts its result or the attempt
// budget is spent, waiting Delay between attempts. An attempt whose read
// returns an error counts as not ready.
//
// Exhausting the budget is not an error: the last result is returned as-is
// and callers must treat it as inconclusive. The returned error is non-nil
// only when ctx ends while waiting between attempts.
func ReadWithRetry[T any](ctx context.Context, read ReadFunc[T], policy Policy[T]) (T, int, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last T
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := read(ctx)
		if err == nil {
			last = result
			if policy.IsReady == nil || policy.IsReady(result) {
				return result, attempt, nil
			}
		}

		if attempt == attempts {
			return last, attempt, nil
		}
		if err := sleep(ctx, policy.Delay); err != nil {
			return last, attempt, err
		}
	}
	return last, attempts, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
