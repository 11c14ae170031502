// Package retry implements a fixed-interval retry loop (Do), used by the
// Watcher's pending-mtime bucket read, and an exponential backoff
// calculation (Backoff), used by the Filer's lock acquisition. The Filer's
// data-consistency retries (LockUpdate, ReadJSONWithRetry) run their own
// loops and do not go through Do.
package retry

import (
	"context"
	"time"
)

// Do calls op up to max times, sleeping interval between attempts. op
// returns (done, err): done=true stops the loop successfully, err!=nil with
// done=false is a transient failure worth retrying. The last error is
// returned if max attempts are exhausted without success.
func Do(ctx context.Context, max int, interval time.Duration, op func(attempt int) (done bool, err error)) error {
	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		done, err := op(attempt)
		if done {
			return nil
		}
		lastErr = err
		if attempt == max-1 {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Backoff computes an exponential backoff delay for the given attempt,
// capped at max. Used by the Filer's lock-acquisition retry, distinct from
// the fixed-interval Do loop.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
