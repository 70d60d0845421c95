package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/redraft/core"
)

// MaxAttempts is the total number of times a call is tried before its last
// error is returned.
const MaxAttempts = 3

// Backoff returns the pause before the attempt following attempt (0-based):
// two seconds doubling per attempt, capped at ten.
func Backoff(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * 2 * time.Second
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

// RetryReason renders the operator-facing explanation shown when a call is
// retried after a fault.
func RetryReason(f core.Fault) string {
	if f == core.FaultRateLimited {
		return "Rate limit reached"
	}
	return "Service temporarily overloaded"
}

// Sleeper pauses between attempts, waking early when ctx is cancelled.
// Injected in tests; production code uses SleepContext.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext sleeps for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier reruns provider calls that fail with a transient fault. All
// implementations share this policy so retry behavior never diverges per
// backend.
type Retrier struct {
	maxAttempts int
	sleep       Sleeper
}

// NewRetrier returns a Retrier with the shared policy: MaxAttempts tries
// separated by Backoff pauses.
func NewRetrier() Retrier {
	return Retrier{maxAttempts: MaxAttempts, sleep: SleepContext}
}

// Do runs call until it succeeds, fails fatally, or exhausts the attempt
// budget. call reports whether the attempt delivered visible output; a
// failure after visible output is never retried, since a live viewer has
// already seen the partial stream.
func (r Retrier) Do(ctx context.Context, onRetry func(attempt, maxAttempts int, reason string), call func() (delivered bool, err error)) error {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		delivered, err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		if delivered || !core.Retryable(err) {
			return err
		}
		if attempt == r.maxAttempts-1 {
			break
		}

		if onRetry != nil {
			onRetry(attempt+1, r.maxAttempts, RetryReason(core.FaultOf(err)))
		}
		if err := r.sleep(ctx, Backoff(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", r.maxAttempts, lastErr)
}
