package retry

import (
	"context"
	"fmt"
	"time"
)

// AttemptOptions bounds a propagation-retry loop.
type AttemptOptions struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultAttemptOptions matches the propagation window observed for IAM
// instance profiles becoming visible to the EC2 launch API.
func DefaultAttemptOptions() AttemptOptions {
	return AttemptOptions{MaxAttempts: 5, Delay: 3 * time.Second}
}

// Attempt invokes op until it succeeds or the attempt budget is exhausted,
// retrying only when isRetryable matches the returned error. Any other
// error is returned immediately so propagation retry cannot mask unrelated
// permanent failures (quota, malformed spec).
func Attempt[T any](ctx context.Context, opts AttemptOptions, op func(context.Context) (T, error), isRetryable func(error) bool) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if !isRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt < opts.MaxAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}
	return zero, fmt.Errorf("gave up after %d attempts: %w", opts.MaxAttempts, lastErr)
}
