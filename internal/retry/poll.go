package retry

import (
	"context"
	"fmt"
	"time"
)

// PollOptions bounds a polling loop.
type PollOptions struct {
	// MaxAttempts is the total number of describe calls before giving up.
	MaxAttempts int

	// Delay is the fixed sleep between attempts. Zero is valid and is used
	// in tests to poll without waiting.
	Delay time.Duration

	// What names the awaited resource in errors, e.g. "filesystem fs-0abc".
	What string
}

// TimeoutError is returned when a polling loop exhausts its attempt budget.
// It carries the last observed state for diagnostics.
type TimeoutError struct {
	What      string
	Attempts  int
	LastState string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s after %d attempts (last state: %q)", e.What, e.Attempts, e.LastState)
}

// StateError is returned when a resource enters a state it cannot recover
// from (error, deleted, failed). It is never retried.
type StateError struct {
	What  string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s entered unrecoverable state %q", e.What, e.State)
}

// Poll repeatedly invokes describe until isSuccess reports the target state,
// isFatal reports an unrecoverable state, the attempt budget is exhausted,
// or ctx is cancelled. The observed state is returned alongside the error so
// callers can persist what they last saw.
//
// Errors returned by describe itself propagate immediately; transient API
// failures are expected to be absorbed below this layer.
func Poll[T any](ctx context.Context, opts PollOptions, describe func(context.Context) (T, error), isSuccess func(T) bool, isFatal func(T) bool, stateOf func(T) string) (T, error) {
	var last T
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		state, err := describe(ctx)
		if err != nil {
			return last, err
		}
		last = state

		if isSuccess(state) {
			return state, nil
		}
		if isFatal != nil && isFatal(state) {
			return state, &StateError{What: opts.What, State: stateOf(state)}
		}

		if attempt < opts.MaxAttempts {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}
	return last, &TimeoutError{What: opts.What, Attempts: opts.MaxAttempts, LastState: stateOf(last)}
}
