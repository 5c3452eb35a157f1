package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pollOpts(max int) PollOptions {
	return PollOptions{MaxAttempts: max, Delay: 0, What: "test resource"}
}

func TestPoll_SuccessAfterTransitionalStates(t *testing.T) {
	t.Parallel()
	calls := 0
	describe := func(context.Context) (string, error) {
		calls++
		if calls < 4 {
			return "creating", nil
		}
		return "available", nil
	}

	state, err := Poll(context.Background(), pollOpts(60), describe,
		func(s string) bool { return s == "available" },
		func(s string) bool { return s == "error" },
		func(s string) string { return s })

	require.NoError(t, err)
	assert.Equal(t, "available", state)
	assert.Equal(t, 4, calls, "expected exactly 4 describe calls")
}

func TestPoll_ImmediateReturnWhenAlreadyInTargetState(t *testing.T) {
	t.Parallel()
	calls := 0
	describe := func(context.Context) (string, error) {
		calls++
		return "available", nil
	}

	_, err := Poll(context.Background(), pollOpts(60), describe,
		func(s string) bool { return s == "available" },
		nil,
		func(s string) string { return s })

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPoll_FatalStateStopsImmediately(t *testing.T) {
	t.Parallel()
	calls := 0
	describe := func(context.Context) (string, error) {
		calls++
		return "error", nil
	}

	_, err := Poll(context.Background(), pollOpts(60), describe,
		func(s string) bool { return s == "available" },
		func(s string) bool { return s == "error" },
		func(s string) string { return s })

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "error", stateErr.State)
	assert.Equal(t, 1, calls, "fatal detection must not keep polling")
}

func TestPoll_TimeoutCarriesLastState(t *testing.T) {
	t.Parallel()
	describe := func(context.Context) (string, error) {
		return "creating", nil
	}

	_, err := Poll(context.Background(), pollOpts(3), describe,
		func(s string) bool { return s == "available" },
		nil,
		func(s string) string { return s })

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "creating", timeoutErr.LastState)
	assert.Equal(t, 3, timeoutErr.Attempts)
}

func TestPoll_DescribeErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("describe failed")
	describe := func(context.Context) (string, error) {
		return "", boom
	}

	_, err := Poll(context.Background(), pollOpts(5), describe,
		func(s string) bool { return false },
		nil,
		func(s string) string { return s })

	assert.ErrorIs(t, err, boom)
}

func TestPoll_ContextCancellationBetweenAttempts(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	describe := func(context.Context) (string, error) {
		calls++
		cancel()
		return "creating", nil
	}

	_, err := Poll(ctx, PollOptions{MaxAttempts: 10, Delay: 0, What: "x"}, describe,
		func(s string) bool { return false },
		nil,
		func(s string) string { return s })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
