package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDoSuccessFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(2 * time.Second),
		Sleep:       noSleep(&waits),
	}

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	// 2s, 4s between the three attempts; no sleep after the last.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestDoRetryThenSuccess(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 3, Backoff: Fixed(time.Second), Sleep: noSleep(&waits)}

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, waits, 1)
}

func TestDoNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	p := Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Policy{MaxAttempts: 3}, func() error {
		t.Fatal("fn should not run after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExponentialSequence(t *testing.T) {
	b := Exponential(2 * time.Second)
	assert.Equal(t, 2*time.Second, b(0))
	assert.Equal(t, 4*time.Second, b(1))
	assert.Equal(t, 8*time.Second, b(2))
}

func TestDoValue(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 2, Backoff: Fixed(time.Millisecond), Sleep: noSleep(&waits)}

	calls := 0
	got, err := DoValue(context.Background(), p, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
