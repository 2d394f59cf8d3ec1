package retry

import (
	"context"
	"time"
)

// Policy controls how a stage retries. Backoff maps a zero-based attempt
// number to the wait before the next attempt.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(err error) bool
	// Sleep is swappable in tests; nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential returns a backoff of base doubling each attempt:
// base, 2*base, 4*base, ...
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << uint(attempt)
	}
}

// Fixed returns a constant backoff.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Do runs fn up to p.MaxAttempts times, sleeping between attempts.
// It returns nil on the first success, the last error once attempts are
// exhausted, and the context error immediately on cancellation.
func Do(ctx context.Context, p Policy, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = realSleep
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt < p.MaxAttempts-1 && p.Backoff != nil {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
