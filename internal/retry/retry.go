// Package retry provides the single backoff policy used by remote-call wrappers.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes how a failed call is retried.
//
// The first attempt is not a retry: a policy with MaxRetries=2 makes at most
// three attempts and sleeps at most twice, BaseDelay then 2*BaseDelay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable reports whether err should be retried. A nil predicate retries nothing.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Delay returns the backoff before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(n-1)))
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries are used up.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			d := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, d, lastErr)
			}
			if err := sleep(ctx, d); err != nil {
				return zero, err
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, &ExhaustedError{Attempts: p.MaxRetries + 1, Last: lastErr}
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
