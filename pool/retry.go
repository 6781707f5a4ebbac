package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/utkarsh5026/fiberpool/internal/algorithms"
)

// BackoffKind selects how the wait between retries grows.
type BackoffKind = algorithms.Kind

const (
	BackoffConstant     = algorithms.Constant
	BackoffExponential  = algorithms.Exponential
	BackoffJittered     = algorithms.Jittered
	BackoffDecorrelated = algorithms.Decorrelated
)

// RetryPolicy configures Retry.
//
// Fields:
//   - MaxAttempts: total attempts including the first one (values < 1 mean 1)
//   - Backoff: delay schedule, BackoffConstant by default
//   - InitialDelay: wait before the first retry
//   - MaxDelay: cap on a single wait, 0 for none
//   - JitterFactor: spread for BackoffJittered, 0.0 to 1.0
//   - RetryIf: optional predicate, an error it rejects is returned at once
//   - OnRetry: optional hook called before each wait with the failed attempt number (1-based)
type RetryPolicy struct {
	MaxAttempts  int
	Backoff      BackoffKind
	InitialDelay time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	RetryIf      func(err error) bool
	OnRetry      func(attempt int, err error, wait time.Duration)
}

// Retry wraps task so that it is attempted up to policy.MaxAttempts
// times. The pool sees the wrapped task as one unit of work: it occupies
// one slot for all of its attempts and settles once.
//
// The last error is returned as is. Waiting is abandoned with ctx.Err()
// when the task context is done.
//
// Example:
//
//	task := pool.Retry(fetchPage(page), pool.RetryPolicy{
//	    MaxAttempts:  5,
//	    InitialDelay: 10 * time.Second,
//	    OnRetry: func(attempt int, err error, wait time.Duration) {
//	        log.Warnf("page %d failed (attempt %d), retry after %v", page, attempt, wait)
//	    },
//	})
func Retry[T any](task Task[T], policy RetryPolicy) Task[T] {
	attempts := max(policy.MaxAttempts, 1)

	return func(ctx context.Context) (T, error) {
		backoff := algorithms.New(policy.Backoff, policy.InitialDelay, policy.MaxDelay, policy.JitterFactor)

		var (
			value T
			err   error
		)
		for attempt := range attempts {
			if attempt > 0 {
				wait := backoff.Delay(attempt - 1)
				if policy.OnRetry != nil {
					policy.OnRetry(attempt, err, wait)
				}
				if err := sleep(ctx, wait); err != nil {
					var zero T
					return zero, err
				}
			}

			value, err = task(ctx)
			if err == nil {
				return value, nil
			}
			if policy.RetryIf != nil && !policy.RetryIf(err) {
				return value, err
			}
		}
		return value, err
	}
}

// WithTimeout bounds task to d. On expiry the wrapped task returns
// ErrTaskTimeout and frees its pool slot even if the inner task ignores
// its context; the inner goroutine is left to finish on its own.
func WithTimeout[T any](task Task[T], d time.Duration) Task[T] {
	return func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			value T
			err   error
		}
		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome{err: newPanicError(r)}
				}
			}()
			v, err := task(ctx)
			done <- outcome{value: v, err: err}
		}()

		select {
		case o := <-done:
			return o.value, o.err
		case <-ctx.Done():
			var zero T
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w after %v", ErrTaskTimeout, d)
			}
			return zero, ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
