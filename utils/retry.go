package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is matched by the error returned once every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = time.Second
)

// ExhaustedError reports an operation that failed on every attempt.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// RetryPolicy holds the parameters for the retry strategy: attempt n
// (starting at 0) is followed by a wait of BaseDelay * 2^n, capped at
// MaxDelay when it is non-zero.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *Logger

	// Sleep waits for d or until ctx is done. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is ten attempts starting at one second, uncapped.
func DefaultRetryPolicy(logger *Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Logger:      logger,
	}
}

// Backoff returns the wait that follows the given zero-based attempt.
func (r *RetryPolicy) Backoff(attempt int) time.Duration {
	d := r.BaseDelay << uint(attempt)
	if d < r.BaseDelay {
		// shifted past int64
		d = time.Duration(1<<63 - 1)
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// Do executes fn with exponential back-off retry logic.
func (r *RetryPolicy) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, r, operationName, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry runs op until it succeeds, returns a Permanent error, the context is
// cancelled, or MaxAttempts is reached. The final failure is not followed by
// a wait.
func Retry[T any](ctx context.Context, r *RetryPolicy, operationName string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := r.Logger
	if logger == nil {
		logger = NewNopLogger()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, fmt.Errorf("%s: %w", operationName, perm.err)
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt == maxAttempts-1 {
			break
		}
		delay := r.Backoff(attempt)
		logger.Warn("[retry] %s failed (attempt %d/%d): %v; retrying in %v",
			operationName, attempt+1, maxAttempts, err, delay)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	logger.Error("[retry] %s giving up after %d attempts: %v", operationName, maxAttempts, lastErr)
	return zero, &ExhaustedError{Operation: operationName, Attempts: maxAttempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
