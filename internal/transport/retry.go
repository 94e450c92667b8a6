package transport

import (
	"context"
	"fmt"
	"time"
)

// ErrRetriesExhausted wraps the last error from a WithRetry call whose
// attempt budget ran out while every failure remained retriable. Callers
// that need to distinguish this from an immediate non-retriable failure or
// a cancelled context (both of which WithRetry returns unwrapped) can
// errors.As against this type.
type ErrRetriesExhausted struct{ Err error }

func (e *ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("retries exhausted: %v", e.Err)
}
func (e *ErrRetriesExhausted) Unwrap() error { return e.Err }

// RetryPolicy configures WithRetry. Grounded on the exponential-backoff
// loop in the teacher's internal/devsync/watcher.go reconnect logic
// (1s, doubling, capped at 30s), generalized into a reusable higher-order
// helper per spec §9 ("Retry decorator... an explicit higher-order helper
// wrapping a callable with (max_attempts, base_delay, max_delay,
// retriable-predicate)").
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retriable decides whether err should trigger another attempt. A nil
	// Retriable retries any non-nil error.
	Retriable func(err error) bool
}

// DefaultRetryPolicy mirrors the teacher's watcher.go constants: up to 6
// attempts, starting at 1s, doubling, capped at 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 6,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
}

// WithRetry calls fn, retrying with exponential backoff per policy while
// ctx is not done and fn's error is retriable. If every attempt fails it
// returns the last error wrapped in *ErrRetriesExhausted; a non-retriable
// error or the context's error is returned unwrapped.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	retriable := policy.Retriable
	if retriable == nil {
		retriable = func(error) bool { return true }
	}

	delay := policy.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return &ErrRetriesExhausted{Err: lastErr}
}
