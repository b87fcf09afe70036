package retry

// Package retry wraps each backend invocation with bounded retries for
// rate-limit style failures. Only errors marked Transient are retried;
// everything else fails immediately so the session can surface it.

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// Policy controls retry behaviour for one wrapped operation.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first (default 3).
	MaxAttempts int
	// InitialDelay is the backoff before the first retry (default 2s).
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff (default 30s).
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy applied beneath every backend call.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retryable (rate limit, overloaded backend).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// RetryableStatus reports whether an HTTP status from a backend should be
// retried: 429 (rate limited) and 503 (overloaded) only.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// Do runs op, retrying transient failures with exponential backoff and
// jitter. The last error is returned once attempts are exhausted. Context
// cancellation aborts both the operation and any pending backoff.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		// Full jitter: sleep a random fraction of the current window.
		sleep := time.Duration(rand.Int63n(int64(delay))) + delay/2
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxAttempts, lastErr)
}
