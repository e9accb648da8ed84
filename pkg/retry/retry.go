// Package retry provides a reusable retry policy for inference calls:
// bounded attempts, exponential backoff, and a pluggable non-retryable
// error predicate. Backoff math lives here so call sites cannot drift.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/echosight/echosight/pkg/errors"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Zero or one means no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Subsequent delays
	// follow BaseDelay * Multiplier^(attempt-1).
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor. 2.0 doubles each attempt.
	Multiplier float64

	// Jitter adds up to ±Jitter fraction of randomness to each delay.
	Jitter float64

	// Retryable decides whether an error is worth another attempt. A nil
	// predicate falls back to DefaultRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for manual analysis requests.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		Retryable:   DefaultRetryable,
	}
}

// NoRetry returns a policy that performs a single attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// DefaultRetryable reports whether an error may succeed on a later attempt.
// Client errors (unauthorized, not found), malformed responses, and
// cancellations are on the deny-list; overload and unknown transport
// failures are retried.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled), errors.IsCanceled(err):
		return false
	case errors.Is(err, errors.ErrUnauthorized),
		errors.Is(err, errors.ErrNotFound),
		errors.IsInvalidResponse(err),
		errors.IsNotConnected(err):
		return false
	}
	return true
}

// ExhaustedError is returned when every attempt has failed with a retryable
// error.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return "retry exhausted after " + e.Elapsed.String() + ": " + e.LastErr.Error()
}

// Unwrap returns the error from the final attempt.
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Do runs fn until it succeeds, a non-retryable error occurs, attempts run
// out, or the context is done. The attempt number passed to fn starts at 1.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}

	return &ExhaustedError{
		Attempts: policy.MaxAttempts,
		Elapsed:  time.Since(start),
		LastErr:  lastErr,
	}
}

// Delay computes the backoff before the retry following the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}
