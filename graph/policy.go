package graph

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines automatic retry configuration for transient failures of
// external calls made by a step.
//
// Exponential backoff with jitter is used between attempts. Retries never
// cross step boundaries: a step either succeeds within its attempts or
// degrades.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// If nil, no error is retried.
	Retryable func(error) bool
}

// computeBackoff calculates the delay before the next attempt:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = first retry). rng may be nil, in which case the
// package-level source is used.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && (exponentialDelay > maxDelay || exponentialDelay <= 0) {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponentialDelay + jitter
}

// Validate checks if the RetryPolicy configuration is valid.
//   - MaxAttempts must be >= 1
//   - BaseDelay and MaxDelay must not be negative
//   - if both are > 0, MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// retryHook is invoked before sleeping ahead of another attempt.
type retryHook func(attempt int, err error)

// do runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. Each attempt gets its own deadline of
// callTimeout (zero means the attempt inherits ctx as-is).
//
// It returns the number of attempts made and the last error.
func (rp RetryPolicy) do(ctx context.Context, callTimeout time.Duration, onRetry retryHook, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := rp.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = callWithTimeout(ctx, callTimeout, fn)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}
		if attempt == maxAttempts || rp.Retryable == nil || !rp.Retryable(err) {
			return attempt, err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		delay := computeBackoff(attempt-1, rp.BaseDelay, rp.MaxDelay, nil)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
	return maxAttempts, err
}
