package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy configures a retry strategy.
// Kept deliberately small: a handful of knobs cover the cases a gateway's
// upstream call actually needs, rather than a general-purpose policy DSL.
type RetryPolicy struct {
	MaxRetries      int                                               // maximum retry attempts (0 disables retry)
	InitialDelay    time.Duration                                     // delay before the first retry
	MaxDelay        time.Duration                                     // delay ceiling
	Multiplier      float64                                           // exponential backoff multiplier
	Jitter          bool                                              // add +/-25% randomized jitter
	RetryableErrors []error                                           // retryable error set; empty means retry everything
	OnRetry         func(attempt int, err error, delay time.Duration) // fires before each retry sleep
}

// DefaultRetryPolicy returns sane defaults for an LLM upstream call.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer retries a function according to a RetryPolicy.
type Retryer interface {
	// Do runs fn, retrying on failure per the policy.
	Do(ctx context.Context, fn func() error) error

	// DoWithResult runs fn and returns its result, retrying on failure per
	// the policy.
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)

	// NextDelay returns the backoff delay that would be applied before the
	// given attempt number (1-indexed: the delay preceding the first
	// retry), without sleeping or invoking anything. Callers that drive
	// their own retry loop around something other than a plain fn() — as
	// internal/router does, interleaving deployment selection and cooldown
	// bookkeeping between attempts — use this instead of DoWithResult.
	NextDelay(attempt int) time.Duration
}

// backoffRetryer is the exponential-backoff Retryer implementation.
type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer creates an exponential-backoff Retryer.
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
	}
}

// Do implements Retryer.Do.
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult implements Retryer.DoWithResult: exponential backoff, optional
// jitter, and error-type filtering.
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// First attempt runs immediately, no delay.
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn()

		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return nil, lastErr
		}

		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// NextDelay implements Retryer.NextDelay.
func (r *backoffRetryer) NextDelay(attempt int) time.Duration {
	return r.calculateDelay(attempt)
}

// calculateDelay computes the exponential-backoff delay for attempt
// (1-indexed), with an optional +/-25% jitter to avoid synchronized
// thundering-herd retries across clients.
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// isRetryable reports whether err should trigger another attempt.
func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// No configured allowlist means every error is retryable.
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}

// RetryableError marks a wrapped error as eligible for retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError reports whether err was wrapped by WrapRetryable.
// Note this differs from types.IsRetryable: this checks for the
// *RetryableError wrapper type, while types.IsRetryable checks a
// *types.Error's Retryable field.
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// IsRetryable is an alias for IsRetryableError.
//
// Deprecated: use IsRetryableError to avoid confusion with types.IsRetryable.
var IsRetryable = IsRetryableError

// WrapRetryable wraps err so IsRetryableError reports it as retryable.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
