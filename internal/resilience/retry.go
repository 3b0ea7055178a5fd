// Package resilience implements the retry-with-backoff policy shared by both
// HTTP clients. The shape (RetryPolicy struct, WithRetry/WithRetryFunc
// generic helpers, context-aware waiting) is carried over from the teacher's
// internal/core/resilience/retry.go; the backoff primitive itself is
// delegated to github.com/sethvargo/go-retry (pulled from the compozy
// example) instead of the teacher's hand-rolled jittered loop, per the
// domain-stack expansion in SPEC_FULL.md.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retrylib "github.com/sethvargo/go-retry"
)

// RetryableErrorChecker decides whether an error should trigger another
// attempt. HTTP clients supply classifiers keyed on status code and network
// error type (spec §4.1's transient-class list).
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// RetryableErrorCheckerFunc adapts a function to RetryableErrorChecker.
type RetryableErrorCheckerFunc func(err error) bool

// IsRetryable implements RetryableErrorChecker.
func (f RetryableErrorCheckerFunc) IsRetryable(err error) bool { return f(err) }

// RetryPolicy configures an exponential-backoff retry loop. Mirrors the
// teacher's RetryPolicy struct field-for-field, swapping the Metrics hook for
// a plain OperationName tag used in log fields.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	ErrorChecker  RetryableErrorChecker
	Logger        *slog.Logger
	OperationName string
}

// DefaultRetryPolicy mirrors spec §4.1: up to 7 attempts (the first call
// plus MaxRetries = 6 retries). Delays start at BaseDelay and double on each
// retry, capped at MaxDelay; backoff() does not read Multiplier.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 6,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 5.0,
		Jitter:     true,
	}
}

// ErrMaxRetriesExceeded is not returned by WithRetry: when the attempts run
// out, WithRetry returns the last operation error wrapped with the operation
// name.
var ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

func (p RetryPolicy) backoff() retrylib.Backoff {
	b := retrylib.NewExponential(p.BaseDelay)
	b = retrylib.WithMaxRetries(uint64(p.MaxRetries), b)
	b = retrylib.WithCappedDuration(p.MaxDelay, b)
	if p.Jitter {
		b = retrylib.WithJitterPercent(10, b)
	}
	return b
}

// WithRetry runs operation, retrying according to policy until it succeeds,
// a non-retryable error is returned, attempts are exhausted, or ctx is done.
func WithRetry(ctx context.Context, policy RetryPolicy, operation func(ctx context.Context) error) error {
	attempt := 0
	err := retrylib.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		opErr := operation(ctx)
		if opErr == nil {
			return nil
		}
		if policy.ErrorChecker != nil && !policy.ErrorChecker.IsRetryable(opErr) {
			return opErr // non-retryable: stop immediately (go-retry treats non-RetryableError as terminal)
		}
		if policy.Logger != nil {
			policy.Logger.Warn("retrying operation",
				slog.String("operation", policy.OperationName),
				slog.Int("attempt", attempt),
				slog.String("error", opErr.Error()))
		}
		return retrylib.RetryableError(opErr)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", policy.OperationName, err)
	}
	return nil
}

// WithRetryFunc is the value-returning generic variant.
func WithRetryFunc[T any](ctx context.Context, policy RetryPolicy, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithRetry(ctx, policy, func(ctx context.Context) error {
		v, opErr := operation(ctx)
		if opErr != nil {
			return opErr
		}
		result = v
		return nil
	})
	return result, err
}
