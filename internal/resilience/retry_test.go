package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 3
	policy.BaseDelay = time.Millisecond
	policy.OperationName = "test-op"
	policy.ErrorChecker = RetryableErrorCheckerFunc(func(err error) bool { return true })

	attempts := 0
	err := WithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.OperationName = "test-op"
	policy.ErrorChecker = RetryableErrorCheckerFunc(func(err error) bool { return false })

	attempts := 0
	wantErr := errors.New("permanent")
	err := WithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return wantErr
	})

	require.Error(t, err)
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, attempts)
}

func TestWithRetryFunc_ReturnsValue(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.OperationName = "test-op"

	v, err := WithRetryFunc(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}
