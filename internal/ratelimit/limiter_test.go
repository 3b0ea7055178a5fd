package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Disabled(t *testing.T) {
	l := New(0)
	require.True(t, l.Disabled())
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_EnforcesMinimumGap(t *testing.T) {
	l := New(600) // 10 req/sec -> min interval 100ms
	require.False(t, l.Disabled())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	elapsed := time.Since(start)
	// 3 acquisitions with burst 1 should take at least ~2 intervals.
	require.GreaterOrEqual(t, elapsed, 180*time.Millisecond)
}

func TestLimiter_RetryDelayFloor(t *testing.T) {
	l := New(6000) // min interval 10ms, well under 1s floor
	require.Equal(t, time.Second, l.RetryDelay())
}
