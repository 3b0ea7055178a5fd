// Package ratelimit implements the per-minute token regulator shared across
// workers (spec §4.2). The acquire/sleep semantics are grounded on
// original_source/support/rate_limiter.py (a monotonic-clock, single-slot
// regulator, not a bursting token bucket); golang.org/x/time/rate — the
// library the teacher uses for its per-client API rate limiting
// (internal/api/middleware/rate_limit.go) — backs the implementation with
// burst fixed at 1 to match that no-burst contract exactly.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter regulates calls to at most requestsPerMinute per minute, process-
// wide, with no burst allowance beyond one slot. A requestsPerMinute of 0
// disables limiting entirely (spec §4.2: "0 = disabled").
type Limiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	limiter           *rate.Limiter
	minInterval       time.Duration
}

// New builds a Limiter for the given requests-per-minute budget.
func New(requestsPerMinute int) *Limiter {
	l := &Limiter{requestsPerMinute: requestsPerMinute}
	if requestsPerMinute > 0 {
		perSecond := float64(requestsPerMinute) / 60.0
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		l.minInterval = time.Duration(float64(time.Minute) / float64(requestsPerMinute))
	}
	return l
}

// Acquire blocks until a slot is available, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.requestsPerMinute <= 0 {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// RetryDelay returns the recommended sleep before retrying a 429 response:
// max(min_interval, 1s), per spec §4.2.
func (l *Limiter) RetryDelay() time.Duration {
	if l.minInterval < time.Second {
		return time.Second
	}
	return l.minInterval
}

// Disabled reports whether rate limiting is turned off.
func (l *Limiter) Disabled() bool {
	return l.requestsPerMinute <= 0
}
