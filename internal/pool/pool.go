// Package pool implements the throttled worker pool of spec §4.3: a plain
// bounded pool for source calls, and a bounded-plus-rolling-window pool for
// target calls. The bounded-concurrency shape (semaphore-guarded goroutines,
// context-cancellation drains in-flight work without admitting new work) is
// grounded on the teacher's internal/infrastructure/publishing/queue.go
// worker pool. The rolling-window throttle is delegated to
// github.com/ulule/limiter/v3 (pulled from the compozy example in the pack),
// which implements exactly the "at most R submissions per I seconds" GCRA-style
// window spec §4.3 calls for, instead of hand-rolling a sliding window.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Future is the awaitable handle returned by Submit.
type Future struct {
	done chan error
}

// Wait blocks until the submitted task completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case err := <-f.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SourcePool is a plain bounded pool (spec §4.3: "source pool is a plain
// bounded pool").
type SourcePool struct {
	sem chan struct{}
}

// NewSourcePool creates a pool admitting at most size concurrent tasks.
func NewSourcePool(size int) *SourcePool {
	if size <= 0 {
		size = 1
	}
	return &SourcePool{sem: make(chan struct{}, size)}
}

// Submit schedules task for execution, blocking the caller's goroutine only
// long enough to acquire a slot; the returned Future resolves when the task
// itself finishes. If ctx is already done, no slot is acquired and no task
// starts (spec §5 cancellation: "no new tasks are started").
func (p *SourcePool) Submit(ctx context.Context, task func(ctx context.Context) error) (*Future, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f := &Future{done: make(chan error, 1)}
	go func() {
		defer func() { <-p.sem }()
		f.done <- task(ctx)
	}()
	return f, nil
}

// TargetPool is bounded concurrency plus a rolling-window throttle: at most
// Requests submissions per Interval, across all workers (spec §4.3).
type TargetPool struct {
	sem     chan struct{}
	limiter *limiter.Limiter
	key     string
}

// TargetPoolConfig configures the rolling window.
type TargetPoolConfig struct {
	WorkerCount int
	Requests    int64
	Interval    time.Duration
}

// NewTargetPool builds a TargetPool.
func NewTargetPool(cfg TargetPoolConfig) (*TargetPool, error) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	store := memory.NewStore()
	rate := limiter.Rate{
		Period: cfg.Interval,
		Limit:  cfg.Requests,
	}
	lim := limiter.New(store, rate)

	return &TargetPool{
		sem:     make(chan struct{}, cfg.WorkerCount),
		limiter: lim,
		key:     "target-pool",
	}, nil
}

// Submit schedules task, blocking on both the worker semaphore and the
// rolling window before the task body runs. Submissions that would exceed
// the window block (polling the limiter) until a slot frees up, per spec
// §4.3's "block until a slot falls off the window's tail".
func (p *TargetPool) Submit(ctx context.Context, task func(ctx context.Context) error) (*Future, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := p.waitForWindow(ctx); err != nil {
		<-p.sem
		return nil, err
	}

	f := &Future{done: make(chan error, 1)}
	go func() {
		defer func() { <-p.sem }()
		f.done <- task(ctx)
	}()
	return f, nil
}

func (p *TargetPool) waitForWindow(ctx context.Context) error {
	for {
		res, err := p.limiter.Get(ctx, p.key)
		if err != nil {
			return fmt.Errorf("pool: rolling window check: %w", err)
		}
		if !res.Reached {
			return nil
		}
		wait := time.Until(time.Unix(0, res.Reset*int64(time.Second)))
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
