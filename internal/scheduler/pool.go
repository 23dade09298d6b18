package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 4

// Pool bounds blocking work (inference, synthesis, encoding) so it never
// starves the inbound path.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	busy atomic.Int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int { return p.size }

// Busy returns the number of jobs currently holding a worker slot.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Do runs fn on a pool worker and waits for its result or for ctx to end,
// whichever comes first. When ctx ends first the job keeps its slot until
// fn returns; fn receives ctx and should stop early on its own.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	p.busy.Add(1)

	go func() {
		defer func() {
			p.busy.Add(-1)
			p.sem.Release(1)
		}()
		var r result
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("scheduler: worker panicked", "panic", rec)
				r = result{err: fmt.Errorf("worker panic: %v", rec)}
			}
			ch <- r
		}()
		r.val, r.err = fn(ctx)
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Go is Do for jobs without a result value.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
