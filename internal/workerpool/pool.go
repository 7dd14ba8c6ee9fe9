// Package workerpool implements the bounded FIFO task queue of spec §4.7,
// used by the query engine for background prefetch (the builder fans out
// with errgroup instead). Submit blocks when the queue is full, giving
// backpressure to callers that produce tasks faster than workers can
// drain them.
package workerpool

import (
	"context"
	"runtime"
)

// Future is the handle Submit returns: Wait blocks for the task's result.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task completes, returning its error (if any).
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	fn  func(context.Context) error
	fut *Future
}

// Pool is a bounded FIFO task queue drained by a fixed set of worker
// goroutines (default: runtime.NumCPU(), which counts logical CPUs, not
// physical cores).
type Pool struct {
	tasks  chan task
	cancel context.CancelFunc
}

// New starts a Pool with workers worker goroutines (0 = runtime.NumCPU())
// and a queue that can hold queueSize pending tasks before Submit blocks.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize < 1 {
		queueSize = workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{tasks: make(chan task, queueSize), cancel: cancel}
	for i := 0; i < workers; i++ {
		go p.worker(ctx)
	}
	return p
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			t.fut.err = t.fn(ctx)
			close(t.fut.done)
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues task, blocking until a queue slot is free or ctx is
// canceled. It returns once the task is accepted, not once it has run —
// call Future.Wait for the result.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) (*Future, error) {
	f := &Future{done: make(chan struct{})}
	select {
	case p.tasks <- task{fn: fn, fut: f}:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TrySubmit enqueues fn without blocking, for best-effort background work
// (query engine prefetch) that must never stall the foreground caller
// waiting on a full queue. ok is false if the queue is currently full;
// the caller is expected to simply drop the task in that case.
func (p *Pool) TrySubmit(fn func(context.Context) error) (*Future, bool) {
	f := &Future{done: make(chan struct{})}
	select {
	case p.tasks <- task{fn: fn, fut: f}:
		return f, true
	default:
		return nil, false
	}
}

// Close stops accepting new work and cancels the context handed to
// running tasks. Workers exit as soon as they observe the cancellation,
// so tasks still waiting in the queue may never run.
func (p *Pool) Close() {
	close(p.tasks)
	p.cancel()
}
