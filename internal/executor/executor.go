// Package executor provides the single shared task executor that the event
// bus and the query dispatcher both run on (spec.md §5): a worker pool
// bounded to the number of hardware threads, built on
// golang.org/x/sync/semaphore plus a sync.WaitGroup for quiescence, so
// submitters never need their own goroutine-management code. Submission
// from inside a running task is supported and does not deadlock: Go spawns
// its goroutine immediately and only blocks acquiring a slot, never on
// another task's completion.
package executor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Executor runs submitted work on a bounded pool of goroutines.
type Executor struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	active int64
}

// New returns an Executor sized to runtime.GOMAXPROCS(0).
func New() *Executor {
	return NewSized(int64(runtime.GOMAXPROCS(0)))
}

// NewSized returns an Executor with a caller-chosen concurrency cap, mainly
// useful for deterministic tests.
func NewSized(capacity int64) *Executor {
	if capacity < 1 {
		capacity = 1
	}
	return &Executor{sem: semaphore.NewWeighted(capacity)}
}

// Go submits fn to run on the pool and returns immediately; fn's goroutine
// waits for a free slot and then runs fn. It returns an error only if ctx
// is already done; if ctx is cancelled while the goroutine waits, fn does
// not run. Safe to call from inside a task already running on this Executor.
func (e *Executor) Go(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.wg.Add(1)
	atomic.AddInt64(&e.active, 1)
	go func() {
		defer e.wg.Done()
		defer atomic.AddInt64(&e.active, -1)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		fn()
	}()
	return nil
}

// GoBackground is Go with context.Background(), for dispatch paths that
// must not be cancelled by a caller's context (event fan-out).
func (e *Executor) GoBackground(fn func()) {
	_ = e.Go(context.Background(), fn)
}

// Wait blocks until every task submitted so far has completed. Used by
// Stop and by tests wanting deterministic quiescence.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// QueueSize returns the number of submitted tasks not yet finished (running
// or waiting for a slot) for SystemStatus
// reporting. It is a snapshot, not a precise count under concurrent load.
func (e *Executor) QueueSize() int64 {
	return atomic.LoadInt64(&e.active)
}
