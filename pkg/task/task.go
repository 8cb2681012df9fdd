// Package task runs cancellable background activities that callers can join.
//
// A Task wraps one goroutine and its context. Stop requests cancellation and
// blocks until the goroutine has returned, so a caller never observes a task
// that is "stopping" but still doing work. Long-running loops should suspend
// only through Sleep or other context-aware calls.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a running background activity.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Go starts fn in a new goroutine. The context passed to fn is cancelled by
// Stop or Cancel, or when parent is done.
func Go(parent context.Context, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		err := fn(ctx)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}()
	return t
}

// Cancel requests the task to stop without waiting.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task has returned and reports its error.
// Cancellation is not reported as an error.
func (t *Task) Wait() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	if errors.Is(t.err, context.Canceled) {
		return nil
	}
	return t.err
}

// Stop cancels the task and waits for it to return.
func (t *Task) Stop() error {
	t.cancel()
	return t.Wait()
}

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the task has not yet returned.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every calls fn every period until ctx is done or fn returns an error.
func Every(ctx context.Context, period time.Duration, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// Group runs a fixed set of long-lived loops that stop together.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
}

// NewGroup creates a group whose loops run until Stop or until parent is done.
// The first loop returning a non-nil error cancels the others.
func NewGroup(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Group{ctx: gctx, cancel: cancel, g: g}
}

// Context returns the context shared by the group's loops.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn as part of the group.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.g.Go(func() error { return fn(g.ctx) })
}

// Stop cancels every loop and waits for them to return.
func (g *Group) Stop() error {
	g.cancel()
	err := g.g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
