// Package gate serializes calls to the model endpoint.
//
// The gate runs one task at a time and serves callers in arrival order.
// Each task is bounded by a hard timeout; when it fires the queue moves on
// and the abandoned task is left to finish on its own with a cancelled
// context.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultHardTimeout bounds one task. It must exceed the model call timeout.
const DefaultHardTimeout = 90 * time.Second

var (
	// ErrHardTimeout is returned when a task overruns the hard timeout.
	// It matches context.DeadlineExceeded under errors.Is.
	ErrHardTimeout = fmt.Errorf("gate: hard timeout exceeded: %w", context.DeadlineExceeded)

	// ErrClosed is returned by Do after Close.
	ErrClosed = errors.New("gate: closed")
)

// Option configures a Gate.
type Option func(*Gate)

// WithDepthObserver registers a callback that receives the number of
// waiting callers every time it changes.
func WithDepthObserver(fn func(waiting int)) Option {
	return func(g *Gate) { g.observe = fn }
}

// Gate is a FIFO single-flight queue.
type Gate struct {
	hardTimeout time.Duration
	observe     func(int)

	mu      sync.Mutex
	busy    bool
	closed  bool
	waiters []*ticket
}

type ticket struct {
	ready chan struct{}
}

// New creates a gate. A non-positive hardTimeout uses DefaultHardTimeout.
func New(hardTimeout time.Duration, opts ...Option) *Gate {
	if hardTimeout <= 0 {
		hardTimeout = DefaultHardTimeout
	}
	g := &Gate{hardTimeout: hardTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do waits for its turn and runs task. The task's context is cancelled when
// the caller's context ends or the hard timeout fires.
func (g *Gate) Do(ctx context.Context, task func(ctx context.Context) error) error {
	t, err := g.enqueue()
	if err != nil {
		return err
	}

	select {
	case <-t.ready:
	case <-ctx.Done():
		if g.abandon(t) {
			return ctx.Err()
		}
		// The turn was granted while we were giving up; pass it on.
		<-t.ready
		g.release()
		return ctx.Err()
	}

	taskCtx, cancel := context.WithTimeout(ctx, g.hardTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- task(taskCtx)
	}()

	select {
	case err := <-done:
		g.release()
		return err
	case <-taskCtx.Done():
		g.release()
		select {
		case err := <-done:
			return err
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrHardTimeout
	}
}

// Pending returns the number of callers waiting for their turn.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Busy reports whether a task currently holds the gate.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Close rejects new callers. Callers already queued are still served.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *Gate) enqueue() (*ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}

	t := &ticket{ready: make(chan struct{})}
	if !g.busy {
		g.busy = true
		close(t.ready)
		return t, nil
	}
	g.waiters = append(g.waiters, t)
	g.report()
	return t, nil
}

// release hands the gate to the next waiter, or marks it idle.
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) == 0 {
		g.busy = false
		return
	}
	next := g.waiters[0]
	g.waiters[0] = nil
	g.waiters = g.waiters[1:]
	close(next.ready)
	g.report()
}

// abandon removes a waiter that has not been granted its turn.
func (g *Gate) abandon(t *ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, w := range g.waiters {
		if w == t {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.report()
			return true
		}
	}
	return false
}

// report must be called with mu held.
func (g *Gate) report() {
	if g.observe != nil {
		g.observe(len(g.waiters))
	}
}
