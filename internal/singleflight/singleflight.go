package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group manages a set of in-flight calls so that at most one execution per
// key runs at a time. Duplicate callers attach to the running call and
// receive its result.
type Group[V any] struct {
	mu sync.Mutex
	m  map[string]*Call[V]
}

// Call is a shared in-flight (or settled) execution.
type Call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// New creates a new singleflight Group.
func New[V any]() *Group[V] {
	return &Group[V]{
		m: make(map[string]*Call[V]),
	}
}

// GetOrStart returns the call registered for key, or starts fn in its own
// goroutine and registers it. started reports whether fn was started by
// this invocation.
//
// The key is removed from the group when fn returns (or panics), before the
// call is marked done, so a waiter that observes the result never observes
// the key still registered for that call.
func (g *Group[V]) GetOrStart(key string, fn func() (V, error)) (c *Call[V], started bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.m[key]; ok {
		return c, false
	}

	c = &Call[V]{done: make(chan struct{})}
	g.m[key] = c
	go g.run(key, c, fn)
	return c, true
}

func (g *Group[V]) run(key string, c *Call[V], fn func() (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			c.val = zero
			c.err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}

		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()

		close(c.done)
	}()

	c.val, c.err = fn()
}

// Get returns the in-flight call for key, if any.
func (g *Group[V]) Get(key string) (*Call[V], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.m[key]
	return c, ok
}

// Has reports whether a call for key is in flight.
func (g *Group[V]) Has(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.m[key]
	return ok
}

// Len returns the number of in-flight calls.
func (g *Group[V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.m)
}

// ForgetAll removes every key from the group. Running calls still complete
// and deliver their results to the callers already attached to them.
func (g *Group[V]) ForgetAll() {
	g.mu.Lock()
	g.m = make(map[string]*Call[V])
	g.mu.Unlock()
}

// Wait blocks until the call settles or ctx is done. Abandoning the wait
// does not cancel the call.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
