// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard wraps RWMutex with scoped lock helpers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Write executes fn while holding the write lock; fn receives a pointer for mutation.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Read runs fn under the read lock and returns its result.
func Read[T, R any](g *RWGuard[T], fn func(T) R) R {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.value)
}

// Update runs fn under the write lock and returns its result.
func Update[T, R any](g *RWGuard[T], fn func(*T) R) R {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// Gate admits one holder at a time and turns everyone else away instead of
// queueing them.
type Gate struct {
	mu sync.Mutex
}

// Enter reports whether the gate was free. When it was, release must be
// called to let the next holder in.
func (g *Gate) Enter() (release func(), ok bool) {
	if !g.mu.TryLock() {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(g.mu.Unlock) }, true
}
