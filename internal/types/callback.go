package types

import (
	"iter"
	"slices"
	"sync"
)

// CallbackManager keeps an ordered list of callbacks.
// Callbacks are called in registration order.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	cbs    []callback[T]
	nextID uint64
}

type callback[T any] struct {
	id uint64
	cb T
}

// Len returns the number of registered callbacks.
func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cbs)
}

// Add registers the callback and returns a function that removes it.
// The remove function is idempotent.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.cbs = append(m.cbs, callback[T]{id, cb})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.cbs = slices.DeleteFunc(m.cbs, func(c callback[T]) bool { return c.id == id })
			m.mu.Unlock()
		})
	}
}

// Clear removes all callbacks.
func (m *CallbackManager[T]) Clear() {
	m.mu.Lock()
	m.cbs = nil
	m.mu.Unlock()
}

// All iterates over a snapshot of the registered callbacks,
// so callbacks may add or remove callbacks while being called.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		snap := make([]T, len(m.cbs))
		for i, c := range m.cbs {
			snap[i] = c.cb
		}
		m.mu.RUnlock()

		for _, cb := range snap {
			if !yield(cb) {
				return
			}
		}
	}
}
