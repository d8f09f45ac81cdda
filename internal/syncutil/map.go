// Package syncutil provides synchronized containers.
package syncutil

import (
	"iter"
	"maps"
	"sync"
)

// Map is a map guarded by a [sync.RWMutex].
// The zero value is ready to use.
type Map[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Map[K, V]) Set(key K, val V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[K]V)
	}
	m.data[key] = val
}

// SetIfAbsent stores val unless the key is already present.
// It returns the stored value and whether it was already present.
func (m *Map[K, V]) SetIfAbsent(key K, val V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, true
	}
	if m.data == nil {
		m.data = make(map[K]V)
	}
	m.data[key] = val
	return val, false
}

func (m *Map[K, V]) Del(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// DelIf removes the key only when its current value satisfies fn.
func (m *Map[K, V]) DelIf(key K, fn func(V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok || !fn(v) {
		return false
	}
	delete(m.data, key)
	return true
}

func (m *Map[K, V]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// All iterates over a snapshot of the map.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		data := maps.Clone(m.data)
		m.mu.RUnlock()

		for k, v := range data {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Clear removes all entries and returns them.
func (m *Map[K, V]) Clear() map[K]V {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.data
	m.data = nil
	return data
}
