package types

import (
	"iter"
	"sync"
)

// CallbackManager keeps an ordered set of callbacks that can be removed individually.
// The zero value is ready to use.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	cbs    []callback[T]
	nextID uint64
}

type callback[T any] struct {
	id uint64
	cb T
}

func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cbs)
}

// Add appends the callback and returns a function that removes it.
// The remove function is idempotent.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.cbs = append(m.cbs, callback[T]{id, cb})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i := range m.cbs {
				if m.cbs[i].id == id {
					m.cbs = append(m.cbs[:i:i], m.cbs[i+1:]...)
					return
				}
			}
		})
	}
}

// All iterates over a snapshot of registered callbacks in insertion order,
// so callbacks may add or remove entries while iterating.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		cbs := make([]T, len(m.cbs))
		for i := range m.cbs {
			cbs[i] = m.cbs[i].cb
		}
		m.mu.RUnlock()

		for _, cb := range cbs {
			if !yield(cb) {
				return
			}
		}
	}
}

// Range calls fn for each registered callback.
func (m *CallbackManager[T]) Range(fn func(T)) {
	for cb := range m.All() {
		fn(cb)
	}
}

// Clear removes all callbacks.
func (m *CallbackManager[T]) Clear() {
	m.mu.Lock()
	m.cbs = nil
	m.mu.Unlock()
}
