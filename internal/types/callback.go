package types

import (
	"iter"
	"slices"
	"sync"
)

// CallbackManager is a registry of listeners fired in registration order.
// The zero value is ready to use.
type CallbackManager[T any] struct {
	mu      sync.Mutex
	entries []callbackEntry[T]
	seq     uint64
}

type callbackEntry[T any] struct {
	id uint64
	fn T
}

// Len returns the number of registered callbacks.
func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Add registers fn and returns a func that unregisters it.
// The returned func is safe to call more than once.
func (m *CallbackManager[T]) Add(fn T) (remove func()) {
	m.mu.Lock()
	m.seq++
	id := m.seq
	// entries is never mutated in place, snapshots taken by All stay valid
	m.entries = append(slices.Clip(m.entries), callbackEntry[T]{id, fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries = slices.DeleteFunc(slices.Clone(m.entries), func(e callbackEntry[T]) bool { return e.id == id })
	}
}

// All iterates over the callbacks registered at the moment of the call.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}
		m.mu.Lock()
		snap := m.entries
		m.mu.Unlock()

		for _, e := range snap {
			if !yield(e.fn) {
				return
			}
		}
	}
}
