package util

import (
	"bytes"
	"sync"
)

// maxPooledBufferCap keeps buffers grown by oversized messages out of the pool.
const maxPooledBufferCap = 64 << 10

// Pool is a typed [sync.Pool].
type Pool[T any] struct {
	p     sync.Pool
	reset func(T) bool
}

// NewPool creates a pool.
// reset prepares a value for reuse and reports whether it may be pooled.
func NewPool[T any](newFn func() T, reset func(T) bool) *Pool[T] {
	return &Pool[T]{
		p:     sync.Pool{New: func() any { return newFn() }},
		reset: reset,
	}
}

func (p *Pool[T]) Get() T { return p.p.Get().(T) } //nolint:forcetypeassert

func (p *Pool[T]) Put(v T) {
	if p.reset == nil || p.reset(v) {
		p.p.Put(v)
	}
}

var bufPool = NewPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 2048)) },
	func(b *bytes.Buffer) bool {
		b.Reset()
		return b.Cap() <= maxPooledBufferCap
	},
)

// GetBytesBuffer takes an empty buffer from the shared pool.
func GetBytesBuffer() *bytes.Buffer { return bufPool.Get() }

// FreeBytesBuffer returns b to the shared pool.
// b must not be used after the call.
func FreeBytesBuffer(b *bytes.Buffer) { bufPool.Put(b) }
