// Package pool provides a generic object pool. It is used to recycle
// frame metadata objects on the hot presentation path.
package pool

import (
	"sync"
)

// ReuseMemory disables pooling globally when set to false; useful to get
// cleaner reports from the race detector and from memory profilers.
var ReuseMemory = true

type Pool[T any] struct {
	sync.Pool
	ResetFunc func(*T)
}

// NewPool constructs a pool. allocFunc allocates a new object when the pool
// is empty; resetFunc reverts an object to its zero state before it is
// returned to the pool.
func NewPool[T any](
	allocFunc func() *T,
	resetFunc func(*T),
) *Pool[T] {
	return &Pool[T]{
		Pool: sync.Pool{
			New: func() any {
				return allocFunc()
			},
		},
		ResetFunc: resetFunc,
	}
}

func (p *Pool[T]) Get() *T {
	return p.Pool.Get().(*T)
}

func (p *Pool[T]) Put(items ...*T) {
	if !ReuseMemory {
		return
	}
	for _, item := range items {
		p.ResetFunc(item)
		p.Pool.Put(item)
	}
}
