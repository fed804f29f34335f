// Package pool implements the allocator for kernel objects that live for the
// whole lifetime of the kernel, like turnstiles and sleep queues.
//
// Objects are addressed by small integer handles instead of pointers, so that
// structures referring to each other (a thread and the turnstile it waits on)
// do not form pointer cycles across packages. Object storage is never
// released: a freed handle is only put aside to be reused by the next Alloc.
package pool

import (
	"fmt"

	"go.uber.org/atomic"
	"gvisor.dev/gvisor/pkg/sync"
)

// Handle identifies an object in a Pool. The zero Handle refers to nothing.
type Handle uint32

// None is the handle that refers to no object.
const None Handle = 0

const (
	chunkSize = 256
	maxChunks = 4096
)

// Pool is an allocator of objects of type T.
type Pool[T any] struct {
	name string
	ctor func(h Handle, obj *T)

	// growLock serializes allocation and guards free.
	growLock sync.Mutex
	free     []Handle

	// Ever-incrementing handle: storage is never returned to the Go heap.
	next atomic.Uint32

	// Chunks are published atomically so that Get never takes a lock.
	chunks [maxChunks]atomic.Pointer[[chunkSize]T]

	// Total number of calls to Alloc and Free.
	allocs atomic.Uint64
	frees  atomic.Uint64
}

// New creates a pool. ctor, if not nil, is called on every object handed out
// by Alloc, before Alloc returns it.
func New[T any](name string, ctor func(h Handle, obj *T)) *Pool[T] {
	return &Pool[T]{name: name, ctor: ctor}
}

// Alloc returns the handle of an object that nobody else uses.
func (p *Pool[T]) Alloc() Handle {
	p.allocs.Inc()

	p.growLock.Lock()
	var h Handle
	if n := len(p.free); n > 0 {
		h = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		// Handle 0 is reserved for None, so the first object gets 1.
		h = Handle(p.next.Inc())
		c := int(h) / chunkSize
		if c >= maxChunks {
			p.growLock.Unlock()
			panic(fmt.Sprintf("pool %s: out of memory", p.name))
		}
		if p.chunks[c].Load() == nil {
			p.chunks[c].Store(new([chunkSize]T))
		}
	}
	p.growLock.Unlock()

	if p.ctor != nil {
		p.ctor(h, p.Get(h))
	}
	return h
}

// Free gives h back to the pool. The object must not be used afterwards.
func (p *Pool[T]) Free(h Handle) {
	if h == None {
		panic(fmt.Sprintf("pool %s: free of nil handle", p.name))
	}
	p.frees.Inc()
	p.growLock.Lock()
	p.free = append(p.free, h)
	p.growLock.Unlock()
}

// Get returns the object identified by h.
func (p *Pool[T]) Get(h Handle) *T {
	if h == None || uint32(h) > p.next.Load() {
		panic(fmt.Sprintf("pool %s: bad handle %d", p.name, h))
	}
	return &p.chunks[int(h)/chunkSize].Load()[int(h)%chunkSize]
}

// InUse returns the number of objects handed out and not freed.
func (p *Pool[T]) InUse() int {
	return int(p.allocs.Load() - p.frees.Load())
}
