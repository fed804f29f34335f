package task

import (
	"gvisor.dev/gvisor/pkg/sync"
)

// A futex is a way for a thread to wait with the futex word as the key, and for
// another thread to wake one or all waiting threads keyed on the same word.
//
// A futex does not change the underlying value, it only reads it before going
// to sleep to prevent lost wake-ups: a waker must change the word first and
// call Wake or WakeAll afterwards.
type Futex struct {
	Uint32

	mu   sync.Mutex
	cond sync.Cond
}

// Atomically check for cmp to still be equal to the futex value and if so, go
// to sleep. Return true if we were definitely awoken by a call to Wake or
// WakeAll, and false if we can't be sure of that.
func (f *Futex) Wait(cmp uint32) bool {
	f.mu.Lock()
	if f.cond.L == nil {
		f.cond.L = &f.mu
	}
	if f.Load() != cmp {
		f.mu.Unlock()
		return false
	}
	// The condition variable may wake us up spuriously (Broadcast from
	// WakeAll wakes everybody), so callers have to recheck the futex word.
	f.cond.Wait()
	f.mu.Unlock()
	return false
}

// Wake a single waiter.
func (f *Futex) Wake() {
	f.mu.Lock()
	f.cond.Signal()
	f.mu.Unlock()
}

// Wake all waiters.
func (f *Futex) WakeAll() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}
