package task

import (
	"go.uber.org/atomic"
)

// PMutex is a plain futex based lock without an owner.
//
// It is mainly useful for short operations on bookkeeping that is not tied to
// a particular kernel thread, like the list of all tasks.
type PMutex struct {
	futex Futex
}

func (m *PMutex) Lock() {
	// Fast path: try to take an uncontended lock.
	if m.futex.CompareAndSwap(0, 1) {
		// We obtained the mutex.
		return
	}

	// Try to lock the mutex. If it changed from 0 to 2, we took a contended
	// lock.
	for m.futex.Swap(2) != 0 {
		// Wait until we get resumed in Unlock.
		m.futex.Wait(2)
	}
}

func (m *PMutex) Unlock() {
	if old := m.futex.Swap(0); old == 0 {
		panic("task: unlock of unlocked PMutex")
	} else if old == 2 {
		// Mutex was a contended lock, so we need to wake the next waiter.
		m.futex.Wake()
	}
}

// SpinLock is the low-level lock of the kernel.
//
// A spin lock remembers its owner, so that code can assert it runs with the
// lock held. Acquiring a spin lock masks interrupts for the acquiring thread
// and releasing it unmasks them again; a thread must never go to sleep with a
// spin lock held.
type SpinLock struct {
	mu    PMutex
	owner atomic.Pointer[Task]
}

// Lock acquires l on behalf of td.
func (l *SpinLock) Lock(td *Task) {
	if l.owner.Load() == td {
		panic("task: recursive spin lock acquisition by " + td.Name())
	}
	td.DisableInterrupts()
	l.mu.Lock()
	l.owner.Store(td)
}

// TryLock acquires l if it is free and reports whether it succeeded.
func (l *SpinLock) TryLock(td *Task) bool {
	td.DisableInterrupts()
	if !l.mu.futex.CompareAndSwap(0, 1) {
		td.EnableInterrupts()
		return false
	}
	l.owner.Store(td)
	return true
}

// Unlock releases l, which must be owned by td.
func (l *SpinLock) Unlock(td *Task) {
	if l.owner.Load() != td {
		panic("task: release of spin lock not owned by " + td.Name())
	}
	l.owner.Store(nil)
	l.mu.Unlock()
	td.EnableInterrupts()
}

// Owned reports whether l is held by td.
func (l *SpinLock) Owned(td *Task) bool {
	return l.owner.Load() == td
}
