// Package sync provides the sleeping locks of the kernel. Threads blocked on
// them wait on turnstiles, so lock holders inherit the priority of their
// waiters.
package sync

import (
	"go.uber.org/atomic"

	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/turnstile"
)

// MutexType selects the behaviour of a Mutex.
type MutexType uint8

const (
	Default   MutexType = iota
	Recursive           // may be locked again by its owner
)

// Mutex is a sleeping lock. The zero value is an unlocked Default mutex.
//
// An uncontested Mutex is a single atomic word: the turnstile of the mutex is
// looked up only once a thread has to wait for it.
type Mutex struct {
	Type MutexType

	owner atomic.Pointer[task.Task]
	// Set while threads may be blocked on the turnstile of the mutex. Only
	// written with the chain lock of the mutex held.
	contested atomic.Bool
	// Recursive acquisitions, touched by the owner only.
	count int
}

// Owned reports whether m is held by td.
func (m *Mutex) Owned(td *task.Task) bool {
	return m.owner.Load() == td
}

// Lock locks m on behalf of td, sleeping until m is available.
func (m *Mutex) Lock(td *task.Task) {
	if td.InInterrupt() {
		panic("sync: Mutex locked in interrupt context")
	}
	if m.owner.Load() == td {
		if m.Type != Recursive {
			panic("sync: recursive lock of non-recursive Mutex")
		}
		m.count++
		return
	}

	// Fast path: try to take an uncontended lock.
	if m.owner.CompareAndSwap(nil, td) {
		// We obtained the mutex.
		return
	}
	m.lockSlow(td)
}

func (m *Mutex) lockSlow(td *task.Task) {
	wc := task.Chan(m)
	for {
		ts := turnstile.TryWait(td, wc)

		// Tell the owner to look for us on its way out, then check whether
		// it is gone already.
		m.contested.Store(true)
		if m.owner.CompareAndSwap(nil, td) {
			if ts.Empty(turnstile.ExclusiveQueue) {
				m.contested.Store(false)
				turnstile.Cancel(td, ts)
			} else if ts.Owner() == nil {
				// Threads left blocked lend us their priority.
				turnstile.Claim(td, ts)
			} else {
				// The previous owner has not made it to its slow path yet:
				// it will wake somebody up who will find us as the owner.
				turnstile.Cancel(td, ts)
			}
			return
		}

		owner := m.owner.Load()
		if owner == nil {
			turnstile.Cancel(td, ts)
			continue
		}
		// Wait until we get resumed in Unlock.
		turnstile.Wait(td, ts, owner, turnstile.ExclusiveQueue)
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock(td *task.Task) bool {
	if m.owner.Load() == td {
		if m.Type != Recursive {
			return false
		}
		m.count++
		return true
	}
	return m.owner.CompareAndSwap(nil, td)
}

// Unlock unlocks m, which must be held by td. The first thread waiting for m,
// if any, is woken up.
func (m *Mutex) Unlock(td *task.Task) {
	if owner := m.owner.Load(); owner == nil {
		// Mutex wasn't locked before.
		panic("sync: unlock of unlocked Mutex")
	} else if owner != td {
		panic("sync: unlock of Mutex owned by " + owner.Name())
	}
	if m.count > 0 {
		m.count--
		return
	}

	m.owner.Store(nil)
	if m.contested.Load() {
		// Mutex was a contended lock, so we need to wake the next waiter.
		m.unlockSlow(td)
	}
}

func (m *Mutex) unlockSlow(td *task.Task) {
	wc := task.Chan(m)
	turnstile.ChainLock(td, wc)
	ts := turnstile.Lookup(td, wc)
	if ts == nil {
		// Waiters hold the chain lock while they block, so there are none.
		m.contested.Store(false)
		turnstile.ChainUnlock(td, wc)
		return
	}
	turnstile.Signal(td, ts, turnstile.ExclusiveQueue)
	if ts.Empty(turnstile.ExclusiveQueue) {
		m.contested.Store(false)
	}
	turnstile.Unpend(td, ts)
}

// Locker is a lock that is held by a thread.
type Locker interface {
	Lock(td *task.Task)
	Unlock(td *task.Task)
}

// RWMutex is a reader/writer lock. Writers wait on the exclusive queue of
// its turnstile and inherit priority from everybody waiting. A writer that
// releases the lock hands it over to all waiting readers, or else to the
// first waiting writer.
type RWMutex struct {
	// Guarded by the chain lock of the RWMutex.
	writer  *task.Task
	readers uint32
}

const rwMutexMaxReaders = ^uint32(0)

// Lock locks rw for writing.
func (rw *RWMutex) Lock(td *task.Task) {
	wc := task.Chan(rw)
	ts := turnstile.TryWait(td, wc)
	if rw.writer == nil && rw.readers == 0 {
		// The mutex is completely unlocked.
		// Lock without waiting.
		rw.writer = td
		turnstile.Cancel(td, ts)
		return
	}
	if rw.writer == td {
		turnstile.Cancel(td, ts)
		panic("sync: recursive lock of RWMutex")
	}

	// Wait for the lock to be handed over to us. Readers have no owner to
	// lend priority to.
	turnstile.Wait(td, ts, rw.writer, turnstile.ExclusiveQueue)
	rw.claim(td)
}

// claim makes a writer that got the lock handed over the owner of the
// turnstile if there are still threads blocked on it.
func (rw *RWMutex) claim(td *task.Task) {
	ts := turnstile.TryWait(td, task.Chan(rw))
	if (!ts.Empty(turnstile.ExclusiveQueue) || !ts.Empty(turnstile.SharedQueue)) && ts.Owner() == nil {
		turnstile.Claim(td, ts)
		return
	}
	turnstile.Cancel(td, ts)
}

// Unlock releases the write lock of rw.
func (rw *RWMutex) Unlock(td *task.Task) {
	wc := task.Chan(rw)
	turnstile.ChainLock(td, wc)
	switch rw.writer {
	case td:
		// This is correct.

	case nil:
		readers := rw.readers
		turnstile.ChainUnlock(td, wc)
		if readers == 0 {
			// The mutex is already unlocked.
			panic("sync: unlock of unlocked RWMutex")
		}
		// The mutex is read-locked instead of write-locked.
		panic("sync: write-unlock of read-locked RWMutex")

	default:
		owner := rw.writer
		turnstile.ChainUnlock(td, wc)
		panic("sync: unlock of RWMutex owned by " + owner.Name())
	}

	rw.writer = nil
	ts := turnstile.Lookup(td, wc)
	if ts == nil {
		// Nothing is waiting for the lock.
		turnstile.ChainUnlock(td, wc)
		return
	}

	switch {
	case rw.maybeUnblockReaders(td, ts):
		// Switched over to read mode.

	case rw.maybeUnblockWriter(td, ts):
		// Transferred to another writer.
	}
	turnstile.Unpend(td, ts)
}

// RLock locks rw for reading.
func (rw *RWMutex) RLock(td *task.Task) {
	wc := task.Chan(rw)
	ts := turnstile.TryWait(td, wc)
	if rw.writer == td {
		turnstile.Cancel(td, ts)
		panic("sync: read lock of RWMutex held for writing")
	}
	if rw.writer != nil {
		// Wait for the write lock to be released. Unlock counts us in.
		turnstile.Wait(td, ts, rw.writer, turnstile.SharedQueue)
		return
	}

	if rw.readers == rwMutexMaxReaders {
		turnstile.Cancel(td, ts)
		panic("sync: too many readers on RWMutex")
	}

	// Increase the reader count.
	rw.readers++
	turnstile.Cancel(td, ts)
}

// RUnlock releases one read lock of rw.
func (rw *RWMutex) RUnlock(td *task.Task) {
	wc := task.Chan(rw)
	turnstile.ChainLock(td, wc)
	if rw.writer != nil {
		turnstile.ChainUnlock(td, wc)
		// The mutex is write-locked instead of read-locked.
		panic("sync: read-unlock of write-locked RWMutex")
	}
	if rw.readers == 0 {
		turnstile.ChainUnlock(td, wc)
		// The mutex is already unlocked.
		panic("sync: unlock of unlocked RWMutex")
	}

	rw.readers--

	ts := turnstile.Lookup(td, wc)
	if ts == nil {
		turnstile.ChainUnlock(td, wc)
		return
	}
	if rw.readers == 0 {
		// This was the last reader.
		// Try to unblock a writer.
		rw.maybeUnblockWriter(td, ts)
	}
	turnstile.Unpend(td, ts)
}

func (rw *RWMutex) maybeUnblockReaders(td *task.Task, ts *turnstile.Turnstile) bool {
	n := uint32(len(ts.Waiters(turnstile.SharedQueue)))
	if n == 0 {
		return false
	}
	rw.readers = n
	turnstile.Broadcast(td, ts, turnstile.SharedQueue)
	return true
}

func (rw *RWMutex) maybeUnblockWriter(td *task.Task, ts *turnstile.Turnstile) bool {
	writers := ts.Waiters(turnstile.ExclusiveQueue)
	if len(writers) == 0 {
		return false
	}
	rw.writer = writers[0]
	turnstile.Signal(td, ts, turnstile.ExclusiveQueue)
	return true
}

// RLocker returns a Locker interface that implements
// the Lock and Unlock methods by calling rw.RLock and rw.RUnlock.
func (rw *RWMutex) RLocker() Locker {
	return (*rlocker)(rw)
}

type rlocker RWMutex

func (r *rlocker) Lock(td *task.Task)   { (*RWMutex)(r).RLock(td) }
func (r *rlocker) Unlock(td *task.Task) { (*RWMutex)(r).RUnlock(td) }
