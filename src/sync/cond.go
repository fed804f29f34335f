package sync

import (
	"go.uber.org/atomic"

	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/sleepq"
)

// CondVar is a condition variable. Threads wait for it on a sleep queue with
// a Mutex held, which is released while they sleep.
type CondVar struct {
	// Number of threads that went to sleep and have not returned yet. When
	// zero, Signal and Broadcast need not look for them.
	waiters atomic.Int32
}

// Wait atomically releases m and puts td to sleep until cv is signalled. m is
// locked again before Wait returns.
func (cv *CondVar) Wait(td *task.Task, m *Mutex) {
	cv.wait(td, m, 0)
}

// WaitInterruptible is Wait that can be cut short by sleepq.Abort, in which
// case sleepq.Interrupted is returned.
func (cv *CondVar) WaitInterruptible(td *task.Task, m *Mutex) sleepq.Wakeup {
	return cv.wait(td, m, sleepq.Interruptible)
}

func (cv *CondVar) wait(td *task.Task, m *Mutex, flags sleepq.Flags) sleepq.Wakeup {
	if !m.Owned(td) {
		panic("sync: wait on CondVar with Mutex not held")
	}
	if m.count > 0 {
		panic("sync: wait on CondVar with Mutex locked recursively")
	}
	cv.waiters.Inc()
	reason := sleepq.Sleep(td, task.Chan(cv), "condvar", flags, m)
	cv.waiters.Dec()
	return reason
}

// Signal wakes up the thread that has waited for cv the longest.
func (cv *CondVar) Signal(td *task.Task) {
	if cv.waiters.Load() > 0 {
		sleepq.Signal(td, task.Chan(cv))
	}
}

// Broadcast wakes up all threads waiting for cv.
func (cv *CondVar) Broadcast(td *task.Task) {
	if cv.waiters.Load() > 0 {
		sleepq.Broadcast(td, task.Chan(cv))
	}
}
