// Package sched is the interface between the synchronization code and the
// scheduler. Every kernel thread runs on its own goroutine, so dispatching is
// left to the Go runtime; what remains is the bookkeeping of thread states
// and priorities, and blocking a thread until somebody makes it runnable.
package sched

import (
	"runtime"

	"github.com/cahirwpz/wifire-os/src/internal/task"
)

// Unlocker is a lock that can be released on behalf of a thread.
type Unlocker interface {
	Unlock(td *task.Task)
}

// Start creates a kernel thread running fn and makes it runnable. The thread
// exits when fn returns.
func Start(name string, prio task.Priority, fn func(td *task.Task)) *task.Task {
	td := task.New(name, prio)
	td.SetState(task.Ready)
	scheduleLogTask("start", td)
	go func() {
		td.SetState(task.Running)
		fn(td)
		td.Exit()
	}()
	return td
}

// Adopt creates a thread for the calling goroutine, which must not be a
// kernel thread already. It is how the boot code (and tests) get a thread
// to run the synchronization primitives with.
func Adopt(name string, prio task.Priority) *task.Task {
	scheduleLog("adopt " + name)
	td := task.New(name, prio)
	td.SetState(task.Running)
	return td
}

// Switch blocks td, which has been put on a wait queue and marked as blocked
// or sleeping by the caller, and releases lk (if not nil). It returns when
// td is made runnable again by Wakeup.
//
// Releasing lk before pausing is safe: a Wakeup that happens in between is
// remembered by the pause semaphore, so it is never lost.
func Switch(td *task.Task, lk Unlocker) {
	if td.InInterrupt() {
		panic("sched: " + td.Name() + " tried to sleep in interrupt context")
	}
	if lk != nil {
		lk.Unlock(td)
	}
	if td.InterruptsDisabled() {
		panic("sched: " + td.Name() + " tried to sleep with interrupts disabled")
	}
	scheduleLogTask("switch", td)
	td.Pause()
	td.SetState(task.Running)
}

// Wakeup makes a blocked or sleeping thread runnable. The caller must hold
// the lock that guards td's state.
func Wakeup(td *task.Task) {
	scheduleLogTask("wakeup", td)
	td.SetState(task.Ready)
	td.Resume()
}

// Yield lets other threads run.
func Yield() {
	// Each kernel thread runs in a goroutine, so all we can do is ask the Go
	// scheduler to run something else.
	runtime.Gosched()
}

// LendPrio raises the effective priority of td to prio. The caller must hold
// td's thread lock.
func LendPrio(td *task.Task, prio task.Priority) {
	scheduleLogPrio("lend", td, prio)
	td.SetBorrowing(true)
	td.SetPrio(prio)
}

// UnlendPrio gives back lent priority: the effective priority of td becomes
// prio, but never less than its base priority. The caller must hold td's
// thread lock.
func UnlendPrio(td *task.Task, prio task.Priority) {
	if base := td.BasePrio(); prio <= base {
		scheduleLogPrio("unlend", td, base)
		td.SetBorrowing(false)
		td.SetPrio(base)
		return
	}
	LendPrio(td, prio)
}

// SetBasePrio changes the base priority of td and returns its previous
// effective priority. A priority lent to td is kept if it is higher than the
// new base priority. The caller must hold td's thread lock.
func SetBasePrio(td *task.Task, prio task.Priority) task.Priority {
	old := td.Prio()
	td.SetBasePrio(prio)
	if td.Borrowing() && old > prio {
		return old
	}
	scheduleLogPrio("prio", td, prio)
	td.SetBorrowing(false)
	td.SetPrio(prio)
	return old
}
