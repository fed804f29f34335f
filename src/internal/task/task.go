// Package task implements the kernel thread abstraction: a goroutine together
// with the scheduling state the synchronization primitives work on.
//
// Go has no goroutine-local storage, so code running on behalf of a thread
// passes its *Task explicitly.
package task

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/cahirwpz/wifire-os/src/internal/pool"
)

// If true, print verbose debug logs.
const verbose = false

// Priority is the scheduling priority of a thread. Larger values are more
// important.
type Priority int32

const (
	PrioIdle   Priority = 0
	PrioUser   Priority = 64
	PrioKernel Priority = 128
	PrioIntr   Priority = 192
	PrioMax    Priority = 255
)

// State is the scheduling state of a thread.
type State uint32

const (
	Inactive State = iota // created, not started yet
	Ready                 // runnable, waiting to be dispatched
	Running
	Blocked  // waiting on a turnstile
	Sleeping // waiting on a sleep queue
	Dead
)

var stateNames = [...]string{"inactive", "ready", "running", "blocked", "sleeping", "dead"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// Runnable reports whether a thread in state s may be dispatched.
func (s State) Runnable() bool {
	return s == Ready || s == Running
}

// Task is a kernel thread.
type Task struct {
	// Thread ID. The number here is not really significant, but it is useful
	// for debugging.
	id   uintptr
	name string

	// Next task in the activeTasks queue.
	queueNext *Task

	// Semaphore to pause/resume the thread atomically.
	pauseSem Semaphore

	// Set when the thread function returned; Join waits on it.
	exited Futex

	// Lock guards priorities, state and the sleep queue fields below while
	// the thread is not blocked on a turnstile. While it is, the lock of that
	// turnstile guards them as well.
	Lock SpinLock

	basePrio  Int32
	prio      Int32
	borrowing Bool
	state     Uint32

	// Interrupt disable nesting and interrupt context nesting. Only ever
	// changed by the thread itself.
	idnest    Int32
	intrLevel Int32

	// Turnstile bookkeeping, owned by package turnstile.
	turnstile Uint32 // spare turnstile, None while donated
	blocked   Uint32 // turnstile the thread is blocked on
	TsQueue   int    // which queue of the blocked-on turnstile
	// Turnstiles owned by this thread that have waiters. Guarded by the
	// turnstile package's contested lock.
	Contested []pool.Handle

	// Sleep queue bookkeeping, owned by package sleepq.
	sleepQueue   Uint32 // spare sleep queue, None while donated
	Wchan        WaitChannel
	WaitPt       string
	SleepFlags   uint8
	wakeupReason Uint32
}

// Goroutine counter, starting at 1 for the first thread.
var taskID Uintptr

// Queue of tasks (see queueNext) that currently exist.
var activeTasks *Task
var activeTaskLock PMutex

// Constructors and destructors run for every task, registered by the packages
// that keep per-thread resources (the spare turnstile and sleep queue).
var (
	ctors []func(*Task)
	dtors []func(*Task)
)

// RegisterResource registers functions run when a task is created and when
// it exits. Must be called from package init functions only.
func RegisterResource(ctor, dtor func(*Task)) {
	ctors = append(ctors, ctor)
	dtors = append(dtors, dtor)
}

// New creates a task with the given base priority. The task is not running
// anything yet: it is either adopted by the calling goroutine or started by
// the scheduler.
func New(name string, prio Priority) *Task {
	t := &Task{name: name}
	t.id = taskID.Inc()
	t.basePrio.Store(int32(prio))
	t.prio.Store(int32(prio))
	for _, ctor := range ctors {
		ctor(t)
	}
	if verbose {
		log.Debugf("*** new:    %d %s prio %d", t.id, name, prio)
	}

	activeTaskLock.Lock()
	t.queueNext = activeTasks
	activeTasks = t
	activeTaskLock.Unlock()
	return t
}

// Exit removes t from the list of tasks and releases its per-thread
// resources. It must be called by the thread itself, after which t must not
// be used for anything but Join.
func (t *Task) Exit() {
	if verbose {
		log.Debugf("*** exit:   %d %s", t.id, t.name)
	}

	// Remove from the queue.
	activeTaskLock.Lock()
	found := false
	for q := &activeTasks; *q != nil; q = &(*q).queueNext {
		if *q == t {
			*q = t.queueNext
			found = true
			break
		}
	}
	activeTaskLock.Unlock()

	// Sanity check.
	if !found {
		panic("task: exit of unknown task " + t.name)
	}

	for i := len(dtors) - 1; i >= 0; i-- {
		dtors[i](t)
	}
	t.SetState(Dead)
	t.exited.Store(1)
	t.exited.WakeAll()
}

// Join waits until t exits.
func (t *Task) Join() {
	for t.exited.Load() == 0 {
		t.exited.Wait(0)
	}
}

// All calls fn for every task that currently exists.
func All(fn func(*Task)) {
	activeTaskLock.Lock()
	defer activeTaskLock.Unlock()
	for t := activeTasks; t != nil; t = t.queueNext {
		fn(t)
	}
}

// Count returns the number of tasks that currently exist.
func Count() int {
	n := 0
	All(func(*Task) { n++ })
	return n
}

// Pause pauses the current task, until it is resumed by another task.
// It is possible that another task has called Resume() on the task before it
// hits Pause(), in which case the task won't be paused but continues
// immediately.
func (t *Task) Pause() {
	if verbose {
		log.Debugf("*** pause:  %d %s", t.id, t.name)
	}
	t.pauseSem.Wait()
}

// Resume the given task.
// It is legal to resume a task before it gets paused, it means that the next
// call to Pause() won't pause but will continue immediately. This happens
// all the time in the sleep queue and turnstile code, where the waker may run
// between the sleeper releasing its locks and calling Pause().
func (t *Task) Resume() {
	if verbose {
		log.Debugf("*** resume: %d %s", t.id, t.name)
	}
	t.pauseSem.Post()
}

func (t *Task) ID() uintptr    { return t.id }
func (t *Task) Name() string   { return t.name }
func (t *Task) String() string { return fmt.Sprintf("%s(%d)", t.name, t.id) }

// Prio returns the effective priority, which may be raised by lending.
func (t *Task) Prio() Priority { return Priority(t.prio.Load()) }

// BasePrio returns the priority assigned to the thread.
func (t *Task) BasePrio() Priority { return Priority(t.basePrio.Load()) }

// Borrowing reports whether the effective priority was lent to the thread.
func (t *Task) Borrowing() bool { return t.borrowing.Load() }

// The setters below are used by the scheduler with the thread lock held.

func (t *Task) SetPrio(p Priority)     { t.prio.Store(int32(p)) }
func (t *Task) SetBasePrio(p Priority) { t.basePrio.Store(int32(p)) }
func (t *Task) SetBorrowing(b bool)    { t.borrowing.Store(b) }

func (t *Task) State() State     { return State(t.state.Load()) }
func (t *Task) SetState(s State) { t.state.Store(uint32(s)) }

// Turnstile returns the spare turnstile of the thread.
func (t *Task) Turnstile() pool.Handle     { return pool.Handle(t.turnstile.Load()) }
func (t *Task) SetTurnstile(h pool.Handle) { t.turnstile.Store(uint32(h)) }

// BlockedOn returns the turnstile the thread is blocked on, or pool.None.
// It may be read without locks, but it is only stable with the lock of
// that turnstile (or, if None, with t.Lock) held.
func (t *Task) BlockedOn() pool.Handle     { return pool.Handle(t.blocked.Load()) }
func (t *Task) SetBlockedOn(h pool.Handle) { t.blocked.Store(uint32(h)) }

// SleepQueue returns the spare sleep queue of the thread.
func (t *Task) SleepQueue() pool.Handle     { return pool.Handle(t.sleepQueue.Load()) }
func (t *Task) SetSleepQueue(h pool.Handle) { t.sleepQueue.Store(uint32(h)) }

// WakeupReason is set by whoever takes the thread off a sleep queue.
func (t *Task) WakeupReason() uint8     { return uint8(t.wakeupReason.Load()) }
func (t *Task) SetWakeupReason(r uint8) { t.wakeupReason.Store(uint32(r)) }
