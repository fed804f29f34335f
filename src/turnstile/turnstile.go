// Package turnstile implements turnstiles: the queues of threads blocked on
// a contended lock, with priority inheritance.
//
// A turnstile is in use while some thread is blocked on the lock it stands
// for, and is found through a hash table of chains keyed by the wait channel
// of the lock. Every thread owns one spare turnstile. The first thread to
// block on a lock donates its spare as the turnstile of that lock, every
// following one puts its spare on the free list of the turnstile in use.
// Each woken thread takes one turnstile back, so allocation never fails.
//
// Lock order: chain lock, then turnstile lock, then the thread lock
// (task.Task.Lock), then the contested lock. While priority is propagated
// along a chain of owners the turnstile lock of the next owner is acquired
// before the previous one is released.
package turnstile

import (
	"fmt"
	"math"
	"slices"

	"github.com/cahirwpz/wifire-os/src/internal/pool"
	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/sched"
)

// Queue selects one of the wait queues of a turnstile.
type Queue int

const (
	ExclusiveQueue Queue = iota
	SharedQueue
	numQueues

	// Queue of a thread that was signalled but not yet made runnable.
	pendingQueue Queue = -1
)

// Top priority of a turnstile nobody is blocked on.
const noWaiters = math.MinInt32

// Turnstile is the set of threads blocked on a lock.
type Turnstile struct {
	self pool.Handle
	lock turnstileMutex

	// Chain the turnstile is linked on while in use.
	chain *chain
	// Spare turnstiles of blocked threads beyond the first.
	free []pool.Handle
	// Blocked threads, each queue sorted by non-increasing priority.
	blocked [numQueues][]*task.Task
	// Threads signalled and waiting for Unpend.
	pending []*task.Task
	wchan   task.WaitChannel
	// Guarded by the turnstile lock and contestedLock.
	owner *task.Task

	// Priority of the first waiter. Written with the turnstile lock held,
	// read by whoever recomputes the priority of the owner.
	top task.Int32
}

var turnstiles = pool.New("turnstile", func(h pool.Handle, ts *Turnstile) {
	// The lock is left alone: a stale reader of a handle may still be
	// spinning on it.
	ts.self = h
	ts.chain = nil
	ts.free = nil
	ts.blocked = [numQueues][]*task.Task{}
	ts.pending = nil
	ts.wchan = task.WaitChannel{}
	ts.owner = nil
	ts.top.Store(noWaiters)
})

// Guards the contested turnstiles of every thread and turnstile owners.
var contestedLock contestedMutex

func get(h pool.Handle) *Turnstile {
	return turnstiles.Get(h)
}

func init() {
	task.RegisterResource(initThread, releaseThread)
}

// initThread gives a new thread its spare turnstile.
func initThread(td *task.Task) {
	td.SetTurnstile(turnstiles.Alloc())
}

// releaseThread takes the spare turnstile away from an exiting thread.
func releaseThread(td *task.Task) {
	h := td.Turnstile()
	if h == pool.None || td.BlockedOn() != pool.None {
		panic("turnstile: " + td.Name() + " exits while blocked")
	}
	contestedLock.Lock(td)
	contested := len(td.Contested)
	contestedLock.Unlock(td)
	if contested != 0 {
		panic("turnstile: " + td.Name() + " exits owning contested locks")
	}
	if ts := get(h); !ts.wchan.IsNil() {
		panic("turnstile: " + td.Name() + " exits with its turnstile in use")
	}
	td.SetTurnstile(pool.None)
	turnstiles.Free(h)
}

// InUse returns the number of turnstiles linked on chains.
func InUse(td *task.Task) int {
	n := 0
	for i := range chains {
		tc := &chains[i]
		tc.lock.Lock(td)
		n += len(tc.turnstiles)
		tc.lock.Unlock(td)
	}
	return n
}

// assertLocked checks that td holds the chain lock and the lock of ts, and
// returns the chain.
func (ts *Turnstile) assertLocked(td *task.Task) *chain {
	if !ts.lock.Owned(td) {
		panic("turnstile: turnstile lock not held by " + td.Name())
	}
	tc := lookupChain(ts.wchan)
	if !tc.lock.Owned(td) {
		panic("turnstile: chain lock not held by " + td.Name())
	}
	return tc
}

// Owner returns the thread that owns the lock ts stands for, if known. The
// caller must hold the lock of ts.
func (ts *Turnstile) Owner() *task.Task {
	return ts.owner
}

// Empty reports whether no thread is blocked on queue q of ts. The caller
// must hold the lock of ts.
func (ts *Turnstile) Empty(q Queue) bool {
	return len(ts.blocked[q]) == 0
}

func (ts *Turnstile) empty() bool {
	return ts.Empty(ExclusiveQueue) && ts.Empty(SharedQueue)
}

// Waiters returns a copy of queue q of ts. The caller must hold the lock
// of ts.
func (ts *Turnstile) Waiters(q Queue) []*task.Task {
	return slices.Clone(ts.blocked[q])
}

// FirstWaiter returns the highest priority thread blocked on ts, or nil. The
// exclusive queue wins ties. The caller must hold the lock of ts.
func (ts *Turnstile) FirstWaiter() *task.Task {
	var std, xtd *task.Task
	if q := ts.blocked[SharedQueue]; len(q) > 0 {
		std = q[0]
	}
	if q := ts.blocked[ExclusiveQueue]; len(q) > 0 {
		xtd = q[0]
	}
	if xtd == nil || (std != nil && std.Prio() > xtd.Prio()) {
		return std
	}
	return xtd
}

func (ts *Turnstile) topPrio() task.Priority {
	return task.Priority(ts.top.Load())
}

func (ts *Turnstile) updateTop() {
	if td := ts.FirstWaiter(); td != nil {
		ts.top.Store(int32(td.Prio()))
	} else {
		ts.top.Store(noWaiters)
	}
}

// insert puts td on queue q after all threads of the same or higher
// priority.
func (ts *Turnstile) insert(td *task.Task, q Queue) {
	queue := ts.blocked[q]
	i := len(queue)
	for j, w := range queue {
		if w.Prio() < td.Prio() {
			i = j
			break
		}
	}
	ts.blocked[q] = slices.Insert(queue, i, td)
}

func (ts *Turnstile) remove(td *task.Task, q Queue) {
	queue := ts.blocked[q]
	i := slices.Index(queue, td)
	if i < 0 {
		panic("turnstile: " + td.Name() + " not found on its queue")
	}
	ts.blocked[q] = slices.Delete(queue, i, i+1)
}

// setOwner records owner as the owner of ts. Requires contestedLock.
func (ts *Turnstile) setOwner(owner *task.Task) {
	ts.owner = owner
	owner.Contested = append(owner.Contested, ts.self)
}

// Wait blocks td on ts, which must have been returned by TryWait or Lookup
// with the locks still held, until it is signalled and unpended. owner is
// the thread holding the lock, or nil if unknown (shared locks). Both locks
// are released.
func Wait(td *task.Task, ts *Turnstile, owner *task.Task, q Queue) {
	tc := ts.assertLocked(td)
	if owner == td {
		panic("turnstile: " + td.Name() + " waits on a lock it owns")
	}
	if owner != nil {
		checkCycle(td, owner)
	} else {
		checkCycle(td, ts.owner)
	}
	if q != ExclusiveQueue && q != SharedQueue {
		panic("turnstile: bad queue")
	}

	// The spare of the first thread to block becomes the turnstile of the
	// lock, all the others go to its free list.
	if h := td.Turnstile(); h == ts.self {
		tc.insert(ts)
	} else {
		ts.free = append(ts.free, h)
	}
	td.SetTurnstile(pool.None)

	newOwner := owner != nil && ts.owner == nil
	if newOwner {
		contestedLock.Lock(td)
		ts.setOwner(owner)
		contestedLock.Unlock(td)
	}

	td.Lock.Lock(td)
	ts.insert(td, q)
	td.TsQueue = int(q)
	td.SetBlockedOn(ts.self)
	td.SetState(task.Blocked)
	td.Lock.Unlock(td)
	ts.updateTop()

	if verbose {
		logWait(td, ts)
	}

	tc.lock.Unlock(td)
	var lk sched.Unlocker = &ts.lock
	if first := ts.FirstWaiter(); first == td || newOwner {
		lk = propagate(td, first, ts)
	}
	sched.Switch(td, lk)
}

// checkCycle panics if owner is td, or transitively waits for a lock owned
// by td. The walk does not depend on priorities, so a cycle of threads that
// lend each other nothing is found too.
func checkCycle(td, owner *task.Task) {
	contestedLock.Lock(td)
	for depth := 0; owner != nil; depth++ {
		if owner == td || depth >= maxChainDepth {
			contestedLock.Unlock(td)
			panic(fmt.Sprintf("turnstile: deadlock detected: %v waits for %v", td, owner))
		}
		h := owner.BlockedOn()
		if h == pool.None {
			break
		}
		owner = get(h).owner
	}
	contestedLock.Unlock(td)
}

// Signal moves the first thread of queue q to the pending queue and gives
// it a turnstile back. It reports whether there was anybody to wake up. The
// thread becomes runnable in Unpend.
func Signal(td *task.Task, ts *Turnstile, q Queue) bool {
	tc := ts.assertLocked(td)
	queue := ts.blocked[q]
	if len(queue) == 0 {
		return false
	}
	w := queue[0]
	ts.blocked[q] = slices.Delete(queue, 0, 1)
	ts.wake(tc, w)
	ts.updateTop()
	return true
}

// Broadcast moves all threads of queue q to the pending queue, in priority
// order.
func Broadcast(td *task.Task, ts *Turnstile, q Queue) {
	tc := ts.assertLocked(td)
	queue := ts.blocked[q]
	ts.blocked[q] = nil
	for _, w := range queue {
		ts.wake(tc, w)
	}
	ts.updateTop()
}

// wake puts w, already removed from its queue, on the pending queue, and
// hands it a free turnstile. The last thread to leave gets ts itself, which
// stops being in use.
func (ts *Turnstile) wake(tc *chain, w *task.Task) {
	ts.pending = append(ts.pending, w)
	w.TsQueue = int(pendingQueue)

	if n := len(ts.free); n > 0 {
		w.SetTurnstile(ts.free[n-1])
		ts.free = ts.free[:n-1]
		return
	}
	if !ts.empty() {
		panic("turnstile: free list exhausted with threads still blocked")
	}
	tc.remove(ts)
	w.SetTurnstile(ts.self)
}

// Unpend makes the threads signalled on ts runnable. The owner, if any,
// stops owning ts and gets its priority recomputed. Both locks are released.
func Unpend(td *task.Task, ts *Turnstile) {
	tc := ts.assertLocked(td)
	if ts.owner != nil {
		ts.disown(td)
	}
	// Not on a chain anymore: ts is the spare of one of the woken threads.
	if ts.chain == nil {
		ts.wchan = task.WaitChannel{}
	}

	pending := ts.pending
	ts.pending = nil
	for _, w := range pending {
		w.Lock.Lock(td)
		w.SetBlockedOn(pool.None)
		w.TsQueue = int(ExclusiveQueue)
		sched.Wakeup(w)
		w.Lock.Unlock(td)
	}

	ts.lock.Unlock(td)
	tc.lock.Unlock(td)
}

// Claim makes td the owner of ts, which has waiters, and lends td their
// priority. Both locks are released.
func Claim(td *task.Task, ts *Turnstile) {
	tc := ts.assertLocked(td)
	if ts.empty() {
		panic("turnstile: claim of turnstile without waiters")
	}

	contestedLock.Lock(td)
	if ts.owner != nil {
		contestedLock.Unlock(td)
		panic("turnstile: claim of owned turnstile")
	}
	ts.setOwner(td)
	contestedLock.Unlock(td)

	td.Lock.Lock(td)
	if top := ts.topPrio(); top > td.Prio() {
		sched.LendPrio(td, top)
	}
	td.Lock.Unlock(td)

	ts.lock.Unlock(td)
	tc.lock.Unlock(td)
}

// Disown gives up the ownership of ts without waking anybody, for locks that
// get released while their waiters stay blocked. The priority of the former
// owner is recomputed. The caller must hold the lock of ts.
func Disown(td *task.Task, ts *Turnstile) {
	if !ts.lock.Owned(td) {
		panic("turnstile: turnstile lock not held by " + td.Name())
	}
	if ts.owner == nil {
		panic("turnstile: disown of turnstile without owner")
	}
	ts.disown(td)
}

func (ts *Turnstile) disown(cur *task.Task) {
	owner := ts.owner

	contestedLock.Lock(cur)
	ts.owner = nil
	i := slices.Index(owner.Contested, ts.self)
	if i < 0 {
		contestedLock.Unlock(cur)
		panic("turnstile: turnstile missing from contested list of " + owner.Name())
	}
	owner.Contested = slices.Delete(owner.Contested, i, i+1)
	contestedLock.Unlock(cur)

	// The owner keeps whatever the locks it still holds lend to it.
	ots := lockThread(cur, owner, true)
	sched.UnlendPrio(owner, contestedPrio(cur, owner))
	if ots != nil {
		ots.adjustThread(owner)
		ots.lock.NestedUnlock(cur, turnstileLockOwner)
	} else {
		owner.Lock.Unlock(cur)
	}
}

// contestedPrio returns the highest priority of the threads blocked on
// turnstiles owned by td.
func contestedPrio(cur, td *task.Task) task.Priority {
	prio := task.Priority(noWaiters)
	contestedLock.Lock(cur)
	for _, h := range td.Contested {
		if p := get(h).topPrio(); p > prio {
			prio = p
		}
	}
	contestedLock.Unlock(cur)
	return prio
}
