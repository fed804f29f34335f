package turnstile

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/cahirwpz/wifire-os/src/internal/pool"
	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/sched"
)

// If true, print verbose debug logs.
const verbose = false

// Longest chain of owners priority is propagated along. Anything longer is
// taken to be a cycle.
const maxChainDepth = 1024

func logWait(td *task.Task, ts *Turnstile) {
	log.Debugf("turnstile: %v blocks on %#x owned by %v", td, ts.wchan.Addr(), ts.owner)
}

// lockThread acquires the lock guarding the priority and the scheduling
// state of td. That is the lock of the turnstile td is blocked on, which is
// returned, or td.Lock if td is not blocked (nil is returned then). With
// nested set, the turnstile lock is acquired as nested in the turnstile lock
// cur already holds.
func lockThread(cur, td *task.Task, nested bool) *Turnstile {
	for {
		if h := td.BlockedOn(); h != pool.None {
			ts := get(h)
			if nested {
				ts.lock.NestedLock(cur, turnstileLockOwner)
			} else {
				ts.lock.Lock(cur)
			}
			if td.BlockedOn() == h {
				return ts
			}
			if nested {
				ts.lock.NestedUnlock(cur, turnstileLockOwner)
			} else {
				ts.lock.Unlock(cur)
			}
			continue
		}
		td.Lock.Lock(cur)
		if td.BlockedOn() == pool.None {
			return nil
		}
		td.Lock.Unlock(cur)
	}
}

// adjustThread re-sorts td, blocked on ts, after its priority changed. It
// returns false if td has been signalled already and is not on any queue.
func (ts *Turnstile) adjustThread(td *task.Task) bool {
	q := Queue(td.TsQueue)
	if q == pendingQueue {
		return false
	}
	ts.remove(td, q)
	ts.insert(td, q)
	ts.updateTop()
	return true
}

// propagate lends the priority of td, the first waiter of ts, to the owner
// of ts, and then along the chain of owners blocked on other turnstiles
// until one has sufficient priority or is not blocked. The lock of ts must
// be held by cur. The walk ends holding exactly one lock, which is returned
// for the caller to release.
func propagate(cur, td *task.Task, ts *Turnstile) sched.Unlocker {
	origin := ts
	prio := td.Prio()

	for depth := 0; ; depth++ {
		owner := ts.owner
		if owner == nil {
			// Shared locks have no owner to lend priority to.
			return &ts.lock
		}
		if owner == td || owner.BlockedOn() == ts.self || depth >= maxChainDepth {
			panic(fmt.Sprintf("turnstile: deadlock detected: %v waits for %v", td, owner))
		}

		next := lockThread(cur, owner, true)
		if next == origin {
			panic(fmt.Sprintf("turnstile: deadlock detected: %v waits for %v", td, owner))
		}
		ts.lock.Unlock(cur)
		if next != nil {
			next.lock.Promote(turnstileLockOwner)
		}

		if owner.Prio() >= prio {
			return threadLock(owner, next)
		}
		sched.LendPrio(owner, prio)

		if next == nil {
			// The owner runs, or sleeps on a sleep queue. It will give the
			// priority back when it releases the lock.
			return &owner.Lock
		}

		// The owner is blocked on next: its place there changes. If that does
		// not make it the first waiter, nothing more needs to be done.
		if !next.adjustThread(owner) || next.FirstWaiter() != owner {
			return &next.lock
		}
		td, ts = owner, next
	}
}

// threadLock returns the lock lockThread acquired for td.
func threadLock(td *task.Task, ts *Turnstile) sched.Unlocker {
	if ts != nil {
		return &ts.lock
	}
	return &td.Lock
}

// SetPriority changes the base priority of td on behalf of cur. Priority lent
// to td is kept as long as the locks td owns have waiters that need it. If td
// is blocked on a turnstile it is moved to its new place in the queue, and a
// raise that makes it the first waiter is propagated to the owner.
//
// Lowering the priority of a waiter does not take back what was lent to the
// owner because of it: the owner keeps it until it releases the lock.
func SetPriority(cur, td *task.Task, prio task.Priority) {
	ts := lockThread(cur, td, false)
	old := sched.SetBasePrio(td, prio)
	if floor := contestedPrio(cur, td); floor > td.Prio() {
		sched.LendPrio(td, floor)
	}

	if ts == nil {
		td.Lock.Unlock(cur)
		return
	}
	if td.Prio() == old || !ts.adjustThread(td) {
		ts.lock.Unlock(cur)
		return
	}
	if td.Prio() > old && ts.FirstWaiter() == td {
		propagate(cur, td, ts).Unlock(cur)
		return
	}
	ts.lock.Unlock(cur)
}
