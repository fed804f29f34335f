// Package sleepq implements sleep queues: FIFO queues of threads waiting on
// a wait channel, with no notion of ownership or priority inheritance.
//
// Like turnstiles, sleep queues are never allocated on the wait path. Every
// thread owns a spare one, lends it while asleep and gets one back when it
// is woken up.
package sleepq

import (
	"slices"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/cahirwpz/wifire-os/src/internal/pool"
	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/sched"
)

// If true, print verbose debug logs.
const verbose = false

// Wakeup tells why a sleeping thread was woken up.
type Wakeup uint8

const (
	Regular     Wakeup = iota // by Signal or Broadcast
	Interrupted               // by Abort
)

func (w Wakeup) String() string {
	if w == Interrupted {
		return "interrupted"
	}
	return "regular"
}

// Flags modify a sleep.
type Flags uint8

func (w Wakeup) allowedBy(flags Flags) bool {
	return w == Regular || flags&(1<<(w-1)) != 0
}

// Interruptible lets Abort wake the thread up early.
const Interruptible Flags = 1 << (Interrupted - 1)

// Interlock is a lock released once the thread is on a sleep queue and
// reacquired after it is woken up.
type Interlock interface {
	Lock(td *task.Task)
	Unlock(td *task.Task)
}

const (
	scTableSize = 256 // Must be power of 2.
	scMask      = scTableSize - 1
	scShift     = 8
)

type chain struct {
	lock   chainMutex
	queues []*SleepQueue
}

var chains [scTableSize]chain

func lookupChain(wc task.WaitChannel) *chain {
	a := wc.Addr()
	return &chains[((a>>scShift)^a)&scMask]
}

func (sc *chain) find(wc task.WaitChannel) *SleepQueue {
	for _, sq := range sc.queues {
		if sq.wchan == wc {
			return sq
		}
	}
	return nil
}

// SleepQueue is the queue of threads sleeping on one wait channel.
type SleepQueue struct {
	self    pool.Handle
	blocked []*task.Task
	// Spare queues of the sleeping threads beyond the first.
	free  []pool.Handle
	wchan task.WaitChannel
}

var queues = pool.New("sleepq", func(h pool.Handle, sq *SleepQueue) {
	*sq = SleepQueue{self: h}
})

func init() {
	task.RegisterResource(func(td *task.Task) {
		td.SetSleepQueue(Alloc())
	}, func(td *task.Task) {
		h := td.SleepQueue()
		if h == pool.None {
			panic("sleepq: " + td.Name() + " exits while asleep")
		}
		td.SetSleepQueue(pool.None)
		Destroy(h)
	})
}

// Alloc returns a new sleep queue.
func Alloc() pool.Handle {
	return queues.Alloc()
}

// Destroy releases a sleep queue nobody sleeps on.
func Destroy(h pool.Handle) {
	sq := queues.Get(h)
	if !sq.wchan.IsNil() || len(sq.blocked) != 0 || len(sq.free) != 0 {
		panic("sleepq: destroy of sleep queue in use")
	}
	queues.Free(h)
}

// Wait puts td to sleep on wc until it is woken up by Signal or Broadcast.
// waitpt names the place td sleeps at.
func Wait(td *task.Task, wc task.WaitChannel, waitpt string) {
	Sleep(td, wc, waitpt, 0, nil)
}

// WaitFlags is Wait with flags. It returns the reason td was woken up for.
func WaitFlags(td *task.Task, wc task.WaitChannel, waitpt string, flags Flags) Wakeup {
	return Sleep(td, wc, waitpt, flags, nil)
}

// Sleep puts td to sleep on wc. If lk is not nil it is released once td is
// on the queue, so a wakeup issued with lk held cannot be missed, and it is
// acquired again before Sleep returns.
func Sleep(td *task.Task, wc task.WaitChannel, waitpt string, flags Flags, lk Interlock) Wakeup {
	if wc.IsNil() {
		panic("sleepq: sleep on nil wait channel")
	}
	if td.InInterrupt() {
		panic("sleepq: " + td.Name() + " sleeps in interrupt context")
	}

	sc := lookupChain(wc)
	sc.lock.Lock(td)

	h := td.SleepQueue()
	sq := sc.find(wc)
	if sq == nil {
		sq = queues.Get(h)
		if !sq.wchan.IsNil() {
			panic("sleepq: spare sleep queue of " + td.Name() + " is in use")
		}
		sq.wchan = wc
		sc.queues = append(sc.queues, sq)
	} else {
		sq.free = append(sq.free, h)
	}
	td.SetSleepQueue(pool.None)

	td.Lock.Lock(td)
	sq.blocked = append(sq.blocked, td)
	td.Wchan = wc
	td.WaitPt = waitpt
	td.SleepFlags = uint8(flags)
	td.SetWakeupReason(uint8(Regular))
	td.SetState(task.Sleeping)
	td.Lock.Unlock(td)

	if verbose {
		log.Debugf("sleepq: %v sleeps on %#x at %s", td, wc.Addr(), waitpt)
	}

	if lk != nil {
		lk.Unlock(td)
	}
	sched.Switch(td, &sc.lock)

	reason := Wakeup(td.WakeupReason())
	if lk != nil {
		lk.Lock(td)
	}
	return reason
}

// resume takes w off sq and makes it runnable. sq is not touched afterwards:
// it may have been handed over to w.
func (sq *SleepQueue) resume(td *task.Task, sc *chain, w *task.Task, reason Wakeup) {
	w.Lock.Lock(td)
	i := slices.Index(sq.blocked, w)
	if i < 0 {
		w.Lock.Unlock(td)
		panic("sleepq: " + w.Name() + " not found on its sleep queue")
	}
	sq.blocked = slices.Delete(sq.blocked, i, i+1)

	if n := len(sq.free); n > 0 {
		w.SetSleepQueue(sq.free[n-1])
		sq.free = sq.free[:n-1]
	} else {
		if len(sq.blocked) != 0 {
			panic("sleepq: free list exhausted with threads still asleep")
		}
		sc.queues = slices.DeleteFunc(sc.queues, func(q *SleepQueue) bool { return q == sq })
		sq.wchan = task.WaitChannel{}
		w.SetSleepQueue(sq.self)
	}

	if verbose {
		log.Debugf("sleepq: %v woken up from %s (%v)", w, w.WaitPt, reason)
	}
	w.Wchan = task.WaitChannel{}
	w.WaitPt = ""
	w.SleepFlags = 0
	w.SetWakeupReason(uint8(reason))
	sched.Wakeup(w)
	w.Lock.Unlock(td)
}

// Signal wakes up the thread that has slept on wc the longest. It reports
// whether there was one.
func Signal(td *task.Task, wc task.WaitChannel) bool {
	sc := lookupChain(wc)
	sc.lock.Lock(td)
	defer sc.lock.Unlock(td)

	sq := sc.find(wc)
	if sq == nil {
		return false
	}
	sq.resume(td, sc, sq.blocked[0], Regular)
	return true
}

// Broadcast wakes up all threads sleeping on wc. It reports whether there
// were any.
func Broadcast(td *task.Task, wc task.WaitChannel) bool {
	sc := lookupChain(wc)
	sc.lock.Lock(td)
	defer sc.lock.Unlock(td)

	sq := sc.find(wc)
	if sq == nil {
		return false
	}
	for _, w := range slices.Clone(sq.blocked) {
		sq.resume(td, sc, w, Regular)
	}
	return true
}

// Abort wakes up target for the given reason, if it sleeps and the flags of
// its sleep allow that reason. It reports whether target was woken up.
func Abort(td, target *task.Task, reason Wakeup) bool {
	for {
		target.Lock.Lock(td)
		wc := target.Wchan
		target.Lock.Unlock(td)
		if wc.IsNil() {
			return false
		}

		sc := lookupChain(wc)
		sc.lock.Lock(td)
		// The thread could have been woken up and gone to sleep elsewhere
		// while the chain was not locked.
		target.Lock.Lock(td)
		same := target.Wchan == wc
		flags := Flags(target.SleepFlags)
		target.Lock.Unlock(td)
		if !same {
			sc.lock.Unlock(td)
			continue
		}
		if !reason.allowedBy(flags) {
			sc.lock.Unlock(td)
			return false
		}
		sc.find(wc).resume(td, sc, target, reason)
		sc.lock.Unlock(td)
		return true
	}
}

// Sleeping returns the threads sleeping on wc, longest sleeping first.
func Sleeping(td *task.Task, wc task.WaitChannel) []*task.Task {
	sc := lookupChain(wc)
	sc.lock.Lock(td)
	defer sc.lock.Unlock(td)
	if sq := sc.find(wc); sq != nil {
		return slices.Clone(sq.blocked)
	}
	return nil
}
