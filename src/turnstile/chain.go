package turnstile

import (
	"slices"

	"github.com/cahirwpz/wifire-os/src/internal/task"
)

const (
	tcTableSize = 256 // Must be power of 2.
	tcMask      = tcTableSize - 1
	tcShift     = 8
)

// A chain is a bucket of the hash table of turnstiles in use.
type chain struct {
	lock       chainMutex
	turnstiles []*Turnstile
}

var chains [tcTableSize]chain

func tcHash(wc task.WaitChannel) uintptr {
	a := wc.Addr()
	return ((a >> tcShift) ^ a) & tcMask
}

func lookupChain(wc task.WaitChannel) *chain {
	return &chains[tcHash(wc)]
}

func (tc *chain) find(wc task.WaitChannel) *Turnstile {
	for _, ts := range tc.turnstiles {
		if ts.wchan == wc {
			return ts
		}
	}
	return nil
}

func (tc *chain) insert(ts *Turnstile) {
	tc.turnstiles = append(tc.turnstiles, ts)
	ts.chain = tc
}

func (tc *chain) remove(ts *Turnstile) {
	i := slices.Index(tc.turnstiles, ts)
	if i < 0 {
		panic("turnstile: turnstile not found on its chain")
	}
	tc.turnstiles = slices.Delete(tc.turnstiles, i, i+1)
	ts.chain = nil
}

// ChainLock acquires the lock of the chain wc hashes to. It has to be held
// for Lookup and is taken by TryWait.
func ChainLock(td *task.Task, wc task.WaitChannel) {
	lookupChain(wc).lock.Lock(td)
}

// ChainUnlock releases the lock taken by ChainLock.
func ChainUnlock(td *task.Task, wc task.WaitChannel) {
	lookupChain(wc).lock.Unlock(td)
}

// Lookup returns the turnstile in use for wc, with its lock acquired, or nil
// if there is none. The caller must hold the chain lock of wc.
func Lookup(td *task.Task, wc task.WaitChannel) *Turnstile {
	tc := lookupChain(wc)
	if !tc.lock.Owned(td) {
		panic("turnstile: lookup without chain lock")
	}
	ts := tc.find(wc)
	if ts != nil {
		ts.lock.Lock(td)
	}
	return ts
}

// TryWait acquires the chain lock of wc and returns, locked, the turnstile in
// use for wc. If there is none, it returns the spare turnstile of td, which
// becomes the turnstile of wc once td calls Wait. A caller that decides not
// to wait must call Cancel.
func TryWait(td *task.Task, wc task.WaitChannel) *Turnstile {
	if wc.IsNil() {
		panic("turnstile: wait on nil wait channel")
	}
	tc := lookupChain(wc)
	tc.lock.Lock(td)

	if ts := tc.find(wc); ts != nil {
		ts.lock.Lock(td)
		return ts
	}

	h := td.Turnstile()
	if h == 0 {
		panic("turnstile: " + td.Name() + " has no spare turnstile")
	}
	ts := get(h)
	ts.lock.Lock(td)
	if !ts.wchan.IsNil() {
		panic("turnstile: spare turnstile of " + td.Name() + " is in use")
	}
	ts.wchan = wc
	return ts
}

// Cancel releases the locks acquired by TryWait. If ts is the unused spare
// turnstile of td, it stops being associated with the wait channel.
func Cancel(td *task.Task, ts *Turnstile) {
	tc := ts.assertLocked(td)
	if ts.self == td.Turnstile() {
		ts.wchan = task.WaitChannel{}
	}
	ts.lock.Unlock(td)
	tc.lock.Unlock(td)
}
