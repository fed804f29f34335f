package turnstile

import (
	"reflect"

	"gvisor.dev/gvisor/pkg/sync/locking"

	"github.com/cahirwpz/wifire-os/src/internal/task"
)

// chainMutex is task.SpinLock with the correctness validator.
type chainMutex struct {
	mu task.SpinLock
}

// turnstileMutex is task.SpinLock with the correctness validator.
type turnstileMutex struct {
	mu task.SpinLock
}

// contestedMutex is task.SpinLock with the correctness validator.
type contestedMutex struct {
	mu task.SpinLock
}

var (
	chainprefixIndex     *locking.MutexClass
	turnstileprefixIndex *locking.MutexClass
	contestedprefixIndex *locking.MutexClass
)

// turnstilelockNameIndex is used as an index passed to NestedLock and
// NestedUnlock, referring to an index within turnstilelockNames.
type turnstilelockNameIndex int

const (
	// The turnstile an owner is blocked on, locked while the turnstile of
	// one of its waiters is held.
	turnstileLockOwner = turnstilelockNameIndex(0)
)

var turnstilelockNames = []string{"owner"}

func init() {
	chainprefixIndex = locking.NewMutexClass(reflect.TypeOf(chainMutex{}), nil)
	turnstileprefixIndex = locking.NewMutexClass(reflect.TypeOf(turnstileMutex{}), turnstilelockNames)
	contestedprefixIndex = locking.NewMutexClass(reflect.TypeOf(contestedMutex{}), nil)
}

// Lock locks m.
// +checklocksignore
func (m *chainMutex) Lock(td *task.Task) {
	locking.AddGLock(chainprefixIndex, -1)
	m.mu.Lock(td)
}

// Unlock unlocks m.
// +checklocksignore
func (m *chainMutex) Unlock(td *task.Task) {
	m.mu.Unlock(td)
	locking.DelGLock(chainprefixIndex, -1)
}

// Owned reports whether td holds m.
func (m *chainMutex) Owned(td *task.Task) bool {
	return m.mu.Owned(td)
}

// Lock locks m.
// +checklocksignore
func (m *turnstileMutex) Lock(td *task.Task) {
	locking.AddGLock(turnstileprefixIndex, -1)
	m.mu.Lock(td)
}

// NestedLock locks m knowing that another lock of the same type is held.
// +checklocksignore
func (m *turnstileMutex) NestedLock(td *task.Task, i turnstilelockNameIndex) {
	locking.AddGLock(turnstileprefixIndex, int(i))
	m.mu.Lock(td)
}

// Unlock unlocks m.
// +checklocksignore
func (m *turnstileMutex) Unlock(td *task.Task) {
	m.mu.Unlock(td)
	locking.DelGLock(turnstileprefixIndex, -1)
}

// NestedUnlock unlocks m knowing that another lock of the same type is held.
// +checklocksignore
func (m *turnstileMutex) NestedUnlock(td *task.Task, i turnstilelockNameIndex) {
	m.mu.Unlock(td)
	locking.DelGLock(turnstileprefixIndex, int(i))
}

// Promote turns a nested hold of m into a plain one, after the lock it was
// nested in has been released.
// +checklocksignore
func (m *turnstileMutex) Promote(i turnstilelockNameIndex) {
	locking.DelGLock(turnstileprefixIndex, int(i))
	locking.AddGLock(turnstileprefixIndex, -1)
}

// Owned reports whether td holds m.
func (m *turnstileMutex) Owned(td *task.Task) bool {
	return m.mu.Owned(td)
}

// Lock locks m.
// +checklocksignore
func (m *contestedMutex) Lock(td *task.Task) {
	locking.AddGLock(contestedprefixIndex, -1)
	m.mu.Lock(td)
}

// Unlock unlocks m.
// +checklocksignore
func (m *contestedMutex) Unlock(td *task.Task) {
	m.mu.Unlock(td)
	locking.DelGLock(contestedprefixIndex, -1)
}
