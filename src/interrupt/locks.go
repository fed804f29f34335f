package interrupt

import (
	"reflect"

	"gvisor.dev/gvisor/pkg/sync/locking"

	"github.com/cahirwpz/wifire-os/src/internal/task"
)

// eventMutex is task.SpinLock with the correctness validator.
type eventMutex struct {
	mu task.SpinLock
}

// delegatedMutex is task.SpinLock with the correctness validator.
type delegatedMutex struct {
	mu task.SpinLock
}

var (
	eventprefixIndex     *locking.MutexClass
	delegatedprefixIndex *locking.MutexClass
)

func init() {
	eventprefixIndex = locking.NewMutexClass(reflect.TypeOf(eventMutex{}), nil)
	delegatedprefixIndex = locking.NewMutexClass(reflect.TypeOf(delegatedMutex{}), nil)
}

// Lock locks m.
// +checklocksignore
func (m *eventMutex) Lock(td *task.Task) {
	locking.AddGLock(eventprefixIndex, -1)
	m.mu.Lock(td)
}

// Unlock unlocks m.
// +checklocksignore
func (m *eventMutex) Unlock(td *task.Task) {
	m.mu.Unlock(td)
	locking.DelGLock(eventprefixIndex, -1)
}

// Lock locks m.
// +checklocksignore
func (m *delegatedMutex) Lock(td *task.Task) {
	locking.AddGLock(delegatedprefixIndex, -1)
	m.mu.Lock(td)
}

// Unlock unlocks m.
// +checklocksignore
func (m *delegatedMutex) Unlock(td *task.Task) {
	m.mu.Unlock(td)
	locking.DelGLock(delegatedprefixIndex, -1)
}
