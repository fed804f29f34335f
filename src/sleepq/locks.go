package sleepq

import (
	"reflect"

	"gvisor.dev/gvisor/pkg/sync/locking"

	"github.com/cahirwpz/wifire-os/src/internal/task"
)

// chainMutex is task.SpinLock with the correctness validator.
type chainMutex struct {
	mu task.SpinLock
}

var chainprefixIndex *locking.MutexClass

func init() {
	chainprefixIndex = locking.NewMutexClass(reflect.TypeOf(chainMutex{}), nil)
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
