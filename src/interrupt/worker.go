package interrupt

import (
	"gvisor.dev/gvisor/pkg/log"
	gsync "gvisor.dev/gvisor/pkg/sync"

	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/sched"
	"github.com/cahirwpz/wifire-os/src/sleepq"
)

// If true, print verbose debug logs.
const verbose = false

// Interrupt handlers delegated to be called in the interrupt thread.
var (
	delegatedLock delegatedMutex
	delegated     []*Handler
)

var (
	workerOnce gsync.Once
	worker     *task.Task
)

func delegatedChan() task.WaitChannel {
	return task.Chan(&delegated)
}

// delegate queues h for the interrupt thread. It never sleeps.
func delegate(td *task.Task, h *Handler) {
	delegatedLock.Lock(td)
	delegated = append(delegated, h)
	sleepq.Signal(td, delegatedChan())
	delegatedLock.Unlock(td)
}

// Init starts the interrupt thread with the given priority, unless it runs
// already, and returns it.
func Init(prio task.Priority) *task.Task {
	workerOnce.Do(func() {
		worker = sched.Start("interrupt", prio, workerLoop)
	})
	return worker
}

// Worker returns the interrupt thread, or nil before Init.
func Worker() *task.Task {
	return worker
}

func workerLoop(td *task.Task) {
	for {
		delegatedLock.Lock(td)
		for len(delegated) == 0 {
			sleepq.Sleep(td, delegatedChan(), "interrupt", 0, &delegatedLock)
		}
		h := delegated[0]
		delegated[0] = nil
		delegated = delegated[1:]
		delegatedLock.Unlock(td)

		if verbose {
			log.Debugf("interrupt: running delegated handler %s", h.Name)
		}
		h.Handler(td, h.Arg)

		ie := h.event
		ie.lock.Lock(td)
		ie.insert(h)
		h.delegated = false
		ie.enableSource(td)
		ie.lock.Unlock(td)
	}
}
