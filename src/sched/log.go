package sched

import (
	"gvisor.dev/gvisor/pkg/log"

	"github.com/cahirwpz/wifire-os/src/internal/task"
)

const schedulerDebug = false

// Simple logging, for debugging.
func scheduleLog(msg string) {
	if schedulerDebug {
		log.Debugf("--- %s", msg)
	}
}

// Simple logging with a task pointer, for debugging.
func scheduleLogTask(msg string, t *task.Task) {
	if schedulerDebug {
		log.Debugf("--- %s %v state %v prio %d/%d", msg, t, t.State(), t.Prio(), t.BasePrio())
	}
}

// Simple logging of a priority change.
func scheduleLogPrio(msg string, t *task.Task, prio task.Priority) {
	if schedulerDebug {
		log.Debugf("--- %s %v %d -> %d", msg, t, t.Prio(), prio)
	}
}
