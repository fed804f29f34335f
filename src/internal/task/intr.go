package task

import (
	"go.uber.org/atomic"
)

// DisableInterrupts masks interrupts for the thread. Calls nest.
func (t *Task) DisableInterrupts() {
	t.idnest.Inc()
}

// Functions called whenever a thread enables interrupts again. Copied on
// write, so EnableInterrupts never takes a lock.
var (
	enableHooks     atomic.Pointer[[]func(*Task)]
	enableHooksLock PMutex
)

// OnInterruptsEnabled registers fn to be called by every thread that drops
// its interrupt disable nesting to zero. It is how an interrupt controller
// delivers interrupts that were raised while they were masked.
func OnInterruptsEnabled(fn func(*Task)) {
	enableHooksLock.Lock()
	defer enableHooksLock.Unlock()
	var hooks []func(*Task)
	if old := enableHooks.Load(); old != nil {
		hooks = append(hooks, *old...)
	}
	hooks = append(hooks, fn)
	enableHooks.Store(&hooks)
}

// EnableInterrupts undoes one DisableInterrupts call.
func (t *Task) EnableInterrupts() {
	n := t.idnest.Dec()
	if n < 0 {
		panic("task: interrupts enabled more times than disabled in " + t.name)
	}
	if n > 0 {
		return
	}
	if hooks := enableHooks.Load(); hooks != nil {
		for _, fn := range *hooks {
			fn(t)
		}
	}
}

// InterruptsDisabled reports whether interrupts are masked for the thread.
func (t *Task) InterruptsDisabled() bool {
	return t.idnest.Load() > 0
}

// EnterInterrupt switches the thread to interrupt context, which also masks
// interrupts. Code running in interrupt context must never go to sleep.
func (t *Task) EnterInterrupt() {
	t.DisableInterrupts()
	t.intrLevel.Inc()
}

// ExitInterrupt leaves interrupt context.
func (t *Task) ExitInterrupt() {
	if t.intrLevel.Dec() < 0 {
		panic("task: unbalanced interrupt context exit in " + t.name)
	}
	t.EnableInterrupts()
}

// InInterrupt reports whether the thread executes in interrupt context.
func (t *Task) InInterrupt() bool {
	return t.intrLevel.Load() > 0
}
