package sched

import (
	"testing"
	"time"

	"github.com/cahirwpz/wifire-os/src/internal/task"
)

func TestStart(t *testing.T) {
	ran := make(chan *task.Task, 1)
	td := Start("worker", task.PrioKernel, func(td *task.Task) {
		ran <- td
	})
	td.Join()
	if got := <-ran; got != td {
		t.Errorf("thread function got %v, want %v", got, td)
	}
	if td.State() != task.Dead {
		t.Errorf("state after return: %v", td.State())
	}
}

func TestSwitchWakeup(t *testing.T) {
	td := Adopt("main", task.PrioKernel)
	defer td.Exit()

	sleeper := Start("sleeper", task.PrioUser, func(td *task.Task) {
		var lk task.SpinLock
		lk.Lock(td)
		td.SetState(task.Sleeping)
		Switch(td, &lk)
	})
	for sleeper.State() != task.Sleeping {
		Yield()
	}
	Wakeup(sleeper)

	done := make(chan struct{})
	go func() {
		sleeper.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("sleeper was not woken up")
	}
}

// A Wakeup that comes before the thread pauses is remembered.
func TestEarlyWakeup(t *testing.T) {
	td := Adopt("main", task.PrioKernel)
	defer td.Exit()

	td.SetState(task.Sleeping)
	Wakeup(td)
	if td.State() != task.Ready {
		t.Errorf("state after wakeup: %v", td.State())
	}
	Switch(td, nil)
	if td.State() != task.Running {
		t.Errorf("state after switch: %v", td.State())
	}
}

func TestSwitchPanics(t *testing.T) {
	td := Adopt("main", task.PrioKernel)
	defer td.Exit()

	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s: Switch did not panic", name)
			}
		}()
		fn()
	}

	mustPanic("interrupt context", func() {
		td.EnterInterrupt()
		defer td.ExitInterrupt()
		Switch(td, nil)
	})
	mustPanic("interrupts disabled", func() {
		td.DisableInterrupts()
		defer td.EnableInterrupts()
		Switch(td, nil)
	})
}

func TestLendPrio(t *testing.T) {
	td := Adopt("main", task.PrioUser)
	defer td.Exit()

	td.Lock.Lock(td)
	defer td.Lock.Unlock(td)

	LendPrio(td, task.PrioKernel)
	if td.Prio() != task.PrioKernel || !td.Borrowing() {
		t.Errorf("after lend: prio %d borrowing %v", td.Prio(), td.Borrowing())
	}

	// Raising the base priority below the lent one keeps the loan.
	if old := SetBasePrio(td, task.PrioUser+10); old != task.PrioKernel {
		t.Errorf("SetBasePrio returned %d, want %d", old, task.PrioKernel)
	}
	if td.Prio() != task.PrioKernel || td.BasePrio() != task.PrioUser+10 {
		t.Errorf("after set base: prio %d base %d", td.Prio(), td.BasePrio())
	}

	UnlendPrio(td, task.PrioUser+20)
	if td.Prio() != task.PrioUser+20 || !td.Borrowing() {
		t.Errorf("partial unlend: prio %d borrowing %v", td.Prio(), td.Borrowing())
	}
	UnlendPrio(td, task.PrioIdle)
	if td.Prio() != task.PrioUser+10 || td.Borrowing() {
		t.Errorf("full unlend: prio %d borrowing %v", td.Prio(), td.Borrowing())
	}

	// Above the lent priority the base priority takes over.
	LendPrio(td, task.PrioKernel)
	SetBasePrio(td, task.PrioIntr)
	if td.Prio() != task.PrioIntr || td.Borrowing() {
		t.Errorf("base above loan: prio %d borrowing %v", td.Prio(), td.Borrowing())
	}
}
