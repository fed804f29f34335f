package task

import (
	"testing"
	"time"

	"go.uber.org/atomic"
)

func TestSemaphorePostBeforeWait(t *testing.T) {
	var s Semaphore
	s.Post()
	s.Post()
	if n := s.Pending(); n != 2 {
		t.Fatalf("pending posts: got %d, want 2", n)
	}
	s.Wait()
	s.Wait()
	if n := s.Pending(); n != 0 {
		t.Errorf("pending posts: got %d, want 0", n)
	}
}

func TestSemaphoreWait(t *testing.T) {
	var s Semaphore
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Wait returned without a Post")
	case <-time.After(10 * time.Millisecond):
	}
	s.Post()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Post did not wake the waiter")
	}
}

func TestPauseResume(t *testing.T) {
	td := New("sleeper", PrioKernel)
	defer td.Exit()

	// A resume that comes first is not lost.
	td.Resume()
	td.Pause()

	done := make(chan struct{})
	go func() {
		td.Pause()
		close(done)
	}()
	td.Resume()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Resume did not wake the paused task")
	}
}

func TestPMutex(t *testing.T) {
	var m PMutex
	counter := 0
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	if counter != 4000 {
		t.Errorf("counter: got %d, want 4000", counter)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("unlock of unlocked PMutex did not panic")
		}
	}()
	m.Unlock()
}

func TestSpinLock(t *testing.T) {
	a := New("a", PrioKernel)
	defer a.Exit()
	b := New("b", PrioKernel)
	defer b.Exit()

	var l SpinLock
	l.Lock(a)
	if !l.Owned(a) || l.Owned(b) {
		t.Errorf("wrong owner")
	}
	if !a.InterruptsDisabled() {
		t.Errorf("interrupts enabled with a spin lock held")
	}
	if l.TryLock(b) {
		t.Errorf("TryLock of held spin lock succeeded")
	}
	if b.InterruptsDisabled() {
		t.Errorf("failed TryLock left interrupts disabled")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("recursive spin lock did not panic")
			}
		}()
		l.Lock(a)
	}()
	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("unlock by non-owner did not panic")
			}
		}()
		l.Unlock(b)
	}()

	l.Unlock(a)
	if a.InterruptsDisabled() {
		t.Errorf("interrupts disabled after unlock")
	}
	if !l.TryLock(b) {
		t.Errorf("TryLock of free spin lock failed")
	}
	l.Unlock(b)
}

func TestInterruptNesting(t *testing.T) {
	td := New("intr", PrioKernel)
	defer td.Exit()

	td.EnterInterrupt()
	if !td.InInterrupt() || !td.InterruptsDisabled() {
		t.Errorf("interrupt context not entered")
	}
	td.ExitInterrupt()
	if td.InInterrupt() || td.InterruptsDisabled() {
		t.Errorf("interrupt context not left")
	}

	defer func() {
		if recover() == nil {
			t.Errorf("unbalanced ExitInterrupt did not panic")
		}
	}()
	td.ExitInterrupt()
}

func TestTaskList(t *testing.T) {
	before := Count()
	a := New("a", PrioUser)
	b := New("b", PrioKernel)
	if n := Count(); n != before+2 {
		t.Errorf("tasks: got %d, want %d", n, before+2)
	}
	if a.ID() == b.ID() {
		t.Errorf("tasks share ID %d", a.ID())
	}
	if a.Prio() != PrioUser || a.BasePrio() != PrioUser || a.Borrowing() {
		t.Errorf("new task priority: got %d/%d", a.Prio(), a.BasePrio())
	}

	a.Exit()
	a.Join()
	if a.State() != Dead {
		t.Errorf("exited task state: %v", a.State())
	}
	b.Exit()
	if n := Count(); n != before {
		t.Errorf("tasks after exit: got %d, want %d", n, before)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("double exit did not panic")
		}
	}()
	b.Exit()
}

func TestWaitChannel(t *testing.T) {
	var x, y struct{ _ int }
	if Chan(&x) != Chan(&x) {
		t.Errorf("wait channels of the same object differ")
	}
	if Chan(&x) == Chan(&y) {
		t.Errorf("wait channels of different objects are equal")
	}
	if Chan(&x).IsNil() || !(WaitChannel{}).IsNil() {
		t.Errorf("IsNil is wrong")
	}
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		s        State
		name     string
		runnable bool
	}{
		{Ready, "ready", true},
		{Running, "running", true},
		{Blocked, "blocked", false},
		{Sleeping, "sleeping", false},
		{State(42), "state(42)", false},
	} {
		if got := tc.s.String(); got != tc.name {
			t.Errorf("State(%d).String() = %q, want %q", uint32(tc.s), got, tc.name)
		}
		if got := tc.s.Runnable(); got != tc.runnable {
			t.Errorf("%v.Runnable() = %v, want %v", tc.s, got, tc.runnable)
		}
	}
}

func TestRegisterResource(t *testing.T) {
	var created, released atomic.Int32
	RegisterResource(
		func(*Task) { created.Inc() },
		func(*Task) { released.Inc() })

	td := New("res", PrioUser)
	if created.Load() != 1 || released.Load() != 0 {
		t.Errorf("after New: created %d released %d", created.Load(), released.Load())
	}
	td.Exit()
	if created.Load() != 1 || released.Load() != 1 {
		t.Errorf("after Exit: created %d released %d", created.Load(), released.Load())
	}
}

func TestOnInterruptsEnabled(t *testing.T) {
	td := New("hook", PrioKernel)
	defer td.Exit()

	var calls atomic.Int32
	OnInterruptsEnabled(func(x *Task) {
		if x == td {
			calls.Inc()
		}
	})

	var l SpinLock
	td.DisableInterrupts()
	l.Lock(td)
	l.Unlock(td)
	if n := calls.Load(); n != 0 {
		t.Errorf("hook ran %d times with interrupts still disabled", n)
	}
	td.EnableInterrupts()
	if n := calls.Load(); n != 1 {
		t.Errorf("hook calls after last enable: got %d, want 1", n)
	}

	td.EnterInterrupt()
	td.ExitInterrupt()
	if n := calls.Load(); n != 2 {
		t.Errorf("hook calls after leaving interrupt context: got %d, want 2", n)
	}
}
