package sleepq

import (
	"fmt"
	"testing"
	"time"

	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/sched"
)

type event struct {
	_ int
}

type result struct {
	td     *task.Task
	reason Wakeup
}

func waitSleeping(t *testing.T, td *task.Task) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for td.State() != task.Sleeping {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %v to sleep", td)
		}
		sched.Yield()
	}
}

func sleeper(name string, wc task.WaitChannel, flags Flags, done chan<- result) *task.Task {
	return sched.Start(name, task.PrioKernel, func(td *task.Task) {
		reason := WaitFlags(td, wc, name, flags)
		done <- result{td, reason}
	})
}

func TestSignalOrder(t *testing.T) {
	td := sched.Adopt("main", task.PrioKernel)
	defer td.Exit()

	var ev event
	wc := task.Chan(&ev)
	done := make(chan result, 4)
	var threads []*task.Task
	for i := 0; i < 4; i++ {
		w := sleeper(fmt.Sprintf("sleeper%d", i), wc, 0, done)
		waitSleeping(t, w)
		threads = append(threads, w)
	}
	if got := Sleeping(td, wc); len(got) != len(threads) {
		t.Fatalf("got %d sleeping threads, want %d", len(got), len(threads))
	}

	for i, want := range threads {
		if !Signal(td, wc) {
			t.Fatalf("signal %d found no sleeper", i)
		}
		r := <-done
		if r.td != want {
			t.Errorf("wakeup %d: got %v, want %v", i, r.td, want)
		}
		if r.reason != Regular {
			t.Errorf("wakeup %d: reason %v", i, r.reason)
		}
	}
	if Signal(td, wc) {
		t.Errorf("signal without sleepers reported a wakeup")
	}
	for _, w := range threads {
		w.Join()
	}
}

func TestBroadcast(t *testing.T) {
	td := sched.Adopt("main", task.PrioKernel)
	defer td.Exit()

	var ev event
	wc := task.Chan(&ev)
	done := make(chan result, 3)
	for i := 0; i < 3; i++ {
		waitSleeping(t, sleeper(fmt.Sprintf("sleeper%d", i), wc, 0, done))
	}
	if !Broadcast(td, wc) {
		t.Fatalf("broadcast found no sleepers")
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	if Broadcast(td, wc) {
		t.Errorf("broadcast without sleepers reported a wakeup")
	}
	if got := Sleeping(td, wc); got != nil {
		t.Errorf("threads still sleeping: %v", got)
	}
}

func TestAbort(t *testing.T) {
	td := sched.Adopt("main", task.PrioKernel)
	defer td.Exit()

	var ev event
	wc := task.Chan(&ev)
	done := make(chan result, 2)

	intr := sleeper("interruptible", wc, Interruptible, done)
	waitSleeping(t, intr)
	plain := sleeper("plain", wc, 0, done)
	waitSleeping(t, plain)

	if Abort(td, plain, Interrupted) {
		t.Errorf("uninterruptible sleep was interrupted")
	}
	if !Abort(td, intr, Interrupted) {
		t.Fatalf("interruptible sleep was not interrupted")
	}
	if r := <-done; r.td != intr || r.reason != Interrupted {
		t.Errorf("got %v woken up (%v), want interruptible (interrupted)", r.td, r.reason)
	}
	if Abort(td, intr, Interrupted) {
		t.Errorf("thread that does not sleep was interrupted")
	}

	if !Signal(td, wc) {
		t.Fatalf("signal found no sleeper")
	}
	if r := <-done; r.td != plain || r.reason != Regular {
		t.Errorf("got %v woken up (%v), want plain (regular)", r.td, r.reason)
	}
}

func TestInterlock(t *testing.T) {
	td := sched.Adopt("producer", task.PrioKernel)
	defer td.Exit()

	const n = 1000
	var (
		lk    task.SpinLock
		count int
		ev    event
	)
	wc := task.Chan(&ev)
	consumed := make(chan int, 1)

	sched.Start("consumer", task.PrioKernel, func(td *task.Task) {
		got := 0
		for got < n {
			lk.Lock(td)
			for count == 0 {
				Sleep(td, wc, "consumer", 0, &lk)
			}
			count--
			got++
			lk.Unlock(td)
		}
		consumed <- got
	})

	for i := 0; i < n; i++ {
		lk.Lock(td)
		count++
		Signal(td, wc)
		lk.Unlock(td)
		if i%64 == 0 {
			sched.Yield()
		}
	}

	select {
	case got := <-consumed:
		if got != n {
			t.Errorf("consumed %d, want %d", got, n)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("consumer missed a wakeup")
	}
}

func TestDestroyInUse(t *testing.T) {
	h := Alloc()
	queues.Get(h).blocked = []*task.Task{nil}
	defer func() {
		if recover() == nil {
			t.Errorf("destroy of sleep queue in use did not panic")
		}
		queues.Get(h).blocked = nil
		Destroy(h)
	}()
	Destroy(h)
}
