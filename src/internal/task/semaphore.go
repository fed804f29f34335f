package task

// Semaphore is the park token of a task.
//
// The value is the number of posts not yet consumed, or minus one while the
// (single) waiter sleeps. A Post that arrives before the matching Wait is
// remembered, which is what makes "release a lock, then pause" as good as an
// atomic release-and-sleep. Only a single task may wait on a semaphore.
type Semaphore struct {
	futex Futex
}

// Post (unlock) the semaphore, incrementing the value in the semaphore.
func (s *Semaphore) Post() {
	if newValue := int32(s.futex.Inc()); newValue == 0 {
		// The value was -1: somebody sleeps in Wait.
		s.futex.Wake()
	}
}

// Wait (lock) the semaphore, decrementing the value in the semaphore.
func (s *Semaphore) Wait() {
	value := int32(s.futex.Dec())
	for value < 0 {
		s.futex.Wait(uint32(value))
		value = int32(s.futex.Load())
	}
}

// Pending returns the number of posts that have not been consumed yet.
func (s *Semaphore) Pending() int {
	if v := int32(s.futex.Load()); v > 0 {
		return int(v)
	}
	return 0
}
