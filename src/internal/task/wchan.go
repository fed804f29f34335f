package task

import "unsafe"

// WaitChannel is the identity of an object threads may block on: the address
// of a lock, a condition variable, a work queue. It is only compared and
// hashed, never dereferenced. Heap objects do not move, so the identity stays
// the same for as long as the object is reachable. The zero WaitChannel
// refers to nothing.
type WaitChannel struct {
	p unsafe.Pointer
}

// Chan returns the wait channel of the object p points to.
func Chan[T any](p *T) WaitChannel {
	if p == nil {
		panic("task: wait channel of nil pointer")
	}
	return WaitChannel{unsafe.Pointer(p)}
}

// Addr returns the address behind wc, for hashing.
func (wc WaitChannel) Addr() uintptr {
	return uintptr(wc.p)
}

// IsNil reports whether wc refers to nothing.
func (wc WaitChannel) IsNil() bool {
	return wc.p == nil
}
