package task

// Atomics used by the task structure and the synchronization code built on it.
// These are the go.uber.org/atomic types, which use real atomic instructions
// and cannot be accessed non-atomically by accident.

import "go.uber.org/atomic"

type (
	Bool    = atomic.Bool
	Int32   = atomic.Int32
	Uint32  = atomic.Uint32
	Uint64  = atomic.Uint64
	Uintptr = atomic.Uintptr
)
