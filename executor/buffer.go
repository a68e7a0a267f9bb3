package executor

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
)

// Buffer is a raw memory region owned by exactly one Executor. Moving its
// contents to another executor is always a copy (CopyTo) followed by a
// release; a region is never reinterpreted across backend boundaries.
//
// The buffer keeps its executor reachable, so a buffer may safely outlive the
// code that created the executor.
type Buffer struct {
	exec        *Executor
	region      []byte
	size        int
	hostVisible bool
	released    atomic.Bool
}

// Size returns the buffer's length in bytes.
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return b.size
}

// Executor returns the executor that owns this buffer.
func (b *Buffer) Executor() *Executor {
	return b.exec
}

// Bytes returns a host-side view of the buffer contents. It is only legal for
// host-visible memory: buffers of host executors, and accelerator buffers
// allocated with a unified mode. Reading a unified buffer while asynchronous
// work on it is still in flight is a race; Synchronize first.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.released.Load() {
		exceptions.Panicf("Bytes called on a released or nil buffer")
	}
	if !b.hostVisible {
		exceptions.Panicf("Bytes called on device-only memory of %s device %d (allocate with a unified mode for host access)",
			b.exec.kind, b.exec.device)
	}
	return b.region[:b.size]
}

// Released reports whether the buffer was already freed.
func (b *Buffer) Released() bool {
	return b == nil || b.released.Load()
}
