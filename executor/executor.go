// Package executor provides the execution and memory-management layer the
// rest of the library builds numerical kernels on: a uniform handle over
// heterogeneous backends (sequential host, parallel host, CUDA, HIP and
// DPC++/SYCL devices) with correct memory ownership, cross-backend transfer
// and device-context discipline at every call site.
//
// An Executor owns an allocation strategy, a device id and a submission
// stream. Kernels and copies involving accelerators run asynchronously
// against the stream; Synchronize is the only blocking barrier, and
// asynchronous errors are guaranteed visible no later than the next
// Synchronize on the same executor.
//
// Concurrent calls on one executor must be externally serialized by the
// caller; this package provides correct device-context switching per call,
// not internal locking.
//
// Accelerator kinds are backed by pluggable Driver implementations, see
// RegisterDriver. The sim subpackage ships a pure-Go driver so every code
// path is exercisable without hardware.
package executor

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executor is the polymorphic backend handle. The kind, device id, stream and
// allocator are fixed at construction; vendor-library handles are created
// lazily, exactly once. Buffers keep their executor reachable, so an executor
// stays alive as long as any buffer allocated on it.
type Executor struct {
	kind   Kind
	device int
	master *Executor

	driver     Driver // nil for host kinds
	stream     Stream // nil for host kinds
	ownsStream bool

	alloc       Allocator
	mode        AllocationMode
	hostVisible bool

	props DeviceProperties

	blas   *handleManager
	sparse *handleManager

	workers int // >0 only for the OMP kind

	finalized atomic.Bool
}

// Option adjusts accelerator-executor construction.
type Option func(*options)

type options struct {
	stream Stream
	alloc  Allocator
}

// WithStream submits the executor's work to an existing stream instead of
// creating a fresh one. The executor does not close a borrowed stream.
func WithStream(s Stream) Option {
	return func(o *options) { o.stream = s }
}

// WithAllocator replaces the mode-derived allocation strategy with a
// caller-supplied one, e.g. to share one memory pool across executors. Host
// visibility of buffers still follows the declared allocation mode.
func WithAllocator(a Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// NewReference creates a sequential host executor. It never fails and needs
// no driver.
func NewReference() *Executor {
	return &Executor{
		kind:        Reference,
		alloc:       newHostAllocator(),
		hostVisible: true,
		props:       hostProperties(),
	}
}

// NewOMP creates a parallel host executor with the given worker count;
// workers <= 0 selects one worker per logical CPU.
func NewOMP(workers int) *Executor {
	if workers <= 0 {
		workers = defaultWorkers()
	}
	return &Executor{
		kind:        OMP,
		alloc:       newHostAllocator(),
		hostVisible: true,
		workers:     workers,
		props:       hostProperties(),
	}
}

// NewAccelerator creates an executor for an accelerator kind on the given
// device.
//
// master is the host executor used as a staging/fallback side for operations
// that must run on the host; nil selects a fresh Reference executor. mode
// selects the allocation strategy (see AllocationMode).
//
// Construction fails with ErrNoDevice when the device id is outside
// [0, NumDevices(kind)), which includes the case of a kind with no driver or
// no devices, and with ErrDriver when enumeration or introspection fails.
// A failed construction never leaks a half-built executor.
func NewAccelerator(kind Kind, device int, master *Executor, mode AllocationMode, opts ...Option) (*Executor, error) {
	if !kind.IsAccelerator() {
		exceptions.Panicf("NewAccelerator called with non-accelerator kind %s", kind)
	}
	if master == nil {
		master = NewReference()
	} else if !master.kind.IsHost() {
		exceptions.Panicf("master executor must be a host kind, got %s", master.kind)
	}

	count, err := NumDevices(kind)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating %s executor", kind)
	}
	if device < 0 || device >= count {
		return nil, errors.WithMessagef(ErrNoDevice,
			"creating %s executor: device %d requested, %d device(s) available", kind, device, count)
	}
	drv, _ := driverFor(kind)

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Executor{
		kind:        kind,
		device:      device,
		master:      master,
		driver:      drv,
		mode:        mode,
		hostVisible: mode.hostVisible(),
	}

	guard, err := e.scopedDevice()
	if err != nil {
		return nil, errors.WithMessagef(err, "creating %s executor for device %d", kind, device)
	}
	defer guard.release()

	if o.alloc != nil {
		e.alloc = o.alloc
	} else {
		e.alloc = newDeviceAllocator(drv, kind, device, mode)
	}

	if o.stream != nil {
		e.stream = o.stream
	} else {
		e.stream, err = drv.CreateStream(device)
		if err != nil {
			return nil, errors.WithMessagef(ErrDriver, "creating stream on %s device %d: %v", kind, device, err)
		}
		e.ownsStream = true
	}

	// Device introspection happens once here; the properties are cached for
	// the executor's lifetime and never re-queried.
	e.props, err = drv.Properties(device)
	if err != nil {
		if e.ownsStream {
			if closeErr := e.stream.Close(); closeErr != nil {
				klog.Warningf("closing stream after failed %s executor construction: %v", kind, closeErr)
			}
		}
		return nil, errors.WithMessagef(ErrDriver, "introspecting %s device %d: %v", kind, device, err)
	}

	e.blas = newHandleManager(e, LibBlas)
	e.sparse = newHandleManager(e, LibSparse)
	klog.V(1).Infof("created %s executor on device %d (%s, compute %d.%d)",
		kind, device, e.props.Name, e.props.ComputeMajor, e.props.ComputeMinor)
	return e, nil
}

// NewCUDA creates a CUDA executor, see NewAccelerator.
func NewCUDA(device int, master *Executor, mode AllocationMode, opts ...Option) (*Executor, error) {
	return NewAccelerator(CUDA, device, master, mode, opts...)
}

// NewHIP creates a HIP executor, see NewAccelerator.
func NewHIP(device int, master *Executor, mode AllocationMode, opts ...Option) (*Executor, error) {
	return NewAccelerator(HIP, device, master, mode, opts...)
}

// NewDPCPP creates a DPC++/SYCL executor, see NewAccelerator.
func NewDPCPP(device int, master *Executor, mode AllocationMode, opts ...Option) (*Executor, error) {
	return NewAccelerator(DPCPP, device, master, mode, opts...)
}

func hostProperties() DeviceProperties {
	return DeviceProperties{
		Name:         "host",
		ComputeUnits: defaultWorkers(),
		SubgroupSize: 1,
	}
}

// assertValid panics if the executor is nil or already finalized. Operating
// on a finalized executor is a programming error, not a recoverable state.
func (e *Executor) assertValid() {
	if e == nil {
		exceptions.Panicf("executor is nil")
	}
	if e.finalized.Load() {
		exceptions.Panicf("%s executor used after Finalize", e.kind)
	}
}

// Kind returns the executor's backend kind.
func (e *Executor) Kind() Kind { return e.kind }

// DeviceID returns the device the executor is bound to. Host kinds report 0.
func (e *Executor) DeviceID() int { return e.device }

// Master returns the host-side fallback executor, or nil for host kinds.
func (e *Executor) Master() *Executor { return e.master }

// Properties returns the device properties cached at construction.
func (e *Executor) Properties() DeviceProperties {
	e.assertValid()
	return e.props
}

// AllocationMode returns the placement mode the executor allocates with.
func (e *Executor) AllocationMode() AllocationMode { return e.mode }

// String returns "kind" for host executors and "kind:device" otherwise.
func (e *Executor) String() string {
	if e == nil {
		return "<nil executor>"
	}
	if e.kind.IsHost() {
		return e.kind.String()
	}
	return fmt.Sprintf("%s:%d", e.kind, e.device)
}

// Allocate obtains numBytes through the executor's allocation strategy,
// inside a device guard for accelerator kinds. The returned buffer is owned
// by this executor and must be released through Free.
//
// A zero-byte allocation succeeds without touching the allocator or any
// guard.
func (e *Executor) Allocate(numBytes int) (*Buffer, error) {
	e.assertValid()
	if numBytes < 0 {
		return nil, errors.Errorf("%s: negative allocation size %d", e, numBytes)
	}
	if numBytes == 0 {
		return &Buffer{exec: e, hostVisible: e.hostVisible}, nil
	}
	guard, err := e.scopedDevice()
	if err != nil {
		return nil, err
	}
	defer guard.release()
	region, err := e.alloc.Allocate(numBytes)
	if err != nil {
		return nil, err
	}
	return &Buffer{exec: e, region: region, size: numBytes, hostVisible: e.hostVisible}, nil
}

// Free releases a buffer. It never fails outward: release problems are logged
// and swallowed because Free runs on cleanup paths. Freeing nil or an
// already-freed buffer is a safe no-op. The release always goes through the
// allocator that produced the region, under the owning executor's device
// guard, regardless of which executor Free was called on.
func (e *Executor) Free(buf *Buffer) {
	if buf == nil || !buf.released.CompareAndSwap(false, true) {
		return
	}
	owner := buf.exec
	if owner != e {
		klog.Warningf("buffer allocated on %s released through %s; releasing via its owner", owner, e)
	}
	if buf.region == nil {
		return
	}
	guard, err := owner.scopedDevice()
	if err != nil {
		klog.Warningf("releasing buffer on %s: device guard failed, leaking %d bytes: %v", owner, buf.size, err)
		return
	}
	defer guard.release()
	owner.alloc.Deallocate(buf.region)
	buf.region = nil
}

// Synchronize blocks the calling goroutine until all work previously
// submitted to this executor's stream has completed. It is the only blocking
// barrier this package exposes and the point where deferred asynchronous
// errors surface, wrapped as ErrSynchronization. Host kinds complete all work
// synchronously, so Synchronize is an immediate success for them.
func (e *Executor) Synchronize() error {
	e.assertValid()
	if e.kind.IsHost() {
		return nil
	}
	guard, err := e.scopedDevice()
	if err != nil {
		return err
	}
	defer guard.release()
	if err := e.stream.Synchronize(); err != nil {
		return errors.WithMessagef(ErrSynchronization, "%s: %v", e, err)
	}
	return nil
}

// BlasHandle returns the dense vendor-library session for this executor,
// creating it under a device guard on first use.
func (e *Executor) BlasHandle() (LibHandle, error) {
	e.assertValid()
	if e.kind.IsHost() {
		return nil, errors.WithMessagef(ErrNotSupported, "%s executors carry no vendor blas handle", e.kind)
	}
	return e.blas.get()
}

// SparseHandle returns the sparse vendor-library session for this executor,
// creating it under a device guard on first use.
func (e *Executor) SparseHandle() (LibHandle, error) {
	e.assertValid()
	if e.kind.IsHost() {
		return nil, errors.WithMessagef(ErrNotSupported, "%s executors carry no vendor sparse handle", e.kind)
	}
	return e.sparse.get()
}

// Finalize destroys the executor's vendor handles and, if it created its own
// stream, drains and closes it. Idempotent; failures are logged and
// swallowed. Buffers allocated on the executor must be freed before Finalize.
func (e *Executor) Finalize() {
	if e == nil || !e.finalized.CompareAndSwap(false, true) {
		return
	}
	if e.kind.IsHost() {
		return
	}
	e.blas.close()
	e.sparse.close()
	if e.ownsStream {
		if err := e.stream.Close(); err != nil {
			klog.Warningf("closing stream of %s: %v", e, err)
		}
	}
}
