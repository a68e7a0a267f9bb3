package executor

import (
	"sync"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Platform identifies the vendor stack a driver is built on. It matters for
// copy dispatch: a HIP driver layered on the NVIDIA platform can exchange
// peer copies with CUDA executors.
type Platform string

const (
	PlatformNVIDIA Platform = "nvidia"
	PlatformAMD    Platform = "amd"
	PlatformIntel  Platform = "intel"
)

// DeviceProperties describes one physical device. Executors query it once,
// under a device guard, at construction, and cache it for their lifetime.
type DeviceProperties struct {
	// Name of the device as reported by the driver.
	Name string

	// Platform the driver is built on, see Platform.
	Platform Platform

	// ComputeMajor and ComputeMinor are the compute-capability version.
	ComputeMajor int
	ComputeMinor int

	// ComputeUnits is the number of multiprocessors / compute units.
	ComputeUnits int

	// SubgroupSize is the warp/subgroup width.
	SubgroupSize int

	// MaxWorkgroupSize is the largest workgroup the device accepts.
	MaxWorkgroupSize int

	// TotalMemory is the device-local memory in bytes.
	TotalMemory uint64
}

// Stream is a FIFO submission queue owned by one executor. Work enqueued on a
// stream runs in submission order; errors from enqueued work are deferred and
// reported by Synchronize.
type Stream interface {
	// Enqueue submits work. It may block if the queue is full but never runs
	// fn on the calling goroutine.
	Enqueue(fn func() error) error

	// Synchronize blocks the caller until all previously enqueued work
	// completed and returns the first deferred error, if any.
	Synchronize() error

	// Close drains the stream and releases it. Idempotent.
	Close() error
}

// Library selects which vendor math-library session a LibHandle wraps.
type Library int

const (
	// LibBlas is the dense linear-algebra session (the cuBLAS analog).
	LibBlas Library = iota

	// LibSparse is the sparse linear-algebra session (the cuSPARSE analog).
	LibSparse
)

func (l Library) String() string {
	switch l {
	case LibBlas:
		return "blas"
	case LibSparse:
		return "sparse"
	default:
		return "unknown"
	}
}

// LibHandle is a vendor-library context created for one device and stream.
// Close must run while the owning device is current; HandleManager guarantees
// that by re-entering the device guard around destruction.
type LibHandle interface {
	// ID identifies the handle for logging.
	ID() string

	// Close releases the vendor context. Exactly once.
	Close() error
}

// Driver is the surface an accelerator platform must implement to back a
// Kind. Implementations wrap a vendor runtime (or simulate one, see the sim
// package). All entry points that depend on the "current device" are only
// called with a device guard held, except CurrentDevice and SetDevice which
// are the guard's own primitives.
type Driver interface {
	// Name of the driver implementation, for logging.
	Name() string

	// NumDevices enumerates devices. Returning ErrNoDevicePresent (possibly
	// wrapped) means a clean "zero devices"; any other error is a driver
	// failure.
	NumDevices() (int, error)

	// Properties introspects one device. Called under a device guard.
	Properties(device int) (DeviceProperties, error)

	// CurrentDevice returns the process-wide currently active device for this
	// driver.
	CurrentDevice() (int, error)

	// SetDevice makes device the currently active one. Only the device guard
	// calls it.
	SetDevice(device int) error

	// Allocate obtains numBytes on device with the given placement.
	Allocate(device int, mode AllocationMode, numBytes int) ([]byte, error)

	// Deallocate releases a region obtained from Allocate on the same device.
	Deallocate(device int, region []byte) error

	// CreateStream creates a new submission stream bound to device.
	CreateStream(device int) (Stream, error)

	// CreateLibHandle creates a vendor-library session for device, bound to
	// stream. Called under a device guard.
	CreateLibHandle(lib Library, device int, stream Stream) (LibHandle, error)

	// MemcpyToDevice enqueues a host-to-device transfer on stream.
	MemcpyToDevice(stream Stream, dst, src []byte) error

	// MemcpyFromDevice enqueues a device-to-host transfer on stream.
	MemcpyFromDevice(stream Stream, dst, src []byte) error

	// MemcpyPeer enqueues a device-to-device transfer on stream, possibly
	// across devices.
	MemcpyPeer(stream Stream, dstDevice int, dst []byte, srcDevice int, src []byte) error
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[Kind]Driver)
)

// RegisterDriver plugs a Driver in for an accelerator kind. A kind without a
// registered driver behaves as "driver absent": NumDevices reports 0 and
// executor construction fails with ErrNoDevice.
//
// To be safe, call RegisterDriver during initialization of a package.
func RegisterDriver(kind Kind, drv Driver) {
	if !kind.IsAccelerator() {
		exceptions.Panicf("RegisterDriver: %s is not an accelerator kind", kind)
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	if prev, ok := drivers[kind]; ok && drv != nil {
		klog.Warningf("driver %q for kind %s replaced by %q", prev.Name(), kind, drv.Name())
	}
	if drv == nil {
		delete(drivers, kind)
		return
	}
	drivers[kind] = drv
}

// driverFor returns the registered driver for kind, if any.
func driverFor(kind Kind) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	drv, ok := drivers[kind]
	return drv, ok
}
