package executor

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AllocationMode selects the placement of accelerator memory.
type AllocationMode int

const (
	// AllocDevice places memory in device-local storage, visible only to the
	// device's own execution units.
	AllocDevice AllocationMode = iota

	// AllocUnifiedGlobal places memory so both host and device can address
	// it, with the placement hint favoring the device.
	AllocUnifiedGlobal

	// AllocUnifiedHost places memory so both host and device can address it,
	// pinned on the host side.
	AllocUnifiedHost
)

func (m AllocationMode) String() string {
	switch m {
	case AllocDevice:
		return "device"
	case AllocUnifiedGlobal:
		return "unified-global"
	case AllocUnifiedHost:
		return "unified-host"
	default:
		return "invalid"
	}
}

// hostVisible reports whether memory allocated with this mode can be read and
// written directly from the host.
func (m AllocationMode) hostVisible() bool {
	return m == AllocUnifiedGlobal || m == AllocUnifiedHost
}

// Allocator encapsulates how raw bytes are obtained and released for one
// executor. Allocate and Deallocate are strictly paired: a region obtained
// from one allocator must be released through the same allocator instance.
//
// Deallocate never reports failure to the caller -- it runs on cleanup paths
// that must not raise -- and must tolerate a nil region as a no-op.
//
// Executors call both methods with the device guard already held, so
// implementations never switch devices themselves.
type Allocator interface {
	Allocate(numBytes int) ([]byte, error)
	Deallocate(region []byte)
}

// hostAllocator serves the host kinds. Regions are pooled by exact size to
// cut garbage-collection pressure for the repeated same-sized workspace
// allocations numerical solvers make.
type hostAllocator struct {
	pools sync.Map // int -> *sync.Pool of []byte
}

func newHostAllocator() *hostAllocator {
	return &hostAllocator{}
}

func (a *hostAllocator) pool(numBytes int) *sync.Pool {
	if p, ok := a.pools.Load(numBytes); ok {
		return p.(*sync.Pool)
	}
	p, _ := a.pools.LoadOrStore(numBytes, &sync.Pool{
		New: func() any {
			return make([]byte, numBytes)
		},
	})
	return p.(*sync.Pool)
}

func (a *hostAllocator) Allocate(numBytes int) ([]byte, error) {
	if numBytes < 0 {
		return nil, errors.Errorf("negative allocation size %d", numBytes)
	}
	if numBytes == 0 {
		return nil, nil
	}
	return a.pool(numBytes).Get().([]byte), nil
}

func (a *hostAllocator) Deallocate(region []byte) {
	if region == nil {
		return
	}
	a.pool(len(region)).Put(region)
}

// deviceAllocator delegates to the kind's driver with a fixed placement mode.
// It is the strategy behind AllocDevice, AllocUnifiedGlobal and
// AllocUnifiedHost.
type deviceAllocator struct {
	drv    Driver
	kind   Kind
	device int
	mode   AllocationMode
}

func newDeviceAllocator(drv Driver, kind Kind, device int, mode AllocationMode) *deviceAllocator {
	return &deviceAllocator{drv: drv, kind: kind, device: device, mode: mode}
}

func (a *deviceAllocator) Allocate(numBytes int) ([]byte, error) {
	if numBytes < 0 {
		return nil, errors.Errorf("negative allocation size %d", numBytes)
	}
	if numBytes == 0 {
		return nil, nil
	}
	region, err := a.drv.Allocate(a.device, a.mode, numBytes)
	if err != nil {
		// Out-of-memory and every other allocation-time driver signal
		// translate to the same taxonomy entry.
		return nil, errors.WithMessagef(ErrAllocationFailed,
			"%s of %s on %s device %d: %v", a.mode, humanize.IBytes(uint64(numBytes)), a.kind, a.device, err)
	}
	return region, nil
}

func (a *deviceAllocator) Deallocate(region []byte) {
	if region == nil {
		return
	}
	if err := a.drv.Deallocate(a.device, region); err != nil {
		klog.Warningf("releasing %s on %s device %d failed: %v",
			humanize.IBytes(uint64(len(region))), a.kind, a.device, err)
	}
}
