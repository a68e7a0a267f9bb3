package executor

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// guardEntries counts device-guard activations process-wide. It exists so the
// "a zero-byte copy touches no guard" contract stays observable.
var guardEntries atomic.Int64

// GuardEntries returns the number of device guards entered so far in this
// process.
func GuardEntries() int64 {
	return guardEntries.Load()
}

// deviceGuard scopes the driver's process-wide "current device" state. It is
// the only code allowed to mutate that state: construction records the active
// device and switches to the target, release restores the recorded device
// unconditionally. Guards nest and must be released in LIFO order, which the
// usual defer placement guarantees.
//
// Host kinds never instantiate a guard; Executor.scopedDevice returns nil for
// them and release on a nil guard is a no-op.
type deviceGuard struct {
	drv  Driver
	prev int
}

func newDeviceGuard(drv Driver, device int) (*deviceGuard, error) {
	guardEntries.Add(1)
	prev, err := drv.CurrentDevice()
	if err != nil {
		return nil, errors.WithMessagef(ErrDriver, "querying current device from driver %q: %v", drv.Name(), err)
	}
	if err := drv.SetDevice(device); err != nil {
		return nil, errors.WithMessagef(ErrDriver, "switching driver %q to device %d: %v", drv.Name(), device, err)
	}
	return &deviceGuard{drv: drv, prev: prev}, nil
}

// release restores the device that was active when the guard was entered.
// It must not fail during unwind, so restore errors are logged and swallowed.
func (g *deviceGuard) release() {
	if g == nil {
		return
	}
	if err := g.drv.SetDevice(g.prev); err != nil {
		klog.Warningf("restoring device %d on driver %q failed: %v", g.prev, g.drv.Name(), err)
	}
}

// scopedDevice enters a device guard for the executor's device. Host kinds
// get a nil guard (no device-context state to protect).
func (e *Executor) scopedDevice() (*deviceGuard, error) {
	if e.kind.IsHost() {
		return nil, nil
	}
	return newDeviceGuard(e.driver, e.device)
}
