package executor

import (
	"sync"

	"k8s.io/klog/v2"
)

// handleManager owns one lazily-created vendor-library session. Creation runs
// at most once, under a device guard for the owning executor's device, on the
// first get. Destruction also runs at most once and re-enters the guard,
// because releasing a vendor handle while the wrong device is current is
// undefined in every vendor runtime.
type handleManager struct {
	exec *Executor
	lib  Library

	once   sync.Once
	handle LibHandle
	err    error

	closeOnce sync.Once
}

func newHandleManager(exec *Executor, lib Library) *handleManager {
	return &handleManager{exec: exec, lib: lib}
}

// get returns the handle, creating it on first call. Re-entrant calls return
// the cached handle without touching the guard again.
func (h *handleManager) get() (LibHandle, error) {
	h.once.Do(func() {
		guard, err := h.exec.scopedDevice()
		if err != nil {
			h.err = err
			return
		}
		defer guard.release()
		h.handle, h.err = h.exec.driver.CreateLibHandle(h.lib, h.exec.device, h.exec.stream)
		if h.err == nil {
			klog.V(1).Infof("created %s handle %s for %s device %d",
				h.lib, h.handle.ID(), h.exec.kind, h.exec.device)
		}
	})
	return h.handle, h.err
}

// close destroys the handle if it was ever created. Runs on cleanup paths, so
// failures are logged and swallowed.
func (h *handleManager) close() {
	h.closeOnce.Do(func() {
		if h.handle == nil {
			return
		}
		guard, err := h.exec.scopedDevice()
		if err != nil {
			klog.Warningf("destroying %s handle %s: device guard failed: %v", h.lib, h.handle.ID(), err)
			return
		}
		defer guard.release()
		if err := h.handle.Close(); err != nil {
			klog.Warningf("destroying %s handle %s failed: %v", h.lib, h.handle.ID(), err)
		}
		h.handle = nil
	})
}
