package sim

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nvenko/ginkgo/executor"
)

// libHandle simulates a vendor math-library session. Like the real thing, it
// must be destroyed exactly once and only while its owning device is current;
// both violations are reported instead of silently corrupting state.
type libHandle struct {
	id     string
	drv    *Driver
	lib    executor.Library
	device int
	closed atomic.Bool
}

func newLibHandle(drv *Driver, lib executor.Library, device int) *libHandle {
	return &libHandle{
		id:     uuid.NewString(),
		drv:    drv,
		lib:    lib,
		device: device,
	}
}

// ID implements executor.LibHandle.
func (h *libHandle) ID() string {
	return h.id
}

// Close implements executor.LibHandle.
func (h *libHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return errors.Errorf("%s handle %s already destroyed", h.lib, h.id)
	}
	if err := h.drv.checkCurrent(h.device, "destroy "+h.lib.String()+" handle"); err != nil {
		return err
	}
	h.drv.handlesDestroyed.Add(1)
	return nil
}
