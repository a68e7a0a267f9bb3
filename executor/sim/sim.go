// Package sim provides a pure-Go simulated accelerator driver implementing
// executor.Driver. It models devices with memory budgets, FIFO submission
// streams with deferred errors, peer copies and vendor-library handles, so
// the full executor matrix can be developed and tested on machines without
// accelerator hardware.
//
// The simulation is strict about device-context discipline: every entry point
// that a real vendor runtime resolves against the "current device" verifies
// that the expected device is in fact current, turning guard bugs into
// immediate errors instead of silent corruption.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/nvenko/ginkgo/executor"
)

// Config shapes one simulated driver.
type Config struct {
	// Devices is the number of simulated devices. Zero means the platform
	// cleanly reports no devices (the executor.ErrNoDevicePresent path).
	Devices int

	// MemoryPerDevice caps allocations per device in bytes; 0 is unlimited.
	MemoryPerDevice uint64

	// Platform overrides the kind's default vendor platform. Setting a HIP
	// driver to executor.PlatformNVIDIA enables the CUDA interop copy path.
	Platform executor.Platform

	// Compute capability reported for every device; defaults to 8.0.
	ComputeMajor int
	ComputeMinor int

	// ComputeUnits per device; defaults to 16.
	ComputeUnits int
}

// Driver is a simulated executor.Driver for one accelerator kind.
type Driver struct {
	kind executor.Kind
	cfg  Config

	mu      sync.Mutex
	current int
	devices []*device

	handlesCreated   atomic.Int64
	handlesDestroyed atomic.Int64
}

type device struct {
	mu     sync.Mutex
	used   uint64
	allocs map[*byte]allocation
}

type allocation struct {
	size uint64
	mode executor.AllocationMode
}

// New creates a simulated driver for kind. It does not register it; see
// Install.
func New(kind executor.Kind, cfg Config) *Driver {
	if cfg.Platform == "" {
		cfg.Platform = defaultPlatform(kind)
	}
	if cfg.ComputeMajor == 0 && cfg.ComputeMinor == 0 {
		cfg.ComputeMajor = 8
	}
	if cfg.ComputeUnits == 0 {
		cfg.ComputeUnits = 16
	}
	drv := &Driver{kind: kind, cfg: cfg}
	for i := 0; i < cfg.Devices; i++ {
		drv.devices = append(drv.devices, &device{allocs: make(map[*byte]allocation)})
	}
	return drv
}

// Install creates a simulated driver for kind and registers it as the kind's
// executor.Driver.
func Install(kind executor.Kind, cfg Config) *Driver {
	drv := New(kind, cfg)
	executor.RegisterDriver(kind, drv)
	return drv
}

func defaultPlatform(kind executor.Kind) executor.Platform {
	switch kind {
	case executor.CUDA:
		return executor.PlatformNVIDIA
	case executor.HIP:
		return executor.PlatformAMD
	case executor.DPCPP:
		return executor.PlatformIntel
	default:
		return ""
	}
}

func subgroupSize(platform executor.Platform) int {
	switch platform {
	case executor.PlatformNVIDIA:
		return 32
	case executor.PlatformAMD:
		return 64
	default:
		return 16
	}
}

// Name implements executor.Driver.
func (d *Driver) Name() string {
	return fmt.Sprintf("sim-%s", d.kind)
}

// NumDevices implements executor.Driver. A zero-device configuration reports
// the clean "no device present" signal, not a driver failure.
func (d *Driver) NumDevices() (int, error) {
	if len(d.devices) == 0 {
		return 0, executor.ErrNoDevicePresent
	}
	return len(d.devices), nil
}

// Properties implements executor.Driver.
func (d *Driver) Properties(deviceID int) (executor.DeviceProperties, error) {
	if err := d.checkDevice(deviceID); err != nil {
		return executor.DeviceProperties{}, err
	}
	return executor.DeviceProperties{
		Name:             fmt.Sprintf("%s device %d", d.Name(), deviceID),
		Platform:         d.cfg.Platform,
		ComputeMajor:     d.cfg.ComputeMajor,
		ComputeMinor:     d.cfg.ComputeMinor,
		ComputeUnits:     d.cfg.ComputeUnits,
		SubgroupSize:     subgroupSize(d.cfg.Platform),
		MaxWorkgroupSize: 1024,
		TotalMemory:      d.cfg.MemoryPerDevice,
	}, nil
}

// CurrentDevice implements executor.Driver.
func (d *Driver) CurrentDevice() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

// SetDevice implements executor.Driver.
func (d *Driver) SetDevice(deviceID int) error {
	if err := d.checkDevice(deviceID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = deviceID
	return nil
}

func (d *Driver) checkDevice(deviceID int) error {
	if deviceID < 0 || deviceID >= len(d.devices) {
		return errors.Errorf("%s: device %d out of range [0, %d)", d.Name(), deviceID, len(d.devices))
	}
	return nil
}

// checkCurrent errors unless deviceID is the currently active device. Real
// vendor runtimes resolve these calls against implicit current-device state;
// simulating that strictly makes missing device guards observable.
func (d *Driver) checkCurrent(deviceID int, op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != deviceID {
		return errors.Errorf("%s: %s targets device %d but device %d is current (missing device guard?)",
			d.Name(), op, deviceID, d.current)
	}
	return nil
}

// Allocate implements executor.Driver.
func (d *Driver) Allocate(deviceID int, mode executor.AllocationMode, numBytes int) ([]byte, error) {
	if err := d.checkDevice(deviceID); err != nil {
		return nil, err
	}
	if err := d.checkCurrent(deviceID, "allocate"); err != nil {
		return nil, err
	}
	dev := d.devices[deviceID]
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if d.cfg.MemoryPerDevice > 0 && dev.used+uint64(numBytes) > d.cfg.MemoryPerDevice {
		return nil, errors.Errorf("%s: out of memory on device %d: requested %s, %s of %s in use",
			d.Name(), deviceID, humanize.IBytes(uint64(numBytes)),
			humanize.IBytes(dev.used), humanize.IBytes(d.cfg.MemoryPerDevice))
	}
	region := make([]byte, numBytes)
	dev.allocs[&region[0]] = allocation{size: uint64(numBytes), mode: mode}
	dev.used += uint64(numBytes)
	return region, nil
}

// Deallocate implements executor.Driver. Releasing a region that this device
// did not allocate is an error: allocate and deallocate must pair on the same
// strategy and device.
func (d *Driver) Deallocate(deviceID int, region []byte) error {
	if len(region) == 0 {
		return nil
	}
	if err := d.checkDevice(deviceID); err != nil {
		return err
	}
	if err := d.checkCurrent(deviceID, "deallocate"); err != nil {
		return err
	}
	dev := d.devices[deviceID]
	dev.mu.Lock()
	defer dev.mu.Unlock()
	key := &region[0]
	alloc, ok := dev.allocs[key]
	if !ok {
		return errors.Errorf("%s: region %p was not allocated on device %d", d.Name(), key, deviceID)
	}
	delete(dev.allocs, key)
	dev.used -= alloc.size
	return nil
}

// AllocatedBytes reports the bytes currently allocated on one device.
func (d *Driver) AllocatedBytes(deviceID int) uint64 {
	if err := d.checkDevice(deviceID); err != nil {
		return 0
	}
	dev := d.devices[deviceID]
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.used
}

// CreateStream implements executor.Driver.
func (d *Driver) CreateStream(deviceID int) (executor.Stream, error) {
	if err := d.checkDevice(deviceID); err != nil {
		return nil, err
	}
	if err := d.checkCurrent(deviceID, "create stream"); err != nil {
		return nil, err
	}
	return newStream(d, deviceID), nil
}

// MemcpyToDevice implements executor.Driver: the host-to-device transfer,
// enqueued on the destination stream.
func (d *Driver) MemcpyToDevice(stream executor.Stream, dst, src []byte) error {
	return d.enqueueCopy(stream, "host-to-device copy", dst, src)
}

// MemcpyFromDevice implements executor.Driver: the device-to-host transfer,
// enqueued on the source stream.
func (d *Driver) MemcpyFromDevice(stream executor.Stream, dst, src []byte) error {
	return d.enqueueCopy(stream, "device-to-host copy", dst, src)
}

// MemcpyPeer implements executor.Driver: a device-to-device transfer enqueued
// on the source stream.
func (d *Driver) MemcpyPeer(stream executor.Stream, dstDevice int, dst []byte, srcDevice int, src []byte) error {
	if err := d.checkDevice(srcDevice); err != nil {
		return err
	}
	// dstDevice is not range-checked: on the interop path it belongs to a
	// different driver of the same platform.
	if dstDevice < 0 {
		return errors.Errorf("%s: peer copy to negative device %d", d.Name(), dstDevice)
	}
	return d.enqueueCopy(stream, "peer copy", dst, src)
}

func (d *Driver) enqueueCopy(s executor.Stream, op string, dst, src []byte) error {
	str, ok := s.(*stream)
	if !ok {
		return errors.Errorf("%s: %s on a stream from a different driver", d.Name(), op)
	}
	if len(dst) != len(src) {
		return errors.Errorf("%s: %s length mismatch: dst %d, src %d", d.Name(), op, len(dst), len(src))
	}
	if err := d.checkCurrent(str.device, op); err != nil {
		return err
	}
	return str.Enqueue(func() error {
		copy(dst, src)
		return nil
	})
}

// CreateLibHandle implements executor.Driver. The current device must match,
// which it does whenever the caller holds the device guard.
func (d *Driver) CreateLibHandle(lib executor.Library, deviceID int, _ executor.Stream) (executor.LibHandle, error) {
	if err := d.checkDevice(deviceID); err != nil {
		return nil, err
	}
	if err := d.checkCurrent(deviceID, fmt.Sprintf("create %s handle", lib)); err != nil {
		return nil, err
	}
	d.handlesCreated.Add(1)
	h := newLibHandle(d, lib, deviceID)
	klog.V(1).Infof("%s: created %s handle %s on device %d", d.Name(), lib, h.ID(), deviceID)
	return h, nil
}

// HandleCounts reports how many vendor handles this driver created and
// destroyed, for lifecycle verification.
func (d *Driver) HandleCounts() (created, destroyed int64) {
	return d.handlesCreated.Load(), d.handlesDestroyed.Load()
}
