package executor

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// The topology registry caches the device count per kind for the lifetime of
// the process. Enumeration runs once per kind on first query and is never
// re-run: device hot-plug is not a supported scenario, and construction-time
// validation relies on the count being stable.
var topology = struct {
	mu     sync.Mutex
	counts map[Kind]topologyEntry
}{counts: make(map[Kind]topologyEntry)}

type topologyEntry struct {
	count int
	err   error
}

// NumDevices returns the number of devices available for kind.
//
// Host kinds always report 1. An accelerator kind with no registered driver,
// or whose driver cleanly reports ErrNoDevicePresent, yields 0 with no error:
// "0 devices" is a legitimate probing outcome, not a failure. Any other
// enumeration error is reported as ErrDriver.
func NumDevices(kind Kind) (int, error) {
	if kind.IsHost() {
		return 1, nil
	}
	if !kind.IsAccelerator() {
		return 0, errors.Errorf("invalid executor kind %d", int(kind))
	}

	topology.mu.Lock()
	defer topology.mu.Unlock()
	if entry, ok := topology.counts[kind]; ok {
		return entry.count, entry.err
	}

	entry := enumerate(kind)
	topology.counts[kind] = entry
	return entry.count, entry.err
}

func enumerate(kind Kind) topologyEntry {
	drv, ok := driverFor(kind)
	if !ok {
		klog.V(1).Infof("no driver registered for %s, reporting 0 devices", kind)
		return topologyEntry{count: 0}
	}
	count, err := drv.NumDevices()
	switch {
	case errors.Is(err, ErrNoDevicePresent):
		return topologyEntry{count: 0}
	case err != nil:
		return topologyEntry{
			err: errors.WithMessagef(ErrDriver, "enumerating %s devices with driver %q: %v", kind, drv.Name(), err),
		}
	default:
		klog.V(1).Infof("driver %q reports %d %s device(s)", drv.Name(), count, kind)
		return topologyEntry{count: count}
	}
}

// LocalRankDevice maps a process-local rank to a device id for kind, as
// rank mod NumDevices(kind). The distributed layer uses it to spread ranks
// over the local devices; this package performs no rank logic beyond the
// modulus.
func LocalRankDevice(kind Kind, rank int) (int, error) {
	if rank < 0 {
		return 0, errors.Errorf("negative process-local rank %d", rank)
	}
	count, err := NumDevices(kind)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, errors.WithMessagef(ErrNoDevice, "no %s devices to map rank %d onto", kind, rank)
	}
	return rank % count, nil
}

// resetTopology clears the per-kind enumeration cache. Test-only: production
// code relies on the cache being process-lifetime.
func resetTopology() {
	topology.mu.Lock()
	defer topology.mu.Unlock()
	topology.counts = make(map[Kind]topologyEntry)
}
