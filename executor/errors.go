package executor

import "github.com/pkg/errors"

// Error taxonomy. All failures returned by this package wrap one of these
// sentinels, so callers classify with errors.Is and still get the full
// kind/device context in the message.
var (
	// ErrNoDevice is returned when the requested device id or the whole
	// backend is absent. Probing a kind with NumDevices never returns it;
	// constructing an executor on a missing device always does.
	ErrNoDevice = errors.New("no device")

	// ErrDriver is returned when device enumeration or introspection fails in
	// the underlying driver for any reason other than "no device present".
	ErrDriver = errors.New("driver error")

	// ErrAllocationFailed is returned when the target backend is out of
	// memory. It is never retried by this package.
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrNotSupported is returned when an operation has no valid
	// implementation path, typically a copy between different accelerator
	// kinds with no interop route, always naming the offending kind.
	ErrNotSupported = errors.New("operation not supported")

	// ErrSynchronization is returned by Synchronize when asynchronous work
	// submitted earlier to the same executor failed. Errors from asynchronous
	// kernels and copies are only guaranteed visible at the next Synchronize
	// on the executor they were submitted to.
	ErrSynchronization = errors.New("synchronization failure")
)

// ErrNoDevicePresent is the sentinel a Driver returns from NumDevices when
// the platform cleanly reports zero devices. The topology registry translates
// it into a device count of 0 without error; every other enumeration failure
// becomes ErrDriver. Callers rely on "0 devices" being a legitimate non-error
// outcome for capability probing, so the asymmetry is deliberate.
var ErrNoDevicePresent = errors.New("no device present")
