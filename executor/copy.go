package executor

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// copyPath is the transfer route between one ordered pair of backend kinds.
// The full matrix, resolved by the dynamic kinds of both endpoints:
//
//	source \ dest | host           | same accel kind | other accel kind
//	--------------+----------------+-----------------+------------------
//	host          | memmove        | H2D on dest     | H2D on dest
//	              |                | stream, dest    | stream, dest
//	              |                | guard, async    | guard, async
//	accel         | D2H on source  | peer copy on    | ErrNotSupported,
//	              | stream, source | source stream,  | unless the pair is
//	              | guard, then    | source guard,   | CUDA/HIP with the
//	              | synchronize    | async           | HIP driver on the
//	              |                |                 | NVIDIA platform,
//	              |                |                 | which peers
//
// Single dispatch on the source alone cannot pick the destination-specific
// primitive, so resolution always looks at both kinds.
type copyPath int

const (
	pathHostToHost copyPath = iota
	pathHostToDevice
	pathDeviceToHost
	pathPeer
	pathUnsupported
)

// resolveCopyPath picks the route for one ordered executor pair.
func resolveCopyPath(src, dst *Executor) copyPath {
	switch {
	case src.kind.IsHost() && dst.kind.IsHost():
		return pathHostToHost
	case src.kind.IsHost():
		return pathHostToDevice
	case dst.kind.IsHost():
		return pathDeviceToHost
	case src.kind == dst.kind:
		return pathPeer
	case interopPeer(src, dst):
		return pathPeer
	default:
		return pathUnsupported
	}
}

// interopPeer reports whether two different accelerator kinds share a driver
// platform that admits direct peer copies. The only such pair is CUDA and HIP
// when the HIP driver is built on the NVIDIA platform.
func interopPeer(src, dst *Executor) bool {
	hip := src
	switch {
	case src.kind == CUDA && dst.kind == HIP:
		hip = dst
	case src.kind == HIP && dst.kind == CUDA:
	default:
		return false
	}
	return hip.props.Platform == PlatformNVIDIA
}

// CopyTo transfers numBytes from src (owned by this executor) into dst (owned
// by dstExec). The route is resolved from the dynamic kinds of both
// executors, see copyPath.
//
// Copies with an accelerator destination are asynchronous on the
// destination's or source's stream as the matrix states; only the
// device-to-host route synchronizes before returning, so host memory is valid
// as soon as the call returns. A zero-byte copy is an unconditional success
// that touches neither a guard nor a stream.
//
// Copies between different accelerator kinds without an interop route fail
// with ErrNotSupported naming the destination kind.
func (e *Executor) CopyTo(dstExec *Executor, numBytes int, src, dst *Buffer) error {
	e.assertValid()
	dstExec.assertValid()
	if numBytes == 0 {
		return nil
	}
	checkCopyArgs(e, dstExec, numBytes, src, dst)

	switch resolveCopyPath(e, dstExec) {
	case pathHostToHost:
		copy(dst.region[:numBytes], src.region[:numBytes])
		return nil

	case pathHostToDevice:
		guard, err := dstExec.scopedDevice()
		if err != nil {
			return err
		}
		defer guard.release()
		if err := dstExec.driver.MemcpyToDevice(dstExec.stream, dst.region[:numBytes], src.region[:numBytes]); err != nil {
			return errors.WithMessagef(ErrDriver, "copy %s -> %s (%d bytes): %v", e, dstExec, numBytes, err)
		}
		return nil

	case pathDeviceToHost:
		guard, err := e.scopedDevice()
		if err != nil {
			return err
		}
		defer guard.release()
		if err := e.driver.MemcpyFromDevice(e.stream, dst.region[:numBytes], src.region[:numBytes]); err != nil {
			return errors.WithMessagef(ErrDriver, "copy %s -> %s (%d bytes): %v", e, dstExec, numBytes, err)
		}
		// Host memory must be valid immediately on return.
		return e.Synchronize()

	case pathPeer:
		guard, err := e.scopedDevice()
		if err != nil {
			return err
		}
		defer guard.release()
		if err := e.driver.MemcpyPeer(e.stream, dstExec.device, dst.region[:numBytes], e.device, src.region[:numBytes]); err != nil {
			return errors.WithMessagef(ErrDriver, "peer copy %s -> %s (%d bytes): %v", e, dstExec, numBytes, err)
		}
		return nil

	default:
		return errors.WithMessagef(ErrNotSupported,
			"no transfer path from %s to destination kind %s", e, dstExec.kind)
	}
}

// checkCopyArgs validates buffer ownership and bounds. Violations are
// programming errors (a foreign or released buffer, an out-of-range length),
// not runtime conditions, so they panic.
func checkCopyArgs(srcExec, dstExec *Executor, numBytes int, src, dst *Buffer) {
	if numBytes < 0 {
		exceptions.Panicf("copy %s -> %s: negative length %d", srcExec, dstExec, numBytes)
	}
	if src == nil || src.Released() {
		exceptions.Panicf("copy %s -> %s: source buffer is nil or released", srcExec, dstExec)
	}
	if dst == nil || dst.Released() {
		exceptions.Panicf("copy %s -> %s: destination buffer is nil or released", srcExec, dstExec)
	}
	if src.exec != srcExec {
		exceptions.Panicf("copy %s -> %s: source buffer belongs to %s", srcExec, dstExec, src.exec)
	}
	if dst.exec != dstExec {
		exceptions.Panicf("copy %s -> %s: destination buffer belongs to %s", srcExec, dstExec, dst.exec)
	}
	if numBytes > src.size || numBytes > dst.size {
		exceptions.Panicf("copy %s -> %s: %d bytes exceeds buffer sizes (src %d, dst %d)",
			srcExec, dstExec, numBytes, src.size, dst.size)
	}
}
