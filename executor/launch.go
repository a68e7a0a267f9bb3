package executor

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Grid is the iteration shape a kernel is launched over. Dimensions smaller
// than 1 count as 1.
type Grid struct {
	X, Y, Z int
}

// Size returns the total number of grid points.
func (g Grid) Size() int {
	return max(g.X, 1) * max(g.Y, 1) * max(g.Z, 1)
}

// Kernel is the unit of work submitted through Launch. Its body is opaque to
// this package: backend-specific kernel code receives the executor it runs on
// (for ParallelFor, handles, buffer access) and the grid shape, and reports
// its own errors.
type Kernel func(exec *Executor, grid Grid) error

// Launch issues a kernel against this executor.
//
// Host kinds run the kernel synchronously and return its error directly.
// Accelerator kinds enqueue it on the executor's stream with the device guard
// held at the point of issue; the call returns once the kernel is submitted,
// and kernel errors surface at the next Synchronize.
func (e *Executor) Launch(name string, grid Grid, kernel Kernel) error {
	e.assertValid()
	if kernel == nil {
		exceptions.Panicf("Launch(%q) on %s: nil kernel", name, e)
	}
	if e.kind.IsHost() {
		return errors.Wrapf(kernel(e, grid), "kernel %q on %s", name, e)
	}
	guard, err := e.scopedDevice()
	if err != nil {
		return errors.WithMessagef(err, "launching kernel %q on %s", name, e)
	}
	defer guard.release()
	if err := e.stream.Enqueue(func() error {
		return errors.Wrapf(kernel(e, grid), "kernel %q", name)
	}); err != nil {
		return errors.WithMessagef(ErrDriver, "launching kernel %q on %s: %v", name, e, err)
	}
	return nil
}
