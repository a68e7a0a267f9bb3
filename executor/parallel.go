package executor

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

func defaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// ParallelFor runs fn for every i in [0, n), spread over the executor's
// worker pool in contiguous chunks. Only the OMP kind carries a pool;
// everywhere else the loop runs sequentially on the calling goroutine, so
// kernel bodies can use ParallelFor unconditionally.
//
// The first error cancels no other chunk (chunks run to completion) but is
// the one returned.
func (e *Executor) ParallelFor(n int, fn func(i int) error) error {
	e.assertValid()
	if n <= 0 {
		return nil
	}
	if e.workers < 2 || n < 2 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var group errgroup.Group
	group.SetLimit(e.workers)
	chunk := (n + e.workers - 1) / e.workers
	for start := 0; start < n; start += chunk {
		start := start
		end := min(start+chunk, n)
		group.Go(func() error {
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return group.Wait()
}

// Workers returns the size of the executor's host worker pool; 1 for every
// kind but OMP.
func (e *Executor) Workers() int {
	if e == nil || e.workers < 1 {
		return 1
	}
	return e.workers
}
