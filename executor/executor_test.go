package executor_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/nvenko/ginkgo/executor"
	"github.com/nvenko/ginkgo/executor/sim"
)

// reinstall clears the process-wide topology cache and registers fresh
// simulated drivers for the given kinds. Kinds not listed keep whatever
// driver a previous test registered, but their device counts are re-probed.
func reinstall(t *testing.T, cfgs map[executor.Kind]sim.Config) map[executor.Kind]*sim.Driver {
	t.Helper()
	executor.ResetTopology()
	installed := make(map[executor.Kind]*sim.Driver, len(cfgs))
	for kind, cfg := range cfgs {
		installed[kind] = sim.Install(kind, cfg)
	}
	return installed
}

func TestHostExecutors(t *testing.T) {
	ref := executor.NewReference()
	require.Equal(t, executor.Reference, ref.Kind())
	require.Equal(t, 0, ref.DeviceID())
	require.NoError(t, ref.Synchronize())
	require.Equal(t, "reference", ref.String())

	omp := executor.NewOMP(4)
	require.Equal(t, executor.OMP, omp.Kind())
	require.Equal(t, 4, omp.Workers())
	require.NoError(t, omp.Synchronize())

	// Host kinds carry no vendor handles.
	_, err := ref.BlasHandle()
	require.ErrorIs(t, err, executor.ErrNotSupported)
	_, err = omp.SparseHandle()
	require.ErrorIs(t, err, executor.ErrNotSupported)
}

func TestCreateAndSynchronize(t *testing.T) {
	reinstall(t, map[executor.Kind]sim.Config{
		executor.CUDA: {Devices: 2},
	})

	// Create followed immediately by synchronize succeeds with no work
	// pending, for every valid device.
	for device := 0; device < 2; device++ {
		exec, err := executor.NewCUDA(device, nil, executor.AllocDevice)
		require.NoError(t, err)
		require.Equal(t, device, exec.DeviceID())
		require.NoError(t, exec.Synchronize())
		require.Equal(t, executor.Reference, exec.Master().Kind())
		exec.Finalize()
	}
}

func TestCreateFailsWithNoDevice(t *testing.T) {
	reinstall(t, map[executor.Kind]sim.Config{
		executor.CUDA:  {Devices: 1},
		executor.DPCPP: {Devices: 0},
	})

	// One device of kind CUDA: device 99 is out of range.
	_, err := executor.NewCUDA(99, nil, executor.AllocDevice)
	require.ErrorIs(t, err, executor.ErrNoDevice)

	_, err = executor.NewCUDA(-1, nil, executor.AllocDevice)
	require.ErrorIs(t, err, executor.ErrNoDevice)

	// A kind whose driver reports zero devices probes as 0 without error,
	// and construction fails with ErrNoDevice.
	count, err := executor.NumDevices(executor.DPCPP)
	require.NoError(t, err)
	require.Equal(t, 0, count)
	_, err = executor.NewDPCPP(0, nil, executor.AllocDevice)
	require.ErrorIs(t, err, executor.ErrNoDevice)

	// A kind with no registered driver at all behaves the same way.
	executor.ResetTopology()
	executor.RegisterDriver(executor.HIP, nil)
	count, err = executor.NumDevices(executor.HIP)
	require.NoError(t, err)
	require.Equal(t, 0, count)
	_, err = executor.NewHIP(0, nil, executor.AllocDevice)
	require.ErrorIs(t, err, executor.ErrNoDevice)
}

// failingDriver simulates a broken vendor runtime: enumeration errors out
// with something other than "no device present".
type failingDriver struct{ executor.Driver }

func (failingDriver) Name() string { return "failing" }

func (failingDriver) NumDevices() (int, error) {
	return 0, errors.New("runtime library version mismatch")
}

func TestEnumerationFailureIsDriverError(t *testing.T) {
	executor.ResetTopology()
	executor.RegisterDriver(executor.HIP, failingDriver{})

	_, err := executor.NumDevices(executor.HIP)
	require.ErrorIs(t, err, executor.ErrDriver)
	require.ErrorContains(t, err, "version mismatch")

	_, err = executor.NewHIP(0, nil, executor.AllocDevice)
	require.ErrorIs(t, err, executor.ErrDriver)
}

func TestPropertiesCachedAtConstruction(t *testing.T) {
	reinstall(t, map[executor.Kind]sim.Config{
		executor.CUDA: {Devices: 1, MemoryPerDevice: 4 << 30, ComputeMajor: 7, ComputeMinor: 5, ComputeUnits: 42},
	})
	exec, err := executor.NewCUDA(0, nil, executor.AllocDevice)
	require.NoError(t, err)
	defer exec.Finalize()

	props := exec.Properties()
	require.Equal(t, 7, props.ComputeMajor)
	require.Equal(t, 5, props.ComputeMinor)
	require.Equal(t, 42, props.ComputeUnits)
	require.Equal(t, 32, props.SubgroupSize)
	require.Equal(t, executor.PlatformNVIDIA, props.Platform)
	require.Equal(t, uint64(4<<30), props.TotalMemory)
}

func TestLocalRankDevice(t *testing.T) {
	reinstall(t, map[executor.Kind]sim.Config{
		executor.CUDA:  {Devices: 2},
		executor.DPCPP: {Devices: 0},
	})

	device, err := executor.LocalRankDevice(executor.CUDA, 5)
	require.NoError(t, err)
	require.Equal(t, 1, device)

	device, err = executor.LocalRankDevice(executor.CUDA, 4)
	require.NoError(t, err)
	require.Equal(t, 0, device)

	_, err = executor.LocalRankDevice(executor.DPCPP, 0)
	require.ErrorIs(t, err, executor.ErrNoDevice)

	_, err = executor.LocalRankDevice(executor.CUDA, -1)
	require.Error(t, err)
}

func TestConfigFactory(t *testing.T) {
	reinstall(t, map[executor.Kind]sim.Config{
		executor.CUDA: {Devices: 2},
	})

	exec, err := executor.New("reference")
	require.NoError(t, err)
	require.Equal(t, executor.Reference, exec.Kind())

	exec, err = executor.New("omp")
	require.NoError(t, err)
	require.Equal(t, executor.OMP, exec.Kind())
	require.GreaterOrEqual(t, exec.Workers(), 1)

	exec, err = executor.New("cuda:1")
	require.NoError(t, err)
	require.Equal(t, executor.CUDA, exec.Kind())
	require.Equal(t, 1, exec.DeviceID())
	exec.Finalize()

	_, err = executor.New("metal")
	require.Error(t, err)
	_, err = executor.New("reference:1")
	require.Error(t, err)
	_, err = executor.New("cuda:x")
	require.Error(t, err)
	_, err = executor.New("cuda:7")
	require.ErrorIs(t, err, executor.ErrNoDevice)
}

func TestNewFromEnv(t *testing.T) {
	reinstall(t, map[executor.Kind]sim.Config{
		executor.CUDA: {Devices: 1},
	})

	exec, err := executor.NewFromEnv()
	require.NoError(t, err)
	require.Equal(t, executor.Reference, exec.Kind())

	t.Setenv(executor.GINKGO_EXECUTOR, "cuda:0")
	exec, err = executor.NewFromEnv()
	require.NoError(t, err)
	require.Equal(t, executor.CUDA, exec.Kind())
	exec.Finalize()
}

func TestLaunchOnHostKinds(t *testing.T) {
	ref := executor.NewReference()
	ran := false
	err := ref.Launch("probe", executor.Grid{X: 8}, func(exec *executor.Executor, grid executor.Grid) error {
		ran = true
		require.Equal(t, 8, grid.Size())
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	err = ref.Launch("boom", executor.Grid{}, func(*executor.Executor, executor.Grid) error {
		return errors.New("singular matrix")
	})
	require.ErrorContains(t, err, "singular matrix")
	require.ErrorContains(t, err, `kernel "boom"`)
}

func TestParallelFor(t *testing.T) {
	omp := executor.NewOMP(4)
	const n = 1000
	results := make([]int, n)
	err := omp.Launch("axpy-like", executor.Grid{X: n}, func(exec *executor.Executor, grid executor.Grid) error {
		return exec.ParallelFor(grid.Size(), func(i int) error {
			results[i] = i * 2
			return nil
		})
	})
	require.NoError(t, err)
	for i, v := range results {
		require.Equal(t, i*2, v)
	}

	// Sequential fallback on the reference kind.
	ref := executor.NewReference()
	sum := 0
	require.NoError(t, ref.ParallelFor(10, func(i int) error {
		sum += i
		return nil
	}))
	require.Equal(t, 45, sum)

	err = omp.ParallelFor(100, func(i int) error {
		if i == 37 {
			return errors.New("breakdown at row 37")
		}
		return nil
	})
	require.ErrorContains(t, err, "row 37")
}
