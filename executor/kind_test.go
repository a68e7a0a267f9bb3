package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStringParseRoundTrip(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}

	parsed, err := ParseKind(" CUDA ")
	require.NoError(t, err)
	require.Equal(t, CUDA, parsed)

	_, err = ParseKind("metal")
	require.Error(t, err)
	require.Equal(t, "invalid", KindInvalid.String())
}

func TestKindClassification(t *testing.T) {
	require.True(t, Reference.IsHost())
	require.True(t, OMP.IsHost())
	for _, kind := range AcceleratorKinds() {
		require.True(t, kind.IsAccelerator())
		require.False(t, kind.IsHost())
		require.True(t, kind.Valid())
	}
	require.False(t, KindInvalid.Valid())
}

func TestAllocationModeString(t *testing.T) {
	require.Equal(t, "device", AllocDevice.String())
	require.Equal(t, "unified-global", AllocUnifiedGlobal.String())
	require.Equal(t, "unified-host", AllocUnifiedHost.String())
	require.False(t, AllocDevice.hostVisible())
	require.True(t, AllocUnifiedGlobal.hostVisible())
	require.True(t, AllocUnifiedHost.hostVisible())
}

func TestGridSize(t *testing.T) {
	require.Equal(t, 1, Grid{}.Size())
	require.Equal(t, 6, Grid{X: 3, Y: 2}.Size())
	require.Equal(t, 24, Grid{X: 2, Y: 3, Z: 4}.Size())
}

func TestHostAllocatorPoolsBySize(t *testing.T) {
	alloc := newHostAllocator()
	region, err := alloc.Allocate(128)
	require.NoError(t, err)
	require.Len(t, region, 128)

	alloc.Deallocate(region)
	reused, err := alloc.Allocate(128)
	require.NoError(t, err)
	require.Len(t, reused, 128)

	empty, err := alloc.Allocate(0)
	require.NoError(t, err)
	require.Nil(t, empty)
	alloc.Deallocate(nil)

	_, err = alloc.Allocate(-1)
	require.Error(t, err)
}
