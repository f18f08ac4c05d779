package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheGetOrBuildCallsBuildOnce(t *testing.T) {
	c := NewCache(nil)
	calls := 0
	build := func() (*Kernel, error) {
		calls++
		return &Kernel{backend: BackendInterp}, nil
	}

	k1, err := c.GetOrBuild("k", build)
	require.NoError(t, err)
	k2, err := c.GetOrBuild("k", build)
	require.NoError(t, err)

	require.Same(t, k1, k2)
	require.Equal(t, 1, calls)
}

func TestStructuralKeyIgnoresSubgraphID(t *testing.T) {
	k1 := StructuralKey("subgraph_7", []string{"aten::add", "aten::relu"}, "4")
	k2 := StructuralKey("subgraph_99", []string{"aten::add", "aten::relu"}, "4")
	require.Equal(t, k1, k2)

	k3 := StructuralKey("subgraph_7", []string{"aten::add", "aten::mul"}, "4")
	require.NotEqual(t, k1, k3)
}

func TestDiskCacheStoreLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dc, err := OpenDiskCache(dir)
	require.NoError(t, err)

	_, ok, err := dc.Lookup("abc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, dc.Store("abc", "// generated cuda\n"))

	src, ok, err := dc.Lookup("abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "// generated cuda\n", src)

	// A second Store of the same key is a no-op, not an overwrite.
	require.NoError(t, dc.Store("abc", "// different\n"))
	src, ok, err = dc.Lookup("abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "// generated cuda\n", src)
}

func TestDiskCachePruneKeepsRecentAndYoung(t *testing.T) {
	dir := t.TempDir()
	dc, err := OpenDiskCache(dir)
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, dc.Store(key, key))
	}

	// Nothing is old enough to prune yet.
	require.NoError(t, dc.Prune(1, time.Hour))
	for _, key := range []string{"a", "b", "c"} {
		_, ok, err := dc.Lookup(key)
		require.NoError(t, err)
		require.True(t, ok, "key %s should survive a prune with no old entries", key)
	}
}
