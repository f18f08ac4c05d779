package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/dtype"
)

// TestHashStructuralEqualityAgrees checks spec.md §4.5's property: two
// separately built but structurally identical trees hash equal, even
// under two distinct Hasher instances.
func TestHashStructuralEqualityAgrees(t *testing.T) {
	s := arena.New()
	defer s.Close()

	v := NewVar(s, "x", dtype.I32Scalar)
	a := MustBinary(s, Add, v, NewIntImm(s, 1))
	b := MustBinary(s, Add, v, NewIntImm(s, 1))

	require.NotSame(t, a, b)
	require.Equal(t, NewHasher().Hash(a), NewHasher().Hash(b))
}

// TestHashDiffersOnOperator checks that two subtrees differing only in
// operator hash differently.
func TestHashDiffersOnOperator(t *testing.T) {
	s := arena.New()
	defer s.Close()

	v := NewVar(s, "x", dtype.I32Scalar)
	add := MustBinary(s, Add, v, NewIntImm(s, 1))
	sub := MustBinary(s, Sub, v, NewIntImm(s, 1))

	h := NewHasher()
	require.NotEqual(t, h.Hash(add), h.Hash(sub))
}

// TestHashVarsHashByIdentity checks that two distinct Vars with the same
// NameHint and Dtype hash differently: spec.md §4.5's "variables hash by
// identity, not name."
func TestHashVarsHashByIdentity(t *testing.T) {
	s := arena.New()
	defer s.Close()

	v1 := NewVar(s, "x", dtype.I32Scalar)
	v2 := NewVar(s, "x", dtype.I32Scalar)

	h := NewHasher()
	require.NotEqual(t, h.Hash(v1), h.Hash(v2))
}

// TestHashCachesPerNode checks that Cached reports true only after a
// node's hash has actually been computed.
func TestHashCachesPerNode(t *testing.T) {
	s := arena.New()
	defer s.Close()

	n := NewIntImm(s, 7)
	h := NewHasher()
	require.False(t, h.Cached(n))
	h.Hash(n)
	require.True(t, h.Cached(n))
}
