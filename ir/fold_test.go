package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/dtype"
)

// TestFoldConstantBinaryReducesToImm checks the universal property that
// an all-constant subtree folds to a single immediate carrying the
// arithmetic result.
func TestFoldConstantBinaryReducesToImm(t *testing.T) {
	s := arena.New()
	defer s.Close()

	sum := MustBinary(s, Add, NewIntImm(s, 2), NewIntImm(s, 3))
	folded := Fold(s, sum)

	imm, ok := folded.(*IntImm)
	require.True(t, ok, "expected folding to produce an IntImm, got %T", folded)
	require.EqualValues(t, 5, imm.Value)
}

// TestFoldPreservesIdentityWhenNothingChanges checks the other half of
// the same universal property: a subtree with a free Var leaf is
// returned unchanged (same pointer), never rebuilt.
func TestFoldPreservesIdentityWhenNothingChanges(t *testing.T) {
	s := arena.New()
	defer s.Close()

	v := NewVar(s, "x", dtype.I32Scalar)
	expr := MustBinary(s, Add, v, NewIntImm(s, 1))
	folded := Fold(s, expr)

	require.Same(t, expr, folded)
}

// TestFoldMixedFoldsInnerLeavesOuterVar folds the constant inner
// subtree while leaving the Var-dependent outer binary alone.
func TestFoldMixedFoldsInnerLeavesOuterVar(t *testing.T) {
	s := arena.New()
	defer s.Close()

	v := NewVar(s, "x", dtype.I32Scalar)
	inner := MustBinary(s, Mul, NewIntImm(s, 2), NewIntImm(s, 3))
	outer := MustBinary(s, Add, v, inner)

	folded := Fold(s, outer).(*BinaryExpr)
	require.Equal(t, Add, folded.Op)
	require.Same(t, v, folded.L)
	imm, ok := folded.R.(*IntImm)
	require.True(t, ok)
	require.EqualValues(t, 6, imm.Value)
}

func TestFoldMinMaxPropagatesNaNWhenFlagged(t *testing.T) {
	s := arena.New()
	defer s.Close()

	nan := NewFloatImm(s, float32(math.NaN()))
	folded := Fold(s, MustMinMax(s, true, true, nan, NewFloatImm(s, 1)))

	f, ok := folded.(*FloatImm)
	require.True(t, ok)
	require.True(t, math.IsNaN(float64(f.Value)))
}

func TestFoldMinMaxIgnoresNaNWhenNotFlagged(t *testing.T) {
	s := arena.New()
	defer s.Close()

	nan := NewFloatImm(s, float32(math.NaN()))
	folded := Fold(s, MustMinMax(s, true, false, nan, NewFloatImm(s, 1)))

	f, ok := folded.(*FloatImm)
	require.True(t, ok)
	require.False(t, math.IsNaN(float64(f.Value)))
}
