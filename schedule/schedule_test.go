package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/ir"
	"github.com/texc/texc/tensor"
)

func buildPointwiseTensor(t *testing.T, s *arena.Scope, extent ir.Expr) *tensor.Tensor {
	tt, err := tensor.Compute(s, "t", []tensor.DimArg{tensor.Dim(extent)}, func(vars []*ir.Var) (ir.Expr, error) {
		return vars[0], nil
	})
	require.NoError(t, err)
	return tt
}

// TestSplitWithTailCoversOriginalRange checks spec.md §4.8's invariant:
// SplitWithTail's outer*factor+inner range (0..floor(N/factor)*factor)
// plus the tail node's [floor(N/factor)*factor, N) range together cover
// exactly the original [0, N) index set with no overlap.
func TestSplitWithTailCoversOriginalRange(t *testing.T) {
	s := arena.New()
	defer s.Close()
	sched := New(s)

	n := 10
	factor := 4
	extent := ir.NewIntImm(s, int32(n))
	tt := buildPointwiseTensor(t, s, extent)
	node := sched.Register(tt, true)

	axis := node.Axes[0]
	outer, inner, tail, err := sched.SplitWithTail(tt, axis, extent, factor, true)
	require.NoError(t, err)
	require.NotNil(t, outer)
	require.NotNil(t, inner)

	mainCovered := (n / factor) * factor
	tailNode := sched.Node(tail)
	require.True(t, tailNode.IsTail())
	require.Equal(t, axis, tailNode.TailOfAxis)
	require.Equal(t, []*ir.Var{outer, inner}, node.Axes)
	require.Same(t, extent, tailNode.TailStop)

	folded := ir.Fold(s, tailNode.TailStart)
	imm, ok := folded.(*ir.IntImm)
	require.True(t, ok, "expected tail start to fold to an IntImm, got %T", folded)
	require.EqualValues(t, mainCovered, imm.Value)
}

func TestSplitWithTailRejectsNonPositiveFactor(t *testing.T) {
	s := arena.New()
	defer s.Close()
	sched := New(s)

	extent := ir.NewIntImm(s, 10)
	tt := buildPointwiseTensor(t, s, extent)
	node := sched.Register(tt, true)

	_, _, _, err := sched.SplitWithTail(tt, node.Axes[0], extent, 0, true)
	require.Error(t, err)
}

// TestSplitWithMaskRecordsMaskedKind checks that SplitWithMask, unlike
// SplitWithTail, leaves a single node behind (no tail) and tags its
// outer axis so a later lowering pass can tell the two splits apart.
func TestSplitWithMaskRecordsMaskedKind(t *testing.T) {
	s := arena.New()
	defer s.Close()
	sched := New(s)

	tt := buildPointwiseTensor(t, s, ir.NewIntImm(s, 10))
	node := sched.Register(tt, true)

	outer, inner, err := sched.SplitWithMask(tt, node.Axes[0], 4, true)
	require.NoError(t, err)
	require.NotNil(t, outer)
	require.NotNil(t, inner)

	sp, ok := node.SplitOf(outer)
	require.True(t, ok)
	require.True(t, sp.IsMasked())
	require.Equal(t, outer, sp.Outer)
	require.Equal(t, inner, sp.Inner)
}

func TestComputeInlineRejectsOutputTensor(t *testing.T) {
	s := arena.New()
	defer s.Close()
	sched := New(s)

	tt := buildPointwiseTensor(t, s, ir.NewIntImm(s, 4))
	sched.Register(tt, true)

	err := sched.ComputeInline(tt)
	require.Error(t, err)
}

func TestGPUExecConfigRejectsConflictingAxisRebind(t *testing.T) {
	s := arena.New()
	defer s.Close()
	sched := New(s)

	tt := buildPointwiseTensor(t, s, ir.NewIntImm(s, 4))
	node := sched.Register(tt, true)
	other := ir.NewVar(s, "other", dtype.I32Scalar)

	err := sched.GPUExecConfig(tt, map[*ir.Var]ir.GPUAxis{node.Axes[0]: ir.AxisX}, nil)
	require.NoError(t, err)

	err = sched.GPUExecConfig(tt, map[*ir.Var]ir.GPUAxis{other: ir.AxisX}, nil)
	require.Error(t, err)
}
