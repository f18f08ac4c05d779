package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/texc/texc/dtype"
	"github.com/texc/texc/fuser"
)

// TestBuildRunElementwiseAdd exercises a plain elementwise fusion:
// out[i] = a[i] + b[i] over a concrete shape, through Build,
// Run, and the interpreter backend.
func TestBuildRunElementwiseAdd(t *testing.T) {
	a := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(4)}}
	b := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(4)}}
	out := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(4)}}
	add := &fakeNode{
		kind:    "aten::add",
		inputs:  []fuser.Value{a, b},
		outputs: []fuser.Value{out},
	}
	graph := &fakeGraph{
		inputs:  []fuser.Value{a, b},
		outputs: []fuser.Value{out},
		nodes:   []fuser.Node{add},
	}

	k, err := Build("add_subgraph", graph, BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, BackendInterp, k.Backend())

	aBuf := newFakeBuffer(dtype.F32Scalar, []int{4}, []float32{1, 2, 3, 4})
	bBuf := newFakeBuffer(dtype.F32Scalar, []int{4}, []float32{10, 20, 30, 40})
	outData := make([]float32, 4)
	outBuf := newFakeBuffer(dtype.F32Scalar, []int{4}, outData)

	err = k.Run([]fuser.Buffer{aBuf, bBuf}, []fuser.Buffer{outBuf})
	require.NoError(t, err)
	require.Equal(t, []float32{11, 22, 33, 44}, outBuf.data)
}

// TestBuildRunClampDecomposesToMinMax exercises clamp's decomposition
// into max(min(x, hi), lo).
func TestBuildRunClampDecomposesToMinMax(t *testing.T) {
	x := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(3)}}
	lo := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(3)}}
	hi := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(3)}}
	out := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(3)}}
	clamp := &fakeNode{
		kind:    "aten::clamp",
		inputs:  []fuser.Value{x, lo, hi},
		outputs: []fuser.Value{out},
	}
	graph := &fakeGraph{
		inputs:  []fuser.Value{x, lo, hi},
		outputs: []fuser.Value{out},
		nodes:   []fuser.Node{clamp},
	}

	k, err := Build("clamp_subgraph", graph, BuildOptions{})
	require.NoError(t, err)

	xBuf := newFakeBuffer(dtype.F32Scalar, []int{3}, []float32{-5, 0, 5})
	loBuf := newFakeBuffer(dtype.F32Scalar, []int{3}, []float32{0, 0, 0})
	hiBuf := newFakeBuffer(dtype.F32Scalar, []int{3}, []float32{1, 1, 1})
	outData := make([]float32, 3)
	outBuf := newFakeBuffer(dtype.F32Scalar, []int{3}, outData)

	err = k.Run([]fuser.Buffer{xBuf, loBuf, hiBuf}, []fuser.Buffer{outBuf})
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0, 1}, outBuf.data)
}

// TestBuildRunAddAppliesAlphaScale checks that aten::add scales its
// second operand by a non-default alpha attribute (lhs + rhs*alpha)
// instead of the plain sum binaryOp would compute.
func TestBuildRunAddAppliesAlphaScale(t *testing.T) {
	a := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(4)}}
	b := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(4)}}
	out := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(4)}}
	add := &fakeNode{
		kind:    "aten::add",
		inputs:  []fuser.Value{a, b},
		outputs: []fuser.Value{out},
		floats:  map[string]float64{"alpha": 2},
	}
	graph := &fakeGraph{
		inputs:  []fuser.Value{a, b},
		outputs: []fuser.Value{out},
		nodes:   []fuser.Node{add},
	}

	k, err := Build("add_alpha_subgraph", graph, BuildOptions{})
	require.NoError(t, err)

	aBuf := newFakeBuffer(dtype.F32Scalar, []int{4}, []float32{1, 2, 3, 4})
	bBuf := newFakeBuffer(dtype.F32Scalar, []int{4}, []float32{10, 20, 30, 40})
	outData := make([]float32, 4)
	outBuf := newFakeBuffer(dtype.F32Scalar, []int{4}, outData)

	err = k.Run([]fuser.Buffer{aBuf, bBuf}, []fuser.Buffer{outBuf})
	require.NoError(t, err)
	require.Equal(t, []float32{21, 42, 63, 84}, outBuf.data)
}

// TestBuildRunSubAppliesAlphaScale is aten::sub's counterpart: lhs -
// rhs*alpha.
func TestBuildRunSubAppliesAlphaScale(t *testing.T) {
	a := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(3)}}
	b := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(3)}}
	out := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(3)}}
	sub := &fakeNode{
		kind:    "aten::sub",
		inputs:  []fuser.Value{a, b},
		outputs: []fuser.Value{out},
		floats:  map[string]float64{"alpha": 0.5},
	}
	graph := &fakeGraph{
		inputs:  []fuser.Value{a, b},
		outputs: []fuser.Value{out},
		nodes:   []fuser.Node{sub},
	}

	k, err := Build("sub_alpha_subgraph", graph, BuildOptions{})
	require.NoError(t, err)

	aBuf := newFakeBuffer(dtype.F32Scalar, []int{3}, []float32{10, 20, 30})
	bBuf := newFakeBuffer(dtype.F32Scalar, []int{3}, []float32{4, 8, 12})
	outData := make([]float32, 3)
	outBuf := newFakeBuffer(dtype.F32Scalar, []int{3}, outData)

	err = k.Run([]fuser.Buffer{aBuf, bBuf}, []fuser.Buffer{outBuf})
	require.NoError(t, err)
	require.Equal(t, []float32{8, 16, 24}, outBuf.data)
}

// TestBuildRejectsUnregisteredOp checks that an op kind missing from
// opBuilders fails at Build, not at Run.
func TestBuildRejectsUnregisteredOp(t *testing.T) {
	a := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(2)}}
	out := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(2)}}
	node := &fakeNode{kind: "aten::bogus_op", inputs: []fuser.Value{a}, outputs: []fuser.Value{out}}
	graph := &fakeGraph{inputs: []fuser.Value{a}, outputs: []fuser.Value{out}, nodes: []fuser.Node{node}}

	_, err := Build("bogus_subgraph", graph, BuildOptions{})
	require.Error(t, err)
}

// TestCheckDeviceMismatch verifies the BackendMismatch contract for a
// presented device configuration differing from the one Build selected.
func TestCheckDeviceMismatch(t *testing.T) {
	a := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(2)}}
	out := &fakeValue{kind: dtype.F32, shape: []fuser.ShapeDim{dim(2)}}
	node := &fakeNode{kind: "aten::abs", inputs: []fuser.Value{a}, outputs: []fuser.Value{out}}
	graph := &fakeGraph{inputs: []fuser.Value{a}, outputs: []fuser.Value{out}, nodes: []fuser.Node{node}}

	k, err := Build("abs_subgraph", graph, BuildOptions{})
	require.NoError(t, err)

	require.NoError(t, k.CheckDevice(false))
	err = k.CheckDevice(true)
	require.Error(t, err)
}

func TestRegisteredOpsIsSortedAndNonEmpty(t *testing.T) {
	ops := RegisteredOps()
	require.NotEmpty(t, ops)
	for i := 1; i < len(ops); i++ {
		require.Less(t, ops[i-1], ops[i])
	}
}

// TestRegisteredOpsIsDeterministic checks that two calls return the same
// slice contents, using cmp.Diff for the structural comparison rather
// than testify's ObjectsAreEqual since the property under test is
// exactly "these two slices have the same elements in the same order."
func TestRegisteredOpsIsDeterministic(t *testing.T) {
	a := RegisteredOps()
	b := RegisteredOps()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("RegisteredOps() not deterministic:\n%s", diff)
	}
}
