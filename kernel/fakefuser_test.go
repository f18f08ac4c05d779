package kernel

import (
	"unsafe"

	"github.com/texc/texc/dtype"
	"github.com/texc/texc/fuser"
)

// fakeValue, fakeNode, and fakeGraph are the smallest fuser.Value/Node/
// Graph implementations that exercise the kernel façade end to end
// without a real graph-fuser collaborator.

type fakeValue struct {
	kind  dtype.ScalarKind
	shape []fuser.ShapeDim
}

func (v fakeValue) ScalarKind() dtype.ScalarKind { return v.kind }
func (v fakeValue) Rank() int                    { return len(v.shape) }
func (v fakeValue) Shape() []fuser.ShapeDim       { return v.shape }

func dim(n int) fuser.ShapeDim { return fuser.ShapeDim{Concrete: true, Size: n} }

type fakeNode struct {
	kind    string
	inputs  []fuser.Value
	outputs []fuser.Value
	ints    map[string]int
	floats  map[string]float64
}

func (n *fakeNode) Kind() string            { return n.kind }
func (n *fakeNode) Inputs() []fuser.Value   { return n.inputs }
func (n *fakeNode) Outputs() []fuser.Value  { return n.outputs }
func (n *fakeNode) IntAttr(name string) (int, bool) {
	v, ok := n.ints[name]
	return v, ok
}
func (n *fakeNode) FloatAttr(name string) (float64, bool) {
	v, ok := n.floats[name]
	return v, ok
}

type fakeGraph struct {
	inputs  []fuser.Value
	outputs []fuser.Value
	nodes   []fuser.Node
}

func (g *fakeGraph) Inputs() []fuser.Value { return g.inputs }
func (g *fakeGraph) Outputs() []fuser.Value { return g.outputs }
func (g *fakeGraph) Nodes() []fuser.Node    { return g.nodes }

// fakeBuffer is a fuser.Buffer backed by a Go slice the test owns, so
// Ptr() is stable for the lifetime of the test.
type fakeBuffer struct {
	dt      dtype.Dtype
	shape   []int
	strides []int
	data    []float32
}

func newFakeBuffer(dt dtype.Dtype, shape []int, data []float32) *fakeBuffer {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return &fakeBuffer{dt: dt, shape: shape, strides: strides, data: data}
}

func (b *fakeBuffer) Ptr() unsafe.Pointer { return unsafe.Pointer(&b.data[0]) }
func (b *fakeBuffer) Dtype() dtype.Dtype  { return b.dt }
func (b *fakeBuffer) Shape() []int        { return b.shape }
func (b *fakeBuffer) Strides() []int      { return b.strides }
