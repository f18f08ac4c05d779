// Package fuser defines the narrow adapter interfaces the external
// graph-fuser and tensor-runtime collaborators satisfy (spec.md §6).
// Nothing in this package constructs IR; it only describes the shape
// package kernel consumes from those collaborators.
package fuser

import (
	"unsafe"

	"github.com/texc/texc/dtype"
)

// ShapeDim is one axis of a Value's shape: either a concrete extent or a
// symbolic one bound at run time (spec.md §6's "symbolic or concrete
// shape per axis").
type ShapeDim struct {
	// Concrete is true when Size is known at fusion time.
	Concrete bool
	Size     int
	// SymbolName names the dynamic-shape binding when !Concrete.
	SymbolName string
}

// Value is one typed tensor value flowing through the fused subgraph:
// an input, an output, or an intermediate between Nodes.
type Value interface {
	ScalarKind() dtype.ScalarKind
	Rank() int
	Shape() []ShapeDim
}

// Node is one operator in the fused subgraph, carrying a kind symbol
// (e.g. "aten::add") and its ordered input/output Values. Most ops have
// exactly one output; prim::ConstantChunk and aten::chunk have several.
type Node interface {
	Kind() string
	Inputs() []Value
	Outputs() []Value
	// IntAttr and FloatAttr return a constant attribute the fuser resolved
	// at fusion time (e.g. cat/chunk's split "dim", Constant's "value").
	IntAttr(name string) (int, bool)
	FloatAttr(name string) (float64, bool)
}

// Graph is the fused subgraph the external graph-fuser hands to the
// kernel façade.
type Graph interface {
	Inputs() []Value
	Outputs() []Value
	Nodes() []Node
}

// Buffer is the raw typed storage the tensor runtime hands in at run
// time for each input/output (spec.md §6's "raw typed pointers plus
// per-buffer shape/stride descriptors").
type Buffer interface {
	Ptr() unsafe.Pointer
	Dtype() dtype.Dtype
	Shape() []int
	Strides() []int
}
