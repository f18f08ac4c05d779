// Package tensor implements the declarative Buffer/Function/Tensor/
// Compute builders that turn an index-tuple-to-expression mapping into
// IR (spec.md §4.7).
package tensor

import (
	"fmt"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/ir"
)

// Buffer is a named Handle Var plus its static shape and precomputed
// row-major strides, used by Load/Store.
type Buffer struct {
	BaseVar *ir.Var
	Dt      dtype.Dtype
	Dims    []ir.Expr
	Strides []ir.Expr
}

// NewBuffer allocates the Handle base Var and derives row-major strides:
// stride[k] = dims[k+1] * dims[k+2] * ... * dims[n-1], stride[n-1] = 1.
func NewBuffer(s *arena.Scope, name string, dt dtype.Dtype, dims []ir.Expr) (*Buffer, error) {
	if len(dims) == 0 {
		return nil, cerr.New(cerr.IrMalformed, "tensor: buffer %q needs at least one dimension", name)
	}
	baseVar := ir.NewVar(s, name, dtype.HandleT)
	strides := make([]ir.Expr, len(dims))
	strides[len(dims)-1] = ir.NewIntImm(s, 1)
	for k := len(dims) - 2; k >= 0; k-- {
		strides[k] = ir.MustBinary(s, ir.Mul, strides[k+1], dims[k+1])
	}
	return &Buffer{BaseVar: baseVar, Dt: dt, Dims: dims, Strides: strides}, nil
}

// Load produces a Load at the row-major flat index of indices, masked
// on (mask=1 for every lane).
func (b *Buffer) Load(s *arena.Scope, indices ...ir.Expr) (*ir.Load, error) {
	idx, err := b.flatIndex(s, indices)
	if err != nil {
		return nil, err
	}
	mask := ir.NewIntImm(s, 1)
	return ir.NewLoad(s, b.Dt, b.BaseVar, idx, mask)
}

// Store produces a Store at the row-major flat index of indices.
func (b *Buffer) Store(s *arena.Scope, value ir.Expr, indices ...ir.Expr) (*ir.Store, error) {
	return b.StoreMasked(s, value, nil, indices...)
}

// StoreMasked produces a Store at the row-major flat index of indices,
// gated by mask rather than Store's implicit all-ones.
func (b *Buffer) StoreMasked(s *arena.Scope, value, mask ir.Expr, indices ...ir.Expr) (*ir.Store, error) {
	idx, err := b.flatIndex(s, indices)
	if err != nil {
		return nil, err
	}
	return ir.NewStore(s, b.BaseVar, idx, value, mask)
}

func (b *Buffer) flatIndex(s *arena.Scope, indices []ir.Expr) (ir.Expr, error) {
	if len(indices) != len(b.Dims) {
		return nil, cerr.New(cerr.IrMalformed, "tensor: buffer %s expects %d indices, got %d",
			b.BaseVar.NameHint, len(b.Dims), len(indices))
	}
	var idx ir.Expr = ir.MustBinary(s, ir.Mul, indices[0], b.Strides[0])
	for k := 1; k < len(indices); k++ {
		term := ir.MustBinary(s, ir.Mul, indices[k], b.Strides[k])
		idx = ir.MustBinary(s, ir.Add, idx, term)
	}
	return idx, nil
}

// Function is a named computation: for each tuple in 0..dims, it yields
// Body with Args bound to the tuple's components.
type Function struct {
	Name string
	Dims []ir.Expr
	Args []*ir.Var
	Body ir.Expr
}

// CallTarget/CallName/CallDtype make *Tensor usable as an
// ir.FunctionCall target without ir importing package tensor.
func (t *Tensor) CallName() string       { return t.Fn.Name }
func (t *Tensor) CallDtype() dtype.Dtype { return t.Fn.Body.Dtype() }

// Tensor is a handle to a registered Function output, plus scheduling
// state tracked by package schedule.
type Tensor struct {
	Fn       *Function
	Inlined  bool
	IsOutput bool
}

// DimArg names a single Compute dimension, either bare or with a name
// hint for the iteration variable Compute allocates for it.
type DimArg struct {
	Dim      ir.Expr
	NameHint string
}

// Dim builds a bare DimArg with no name hint.
func Dim(dim ir.Expr) DimArg { return DimArg{Dim: dim} }

// NamedDim builds a DimArg carrying an iteration-variable name hint.
func NamedDim(dim ir.Expr, nameHint string) DimArg { return DimArg{Dim: dim, NameHint: nameHint} }

// Compute is the primary tensor builder (spec.md §4.7): it allocates one
// fresh i32 iteration Var per dim_arg, invokes bodyFn with them, and
// wraps the result in a Function and Tensor.
func Compute(s *arena.Scope, name string, dimArgs []DimArg, bodyFn func(vars []*ir.Var) (ir.Expr, error)) (*Tensor, error) {
	dims := make([]ir.Expr, len(dimArgs))
	args := make([]*ir.Var, len(dimArgs))
	for i, da := range dimArgs {
		hint := da.NameHint
		if hint == "" {
			hint = fmt.Sprintf("i%d", i)
		}
		dims[i] = da.Dim
		args[i] = ir.NewVar(s, hint, dtype.I32Scalar)
	}
	body, err := bodyFn(args)
	if err != nil {
		return nil, err
	}
	fn := &Function{Name: name, Dims: dims, Args: args, Body: body}
	return &Tensor{Fn: fn}, nil
}
