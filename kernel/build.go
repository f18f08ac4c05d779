package kernel

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/fuser"
	"github.com/texc/texc/ir"
	"github.com/texc/texc/schedule"
	"github.com/texc/texc/tensor"
)

// graphBuilder threads the arena scope, schedule, and the per-Value ->
// producing-Tensor map while Build walks a fuser.Graph. Every op in a
// fused subgraph is assumed to share one iteration shape (the shape of
// the subgraph's first output); a node whose true shape differs — cat,
// chunk — builds its own DimArgs instead of using the shared ones.
type graphBuilder struct {
	scope  *arena.Scope
	sched  *schedule.Schedule
	values map[fuser.Value]*tensor.Tensor
	// lists records prim::ListConstruct outputs so aten::cat can recover
	// its flattened operand list when the fuser routes it through one.
	lists map[fuser.Value][]fuser.Value
}

// opBuilder constructs the body expression for one graph node given its
// already-built input expressions (each a Load or FunctionCall indexed
// by the node's own iteration vars).
type opBuilder func(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error)

// opBuilders is the registered-op dispatch table of SPEC_FULL.md §4.11,
// keyed by the fuser's op-kind symbol string. Populated by ops.go's init.
var opBuilders = map[string]opBuilder{}

func outputShape(g fuser.Graph) []fuser.ShapeDim {
	outs := g.Outputs()
	if len(outs) == 0 {
		return nil
	}
	return outs[0].Shape()
}

// dimArgsFor turns a fuser shape into tensor.DimArgs: a concrete axis
// becomes an IntImm, a symbolic one becomes an i32 Var named after its
// binding symbol, resolved by the caller at Run time.
func dimArgsFor(s *arena.Scope, shape []fuser.ShapeDim) []tensor.DimArg {
	out := make([]tensor.DimArg, len(shape))
	for i, d := range shape {
		if d.Concrete {
			out[i] = tensor.Dim(ir.NewIntImm(s, int32(d.Size)))
		} else {
			out[i] = tensor.Dim(ir.NewVar(s, d.SymbolName, dtype.I32Scalar))
		}
	}
	return out
}

func varsToExprs(vars []*ir.Var) []ir.Expr {
	out := make([]ir.Expr, len(vars))
	for i, v := range vars {
		out[i] = v
	}
	return out
}

// buildInput builds the Buffer backing one graph input and a Tensor
// that Loads it at the shared iteration indices, per spec.md §6's "raw
// typed pointers" contract: the actual memory is bound later, at Run.
func (gb *graphBuilder) buildInput(v fuser.Value, dimArgs []tensor.DimArg) (*tensor.Tensor, *tensor.Buffer, error) {
	dims := make([]ir.Expr, len(dimArgs))
	for i, da := range dimArgs {
		dims[i] = da.Dim
	}
	dt := dtype.Scalar(v.ScalarKind())
	buf, err := tensor.NewBuffer(gb.scope, fmt.Sprintf("in%d", len(gb.sched.Order())), dt, dims)
	if err != nil {
		return nil, nil, err
	}
	t, err := tensor.Compute(gb.scope, buf.BaseVar.NameHint+"_t", dimArgs, func(vars []*ir.Var) (ir.Expr, error) {
		return buf.Load(gb.scope, varsToExprs(vars)...)
	})
	if err != nil {
		return nil, nil, err
	}
	return t, buf, nil
}

// buildNode dispatches one graph node to its op handling: the three
// variadic/shape-changing ops (list_construct, cat, chunk) build their
// own DimArgs; everything else goes through the generic single-output
// opBuilders table sharing dimArgs.
func (gb *graphBuilder) buildNode(n fuser.Node, dimArgs []tensor.DimArg, outputSet map[fuser.Value]bool) error {
	switch n.Kind() {
	case "prim::ListConstruct":
		return gb.buildListConstruct(n)
	case "aten::cat":
		return gb.buildCat(n, outputSet)
	case "aten::chunk", "prim::ConstantChunk":
		return gb.buildChunk(n, outputSet)
	}

	build, ok := opBuilders[n.Kind()]
	if !ok {
		return cerr.New(cerr.UnsupportedOp, "kernel: op kind %q is not registered", n.Kind())
	}
	outs := n.Outputs()
	if len(outs) != 1 {
		return cerr.New(cerr.IrMalformed, "kernel: op %q must have exactly one output, got %d", n.Kind(), len(outs))
	}
	inputTargets := make([]ir.CallTarget, len(n.Inputs()))
	for i, v := range n.Inputs() {
		t, ok := gb.values[v]
		if !ok {
			return cerr.New(cerr.IrMalformed, "kernel: op %q references an unbuilt value", n.Kind())
		}
		inputTargets[i] = t
	}

	name := fmt.Sprintf("%s_%d", sanitize(n.Kind()), len(gb.sched.Order()))
	t, err := tensor.Compute(gb.scope, name, dimArgs, func(vars []*ir.Var) (ir.Expr, error) {
		indices := varsToExprs(vars)
		inputs := make([]ir.Expr, len(inputTargets))
		for i, target := range inputTargets {
			inputs[i] = ir.NewFunctionCall(gb.scope, target, indices)
		}
		return build(gb, n, inputs)
	})
	if err != nil {
		return err
	}
	return gb.registerResult(t, outs[0], outputSet)
}

func (gb *graphBuilder) registerResult(t *tensor.Tensor, v fuser.Value, outputSet map[fuser.Value]bool) error {
	isOutput := outputSet[v]
	gb.sched.Register(t, isOutput)
	gb.values[v] = t
	if !isOutput {
		return gb.sched.ComputeInline(t)
	}
	return nil
}

func (gb *graphBuilder) buildListConstruct(n fuser.Node) error {
	outs := n.Outputs()
	if len(outs) != 1 {
		return cerr.New(cerr.IrMalformed, "kernel: list_construct must have exactly one output, got %d", len(outs))
	}
	gb.lists[outs[0]] = append([]fuser.Value(nil), n.Inputs()...)
	return nil
}

// buildCat concatenates its operands along an integer dim attribute
// (default 0) via a nested CompareSelect choosing, per output index,
// which operand's segment it falls into and recombining the local
// offset (spec.md §6's registered "cat" op).
func (gb *graphBuilder) buildCat(n fuser.Node, outputSet map[fuser.Value]bool) error {
	ins := n.Inputs()
	elems := ins
	if len(ins) == 1 {
		if lst, ok := gb.lists[ins[0]]; ok {
			elems = lst
		}
	}
	if len(elems) == 0 {
		return cerr.New(cerr.IrMalformed, "kernel: cat requires at least one input")
	}
	dim, ok := n.IntAttr("dim")
	if !ok {
		dim = 0
	}
	outs := n.Outputs()
	if len(outs) != 1 {
		return cerr.New(cerr.IrMalformed, "kernel: cat must have exactly one output, got %d", len(outs))
	}

	targets := make([]ir.CallTarget, len(elems))
	offsets := make([]int, len(elems))
	offset := 0
	for i, v := range elems {
		t, ok := gb.values[v]
		if !ok {
			return cerr.New(cerr.IrMalformed, "kernel: cat input not built")
		}
		targets[i] = t
		shape := v.Shape()
		if dim < 0 || dim >= len(shape) || !shape[dim].Concrete {
			return cerr.New(cerr.UnsupportedOp, "kernel: cat requires a concrete split axis")
		}
		offsets[i] = offset
		offset += shape[dim].Size
	}

	outDimArgs := dimArgsFor(gb.scope, outs[0].Shape())
	name := fmt.Sprintf("%s_%d", sanitize(n.Kind()), len(gb.sched.Order()))
	t, err := tensor.Compute(gb.scope, name, outDimArgs, func(vars []*ir.Var) (ir.Expr, error) {
		return catSelect(gb.scope, vars, dim, targets, offsets, 0)
	})
	if err != nil {
		return err
	}
	return gb.registerResult(t, outs[0], outputSet)
}

func catSelect(s *arena.Scope, vars []*ir.Var, dim int, targets []ir.CallTarget, offsets []int, i int) (ir.Expr, error) {
	indices := varsToExprs(vars)
	indices[dim] = ir.MustBinary(s, ir.Sub, vars[dim], ir.NewIntImm(s, int32(offsets[i])))
	call := ir.NewFunctionCall(s, targets[i], indices)
	if i == len(targets)-1 {
		return call, nil
	}
	boundary := ir.NewIntImm(s, int32(offsets[i+1]))
	rest, err := catSelect(s, vars, dim, targets, offsets, i+1)
	if err != nil {
		return nil, err
	}
	return ir.NewCompareSelect(s, ir.LT, vars[dim], boundary, call, rest)
}

// buildChunk splits its single input into len(Outputs()) equal pieces
// along an integer dim attribute (default 0), each output a Tensor that
// calls back into the input shifted by its chunk offset (spec.md §6's
// registered "chunk" op; prim::ConstantChunk is its fused-subgraph
// form).
func (gb *graphBuilder) buildChunk(n fuser.Node, outputSet map[fuser.Value]bool) error {
	ins := n.Inputs()
	if len(ins) != 1 {
		return cerr.New(cerr.IrMalformed, "kernel: chunk expects exactly one input, got %d", len(ins))
	}
	inTarget, ok := gb.values[ins[0]]
	if !ok {
		return cerr.New(cerr.IrMalformed, "kernel: chunk input not built")
	}
	outs := n.Outputs()
	if len(outs) == 0 {
		return cerr.New(cerr.IrMalformed, "kernel: chunk must have at least one output")
	}
	dim, ok := n.IntAttr("dim")
	if !ok {
		dim = 0
	}
	shape := ins[0].Shape()
	if dim < 0 || dim >= len(shape) || !shape[dim].Concrete {
		return cerr.New(cerr.UnsupportedOp, "kernel: chunk requires a concrete split axis")
	}
	chunks := len(outs)
	if shape[dim].Size%chunks != 0 {
		return cerr.New(cerr.IrMalformed, "kernel: chunk axis size %d not divisible by %d chunks", shape[dim].Size, chunks)
	}
	chunkSize := shape[dim].Size / chunks
	chunkShape := append([]fuser.ShapeDim(nil), shape...)
	chunkShape[dim] = fuser.ShapeDim{Concrete: true, Size: chunkSize}
	chunkDimArgs := dimArgsFor(gb.scope, chunkShape)

	for ci, outVal := range outs {
		offset := ci * chunkSize
		name := fmt.Sprintf("%s_%d_%d", sanitize(n.Kind()), len(gb.sched.Order()), ci)
		t, err := tensor.Compute(gb.scope, name, chunkDimArgs, func(vars []*ir.Var) (ir.Expr, error) {
			indices := varsToExprs(vars)
			indices[dim] = ir.MustBinary(gb.scope, ir.Add, vars[dim], ir.NewIntImm(gb.scope, int32(offset)))
			return ir.NewFunctionCall(gb.scope, inTarget, indices), nil
		})
		if err != nil {
			return err
		}
		if err := gb.registerResult(t, outVal, outputSet); err != nil {
			return err
		}
	}
	return nil
}

func arityErr(n fuser.Node, want, got int) error {
	return cerr.New(cerr.IrMalformed, "kernel: op %q expects %d inputs, got %d", n.Kind(), want, got)
}

// RegisteredOps lists the op-kind symbols this package can lower,
// sorted for a stable diagnostic. The fuser collaborator can consult
// this before attempting a fusion rather than discover a gap at Build
// time via UnsupportedOp.
func RegisteredOps() []string {
	kinds := maps.Keys(opBuilders)
	// buildNode handles these kinds itself, outside the opBuilders table.
	kinds = append(kinds, "prim::ListConstruct", "aten::cat", "aten::chunk", "prim::ConstantChunk")
	sort.Strings(kinds)
	return kinds
}
