// Package schedule implements the loop-level rewrites of spec.md §4.8:
// split-with-tail, split-with-mask, compute-inline, and GPU-axis
// binding, over a tree of TensorExprNodes mirroring the dependency
// relationships among the tensors registered in a Schedule.
package schedule

import (
	"github.com/texc/texc/arena"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/ir"
	"github.com/texc/texc/tensor"
)

// SplitKind tags how a split axis's remainder iterations are handled.
type SplitKind int8

const (
	splitNone SplitKind = iota
	splitTail
	splitMask
)

// AxisSplit records a split applied to one original loop axis, kept so
// the lowerer can rebuild the combined index expression from the two
// replacement axes.
type AxisSplit struct {
	Orig          *ir.Var
	Factor        int
	FactorOnInner bool
	Outer, Inner  *ir.Var
	Kind          SplitKind
}

// IsMasked reports whether this split's remainder lanes must be guarded
// by a Store mask at lowering time rather than handled by a separate
// tail node.
func (sp *AxisSplit) IsMasked() bool { return sp.Kind == splitMask }

// TensorExprNode carries one tensor's current loop nest and scheduling
// metadata: its realizing Function's axes (possibly replaced by splits),
// whether it is computed inline, and any GPU axis bindings.
type TensorExprNode struct {
	Tensor  *tensor.Tensor
	Axes    []*ir.Var
	splits  map[*ir.Var]*AxisSplit // keyed by the *current* axis var that resulted from a split
	gpu     map[*ir.Var]ir.LoopOptions
	inlined bool
	isTail  bool
	// TailStart/TailStop bound the remainder iteration range for a tail
	// node produced by SplitWithTail; zero value means "not a tail node."
	TailStart, TailStop ir.Expr
	TailOfAxis          *ir.Var
}

func newNode(t *tensor.Tensor) *TensorExprNode {
	return &TensorExprNode{
		Tensor: t,
		Axes:   append([]*ir.Var(nil), t.Fn.Args...),
		splits: map[*ir.Var]*AxisSplit{},
		gpu:    map[*ir.Var]ir.LoopOptions{},
	}
}

// SplitOf reports the AxisSplit recorded against axis, if any.
func (n *TensorExprNode) SplitOf(axis *ir.Var) (*AxisSplit, bool) {
	sp, ok := n.splits[axis]
	return sp, ok
}

// GPUBindingOf reports the LoopOptions bound to axis, if any.
func (n *TensorExprNode) GPUBindingOf(axis *ir.Var) (ir.LoopOptions, bool) {
	lo, ok := n.gpu[axis]
	return lo, ok
}

// Inlined reports whether n is marked ComputeInline.
func (n *TensorExprNode) Inlined() bool { return n.inlined }

// IsTail reports whether n is the remainder node SplitWithTail produced.
func (n *TensorExprNode) IsTail() bool { return n.isTail }

// Schedule is the mutable record of which loop transformations apply to
// which registered tensors (spec.md §2 component 8 / glossary
// "Schedule").
type Schedule struct {
	scope   *arena.Scope
	outputs []*tensor.Tensor
	nodes   map[*tensor.Tensor]*TensorExprNode
	order   []*tensor.Tensor // registration order, for deterministic lowering
}

// New creates an empty Schedule whose rewrites allocate into s.
func New(s *arena.Scope) *Schedule {
	return &Schedule{scope: s, nodes: map[*tensor.Tensor]*TensorExprNode{}}
}

// Register places t into the schedule's tree, per spec.md §4.7's
// "registration places the Tensor into the current Schedule's root."
// isOutput marks t as a graph output: it may never be inlined.
func (s *Schedule) Register(t *tensor.Tensor, isOutput bool) *TensorExprNode {
	t.IsOutput = isOutput
	n := newNode(t)
	s.nodes[t] = n
	s.order = append(s.order, t)
	if isOutput {
		s.outputs = append(s.outputs, t)
	}
	return n
}

// Node returns the TensorExprNode registered for t, or nil.
func (s *Schedule) Node(t *tensor.Tensor) *TensorExprNode { return s.nodes[t] }

// Outputs returns the registered output tensors in registration order.
func (s *Schedule) Outputs() []*tensor.Tensor { return s.outputs }

// Order returns every registered tensor in registration order.
func (s *Schedule) Order() []*tensor.Tensor { return s.order }

// SplitWithTail splits axis of extent N into an outer loop of extent
// N/factor and an inner loop of extent factor, plus a separate tail
// TensorExprNode handling the remaining N mod factor iterations using
// the original axis variable (spec.md §4.8).
func (s *Schedule) SplitWithTail(t *tensor.Tensor, axis *ir.Var, extent ir.Expr, factor int, factorOnInner bool) (outer, inner *ir.Var, tail *tensor.Tensor, err error) {
	n, ok := s.nodes[t]
	if !ok {
		return nil, nil, nil, cerr.New(cerr.IrMalformed, "schedule: tensor not registered")
	}
	if factor <= 0 {
		return nil, nil, nil, cerr.New(cerr.IrMalformed, "schedule: split factor must be positive, got %d", factor)
	}
	if !hasAxis(n, axis) {
		return nil, nil, nil, cerr.New(cerr.IrMalformed, "schedule: axis not found in tensor's current loop nest")
	}
	outer = ir.NewVar(s.scope, axis.NameHint+"_o", axis.Dtype())
	inner = ir.NewVar(s.scope, axis.NameHint+"_i", axis.Dtype())
	sp := &AxisSplit{Orig: axis, Factor: factor, FactorOnInner: factorOnInner, Outer: outer, Inner: inner, Kind: splitTail}
	n.Axes = replaceAxis(n.Axes, axis, outer, inner)
	n.splits[outer] = sp
	n.splits[inner] = sp

	factorImm := ir.NewIntImm(s.scope, int32(factor))
	tailStart := ir.MustBinary(s.scope, ir.Mul, ir.MustBinary(s.scope, ir.Div, extent, factorImm), factorImm)
	tailNode := newNode(t)
	tailNode.isTail = true
	tailNode.TailStart = tailStart
	tailNode.TailStop = extent
	tailNode.TailOfAxis = axis
	tailTensor := &tensor.Tensor{Fn: t.Fn}
	s.nodes[tailTensor] = tailNode
	s.order = append(s.order, tailTensor)
	return outer, inner, tailTensor, nil
}

// SplitWithMask splits axis the same way as SplitWithTail but without a
// separate tail: lowering guards the inner body with a Cond on the mask
// outer*factor+inner < N, so no out-of-range Load or Store executes.
func (s *Schedule) SplitWithMask(t *tensor.Tensor, axis *ir.Var, factor int, factorOnInner bool) (outer, inner *ir.Var, err error) {
	n, ok := s.nodes[t]
	if !ok {
		return nil, nil, cerr.New(cerr.IrMalformed, "schedule: tensor not registered")
	}
	if factor <= 0 {
		return nil, nil, cerr.New(cerr.IrMalformed, "schedule: split factor must be positive, got %d", factor)
	}
	if !hasAxis(n, axis) {
		return nil, nil, cerr.New(cerr.IrMalformed, "schedule: axis not found in tensor's current loop nest")
	}
	outer = ir.NewVar(s.scope, axis.NameHint+"_o", axis.Dtype())
	inner = ir.NewVar(s.scope, axis.NameHint+"_i", axis.Dtype())
	sp := &AxisSplit{Orig: axis, Factor: factor, FactorOnInner: factorOnInner, Outer: outer, Inner: inner, Kind: splitMask}
	n.Axes = replaceAxis(n.Axes, axis, outer, inner)
	n.splits[outer] = sp
	n.splits[inner] = sp
	return outer, inner, nil
}

// ComputeInline marks t as inlined: at lowering time its body is
// substituted into consumer call sites and no standalone loop nest is
// emitted for it. Output tensors cannot be inlined.
func (s *Schedule) ComputeInline(t *tensor.Tensor) error {
	n, ok := s.nodes[t]
	if !ok {
		return cerr.New(cerr.IrMalformed, "schedule: tensor not registered")
	}
	if t.IsOutput {
		return cerr.New(cerr.IrMalformed, "schedule: output tensor %s cannot be inlined", t.Fn.Name)
	}
	n.inlined = true
	t.Inlined = true
	return nil
}

// GPUExecConfig binds the given block and thread axes to a tensor's
// current loop axes. The same GPU axis (x/y/z/w, block-vs-thread) may be
// bound at most once per tensor; rebinding with the same axis/kind is
// idempotent, a conflicting rebind is rejected.
func (s *Schedule) GPUExecConfig(t *tensor.Tensor, blockAxes, threadAxes map[*ir.Var]ir.GPUAxis) error {
	n, ok := s.nodes[t]
	if !ok {
		return cerr.New(cerr.IrMalformed, "schedule: tensor not registered")
	}
	used := map[string]*ir.Var{}
	for axis, opts := range n.gpu {
		key := gpuKey(opts)
		used[key] = axis
	}
	for v, a := range blockAxes {
		if err := bindGPU(n, v, ir.BindBlock(a), used); err != nil {
			return err
		}
	}
	for v, a := range threadAxes {
		if err := bindGPU(n, v, ir.BindThread(a), used); err != nil {
			return err
		}
	}
	return nil
}

func bindGPU(n *TensorExprNode, v *ir.Var, opts ir.LoopOptions, used map[string]*ir.Var) error {
	key := gpuKey(opts)
	if existing, ok := used[key]; ok && existing != v {
		return cerr.New(cerr.IrMalformed, "schedule: GPU axis %s already bound to a different loop var", key)
	}
	if prior, ok := n.gpu[v]; ok && gpuKey(prior) != key {
		return cerr.New(cerr.IrMalformed, "schedule: loop var already bound to a different GPU axis")
	}
	n.gpu[v] = opts
	used[key] = v
	return nil
}

func gpuKey(opts ir.LoopOptions) string {
	kind := "t"
	if opts.IsGPUBlock() {
		kind = "b"
	}
	return kind + opts.Axis().String()
}

func hasAxis(n *TensorExprNode, axis *ir.Var) bool {
	for _, a := range n.Axes {
		if a == axis {
			return true
		}
	}
	return false
}

// replaceAxis returns axes with old replaced by repl (possibly more
// than one element), preserving the order of every other axis.
func replaceAxis(axes []*ir.Var, old *ir.Var, repl ...*ir.Var) []*ir.Var {
	out := make([]*ir.Var, 0, len(axes)+len(repl))
	for _, a := range axes {
		if a == old {
			out = append(out, repl...)
			continue
		}
		out = append(out, a)
	}
	return out
}
