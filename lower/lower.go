// Package lower implements the pipeline that turns a scheduled set of
// tensors into a single imperative Stmt (spec.md §4.9).
package lower

import (
	"github.com/texc/texc/arena"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/ir"
	"github.com/texc/texc/schedule"
	"github.com/texc/texc/tensor"
)

// inliner expands FunctionCall nodes whose target tensor is marked
// ComputeInline, substituting the callee's body with its args bound to
// the call's indices (spec.md §4.9's substitution mutator), recursively
// so an inlined tensor that itself calls another inlined tensor expands
// fully.
type inliner struct {
	ir.BaseMutator
}

func (in *inliner) Mutate(n any) any {
	call, ok := n.(*ir.FunctionCall)
	if !ok {
		return ir.MutateChildren(in, n)
	}
	t, ok := call.Target.(*tensor.Tensor)
	if !ok || !t.Inlined {
		return ir.MutateChildren(in, n)
	}
	indices := make([]ir.Expr, len(call.Indices))
	for i, idx := range call.Indices {
		indices[i] = in.Mutate(idx).(ir.Expr)
	}
	subst := make(map[*ir.Var]ir.Expr, len(t.Fn.Args))
	for i, arg := range t.Fn.Args {
		subst[arg] = indices[i]
	}
	expanded := ir.Substitute(in.Scope(), t.Fn.Body, subst)
	return in.Mutate(expanded)
}

func inlineBody(s *arena.Scope, body ir.Expr) ir.Expr {
	in := &inliner{ir.BaseMutator{Sc: s}}
	return in.Mutate(body).(ir.Expr)
}

// Lower runs the lowering pipeline over sched: non-inlined, non-output
// tensors are materialized into temporary buffers (Allocate/Free-wrapped
// For nests), output tensors are lowered into the caller-supplied output
// buffers, and every FunctionCall to an inlined tensor is substituted
// away first. The returned Stmt is a single Block in the order
// intermediates, then outputs, per spec.md §4.9.
func Lower(s *arena.Scope, sched *schedule.Schedule, outBuffers map[*tensor.Tensor]*tensor.Buffer) (ir.Stmt, error) {
	var intermediates []ir.Stmt
	var outputs []ir.Stmt

	for _, t := range sched.Order() {
		node := sched.Node(t)
		if node.Inlined() {
			continue
		}
		if t.IsOutput {
			buf, ok := outBuffers[t]
			if !ok {
				return nil, cerr.New(cerr.IrMalformed, "lower: no output buffer supplied for tensor %q", t.Fn.Name)
			}
			nest, err := buildNest(s, node, t, buf)
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, nest)
			continue
		}
		buf, err := tensor.NewBuffer(s, t.Fn.Name, t.Fn.Body.Dtype(), t.Fn.Dims)
		if err != nil {
			return nil, err
		}
		alloc := ir.NewAllocate(s, buf.BaseVar, buf.Dt, totalElements(s, t.Fn.Dims))
		nest, err := buildNest(s, node, t, buf)
		if err != nil {
			return nil, err
		}
		free := ir.NewFree(s, buf.BaseVar)
		intermediates = append(intermediates, ir.NewBlock(s, []ir.Stmt{alloc, nest, free}))
	}

	all := append(append([]ir.Stmt{}, intermediates...), outputs...)
	return ir.NewBlock(s, all), nil
}

func totalElements(s *arena.Scope, dims []ir.Expr) ir.Expr {
	total := dims[0]
	for _, d := range dims[1:] {
		total = ir.MustBinary(s, ir.Mul, total, d)
	}
	return total
}

// buildNest wraps t's body (with inlined calls substituted away) in a
// nested For loop per axis in node.Axes, or a single bounded loop over
// the original axis for a tail node, storing into buf at the row-major
// flat index of t's original argument vars.
func buildNest(s *arena.Scope, node *schedule.TensorExprNode, t *tensor.Tensor, buf *tensor.Buffer) (ir.Stmt, error) {
	body := inlineBody(s, t.Fn.Body)

	if node.IsTail() {
		loopVar := node.TailOfAxis
		store, err := buf.Store(s, body, argExprs(t.Fn.Args)...)
		if err != nil {
			return nil, err
		}
		return ir.MustFor(s, loopVar, node.TailStart, node.TailStop, store, ir.LoopOptions{}), nil
	}

	indexExprs := make([]ir.Expr, len(t.Fn.Args))
	for i, arg := range t.Fn.Args {
		indexExprs[i] = combinedIndexFor(s, node, arg, t.Fn.Dims[i])
	}
	mask := maskFor(s, node, t.Fn.Args, t.Fn.Dims, indexExprs)
	subst := make(map[*ir.Var]ir.Expr, len(t.Fn.Args))
	for i, arg := range t.Fn.Args {
		subst[arg] = indexExprs[i]
	}
	body = ir.Substitute(s, body, subst)
	store, err := buf.StoreMasked(s, body, mask, indexExprs...)
	if err != nil {
		return nil, err
	}

	var stmt ir.Stmt = store
	if mask != nil {
		stmt = ir.MustCond(s, mask, store, nil)
	}
	for i := len(node.Axes) - 1; i >= 0; i-- {
		axis := node.Axes[i]
		start, stop := axisBounds(s, node, axis, t.Fn.Dims, t.Fn.Args)
		opts := ir.LoopOptions{}
		if lo, ok := node.GPUBindingOf(axis); ok {
			opts = lo
		}
		var err error
		stmt, err = ir.NewFor(s, axis, start, stop, stmt, opts)
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// combinedIndexFor returns the expression to substitute for origArg's
// position in the Store index tuple: origArg itself if its axis was
// never split, or the outer*factor+inner (or inner*(N/factor)+outer)
// recombination per spec.md §4.8 when it was.
func combinedIndexFor(s *arena.Scope, node *schedule.TensorExprNode, origArg *ir.Var, extent ir.Expr) ir.Expr {
	for _, axis := range node.Axes {
		if axis == origArg {
			return origArg
		}
		sp, ok := node.SplitOf(axis)
		if ok && sp.Orig == origArg && axis == sp.Outer {
			factorImm := ir.NewIntImm(s, int32(sp.Factor))
			if sp.FactorOnInner {
				return ir.MustBinary(s, ir.Add, ir.MustBinary(s, ir.Mul, sp.Outer, factorImm), sp.Inner)
			}
			nOverF := ir.MustBinary(s, ir.Div, extent, factorImm)
			return ir.MustBinary(s, ir.Add, ir.MustBinary(s, ir.Mul, sp.Inner, nOverF), sp.Outer)
		}
	}
	return origArg
}

// axisBounds returns the materialized [start, stop) range for one
// current loop axis: [0, N) for an unsplit axis, [0, factor) for a
// split's inner axis. A tail split's outer axis stops at N/factor since
// SplitWithTail's separate tail node covers the remainder; a mask
// split's outer axis instead stops at ceil(N/factor), since there is no
// tail node and the extra lanes are guarded by maskFor's Store mask
// instead of being excluded from the loop bound.
func axisBounds(s *arena.Scope, node *schedule.TensorExprNode, axis *ir.Var, dims []ir.Expr, origArgs []*ir.Var) (ir.Expr, ir.Expr) {
	if sp, ok := node.SplitOf(axis); ok {
		extent := dimOf(dims, origArgs, sp.Orig)
		factorImm := ir.NewIntImm(s, int32(sp.Factor))
		if axis == sp.Outer {
			if sp.IsMasked() {
				numer := ir.MustBinary(s, ir.Add, extent, ir.MustBinary(s, ir.Sub, factorImm, ir.NewIntImm(s, 1)))
				return ir.NewIntImm(s, 0), ir.MustBinary(s, ir.Div, numer, factorImm)
			}
			return ir.NewIntImm(s, 0), ir.MustBinary(s, ir.Div, extent, factorImm)
		}
		return ir.NewIntImm(s, 0), factorImm
	}
	return ir.NewIntImm(s, 0), dimOf(dims, origArgs, axis)
}

// maskFor builds the conjunction of out-of-range guards for every axis
// SplitWithMask introduced on t's original args, or nil if t has none:
// for each such arg, combinedIndexFor's recombined index must still be
// below the original extent, since a mask split's outer loop runs to
// ceil(N/factor) and can overshoot by up to factor-1 lanes per axis.
func maskFor(s *arena.Scope, node *schedule.TensorExprNode, origArgs []*ir.Var, dims, indexExprs []ir.Expr) ir.Expr {
	var mask ir.Expr
	for i, arg := range origArgs {
		for _, axis := range node.Axes {
			sp, ok := node.SplitOf(axis)
			if !ok || axis != sp.Outer || sp.Orig != arg || !sp.IsMasked() {
				continue
			}
			cond := ir.MustCompareSelect(s, ir.LT, indexExprs[i], dims[i], nil, nil)
			if mask == nil {
				mask = cond
			} else {
				mask = ir.MustBinary(s, ir.Mul, mask, cond)
			}
		}
	}
	return mask
}

func dimOf(dims []ir.Expr, origArgs []*ir.Var, axis *ir.Var) ir.Expr {
	for i, a := range origArgs {
		if a == axis {
			return dims[i]
		}
	}
	return dims[0]
}

func argExprs(args []*ir.Var) []ir.Expr {
	out := make([]ir.Expr, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
