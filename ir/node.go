// Package ir implements the typed expression/statement intermediate
// representation: the node set of spec.md §3, the visitor/mutator
// protocol of §4.2, the printer of §4.6, and the constant folder and
// structural hasher of §4.4/§4.5.
//
// Every node is immutable once built and lives inside an *arena.Scope;
// mutators never edit a node in place — they build a new one when a
// child changed and return the original pointer otherwise (identity
// preserved, the cheap fixpoint check of spec.md §4.2).
package ir

import "github.com/texc/texc/dtype"

// Expr is the common interface of every pure, typed expression node.
// Concrete types implement Accept so a Visitor can dispatch without a
// type switch of its own; Mutate lets a Mutator rebuild children through
// a uniform call instead of one case per type for the traversal itself.
type Expr interface {
	Dtype() dtype.Dtype
	Accept(v Visitor)
	mutateChildren(m Mutator) Expr
	isExpr()
}

// Stmt is the common interface of every imperative statement node.
type Stmt interface {
	Accept(v Visitor)
	mutateChildren(m Mutator) Stmt
	isStmt()
}

// base carries the dtype every Expr needs; embedding it gives every
// concrete expression type a Dtype() method for free.
type base struct{ dt dtype.Dtype }

func (b base) Dtype() dtype.Dtype { return b.dt }

// GPUAxis names one of the four block/thread axes a For loop can bind to.
type GPUAxis int8

const (
	AxisX GPUAxis = iota
	AxisY
	AxisZ
	AxisW
)

func (a GPUAxis) String() string {
	return [...]string{"x", "y", "z", "w"}[a]
}

// LoopOptions optionally binds a For loop to a CUDA block or thread axis.
// At most one of BlockAxis/ThreadAxis is set per For, enforced by
// BindBlock/BindThread rather than by a shared "kind" field, so a
// zero-value LoopOptions unambiguously means "not bound."
type LoopOptions struct {
	hasBlock  bool
	hasThread bool
	axis      GPUAxis
}

// BindBlock returns LoopOptions bound to CUDA block axis a.
func BindBlock(a GPUAxis) LoopOptions { return LoopOptions{hasBlock: true, axis: a} }

// BindThread returns LoopOptions bound to CUDA thread axis a.
func BindThread(a GPUAxis) LoopOptions { return LoopOptions{hasThread: true, axis: a} }

// IsGPUBlock reports whether these options bind a block axis.
func (lo LoopOptions) IsGPUBlock() bool { return lo.hasBlock }

// IsGPUThread reports whether these options bind a thread axis.
func (lo LoopOptions) IsGPUThread() bool { return lo.hasThread }

// IsBound reports whether lo binds any GPU axis at all.
func (lo LoopOptions) IsBound() bool { return lo.hasBlock || lo.hasThread }

// Axis returns the bound axis; only meaningful when IsBound is true.
func (lo LoopOptions) Axis() GPUAxis { return lo.axis }
