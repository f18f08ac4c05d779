// Package cudagen emits CUDA C++ source for a single __global__ kernel
// from a lowered Stmt (spec.md §4.10.3).
package cudagen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/texc/texc/config"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/ir"
)

// Param describes one kernel parameter in declaration order, mirroring
// the shared Param shape the three backends consume (spec.md §4.10).
type Param struct {
	Var *ir.Var
	Dt  dtype.Dtype
}

// Emit produces CUDA C++ source defining fnName(T0* a0, T1* a1, ...) {
// ... } from body, given the launch geometry the caller picked for any
// GPU-bound loops.
func Emit(fnName string, params []Param, body ir.Stmt, blocks, threads int) string {
	names := ir.NewUniqueNameManager()
	var sb strings.Builder

	fmt.Fprintf(&sb, "// launch: blocks=%d threads=%d\n", blocks, threads)
	fmt.Fprintf(&sb, "__global__ void %s(", fnName)
	for i, p := range params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s* %s", cudaScalarType(p.Dt), names.NameOf(p.Var))
	}
	sb.WriteString(") {\n")

	e := &emitter{names: names, sb: &sb, depth: 1}
	e.stmt(body)

	sb.WriteString("}\n")
	return sb.String()
}

func cudaScalarType(dt dtype.Dtype) string {
	switch dt.Kind {
	case dtype.F32:
		return "float"
	case dtype.Handle:
		return "void" // raw buffer base; indexed via a cast at use sites
	default:
		return "int"
	}
}

type emitter struct {
	names *ir.UniqueNameManager
	sb    *strings.Builder
	depth int
}

func (e *emitter) indent() { e.sb.WriteString(strings.Repeat("  ", e.depth)) }

func (e *emitter) stmt(s ir.Stmt) {
	switch n := s.(type) {
	case nil:
		return
	case *ir.Block:
		for _, st := range n.Stmts {
			e.stmt(st)
		}
	case *ir.LetStmt:
		e.indent()
		fmt.Fprintf(e.sb, "auto %s = %s;\n", e.names.NameOf(n.VarNode), e.expr(n.Value))
	case *ir.For:
		if lo, ok := gpuOptions(n); ok {
			e.indent()
			fmt.Fprintf(e.sb, "int %s = %s;\n", e.names.NameOf(n.VarNode), gpuIndexExpr(lo))
			e.stmt(n.Body)
			return
		}
		e.indent()
		v := e.names.NameOf(n.VarNode)
		fmt.Fprintf(e.sb, "for (int %s = %s; %s < %s; %s++) {\n", v, e.expr(n.Start), v, e.expr(n.Stop), v)
		e.depth++
		e.stmt(n.Body)
		e.depth--
		e.indent()
		e.sb.WriteString("}\n")
	case *ir.Store:
		e.indent()
		fmt.Fprintf(e.sb, "%s[%s] = %s;\n", e.names.NameOf(n.BaseVar), e.expr(n.Index), e.expr(n.Value))
	case *ir.Allocate, *ir.Free:
		// Buffer lifetime for device-global temporaries is managed by the
		// (out-of-scope) tensor runtime, not by emitted device code.
	case *ir.Cond:
		e.indent()
		fmt.Fprintf(e.sb, "if (%s) {\n", e.expr(n.Condition))
		e.depth++
		e.stmt(n.TrueStmt)
		e.depth--
		e.indent()
		e.sb.WriteString("} else {\n")
		e.depth++
		e.stmt(n.FalseStmt)
		e.depth--
		e.indent()
		e.sb.WriteString("}\n")
	default:
		panic(fmt.Sprintf("cudagen: unhandled statement type %T", s))
	}
}

func gpuOptions(n *ir.For) (ir.LoopOptions, bool) {
	if n.Opts.IsBound() {
		return n.Opts, true
	}
	return ir.LoopOptions{}, false
}

func gpuIndexExpr(lo ir.LoopOptions) string {
	kind := "threadIdx"
	if lo.IsGPUBlock() {
		kind = "blockIdx"
	}
	return fmt.Sprintf("%s.%s", kind, lo.Axis())
}

func (e *emitter) expr(n ir.Expr) string {
	switch t := n.(type) {
	case *ir.IntImm:
		return strconv.FormatInt(int64(t.Value), 10)
	case *ir.FloatImm:
		return strconv.FormatFloat(float64(t.Value), 'g', -1, 32) + "f"
	case *ir.Var:
		return e.names.NameOf(t)
	case *ir.Cast:
		return fmt.Sprintf("((%s)(%s))", cudaScalarType(t.Dtype()), e.expr(t.Src))
	case *ir.BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", e.expr(t.L), t.Op, e.expr(t.R))
	case *ir.MinMax:
		name := "fminf"
		if t.IsMax {
			name = "fmaxf"
		}
		if t.Dtype().Kind == dtype.I32 {
			if t.IsMax {
				name = "max"
			} else {
				name = "min"
			}
		}
		return fmt.Sprintf("%s(%s, %s)", name, e.expr(t.L), e.expr(t.R))
	case *ir.CompareSelect:
		return fmt.Sprintf("((%s %s %s) ? (%s) : (%s))", e.expr(t.L), t.Op, e.expr(t.R), e.expr(t.TrueV), e.expr(t.FalseV))
	case *ir.Let:
		return fmt.Sprintf("([&]{ auto %s = %s; return %s; }())", e.names.NameOf(t.VarNode), e.expr(t.Value), e.expr(t.Body))
	case *ir.Ramp:
		return fmt.Sprintf("/* ramp not lowered to scalar CUDA lanes */ (%s)", e.expr(t.BaseE))
	case *ir.Broadcast:
		return e.expr(t.Value)
	case *ir.IfThenElse:
		return fmt.Sprintf("((%s) ? (%s) : (%s))", e.expr(t.Cond), e.expr(t.T), e.expr(t.F))
	case *ir.Load:
		return fmt.Sprintf("%s[%s]", e.names.NameOf(t.BaseVar), e.expr(t.Index))
	case *ir.Intrinsic:
		return fmt.Sprintf("%s(%s)", cudaIntrinsicName(t.Op), joinExprs(e, t.Params))
	case *ir.FunctionCall:
		return fmt.Sprintf("%s(%s)", t.Target.CallName(), joinExprs(e, t.Indices))
	default:
		panic(fmt.Sprintf("cudagen: unhandled expression type %T", n))
	}
}

func joinExprs(e *emitter, exprs []ir.Expr) string {
	parts := make([]string, len(exprs))
	for i, x := range exprs {
		parts[i] = e.expr(x)
	}
	return strings.Join(parts, ", ")
}

// cudaIntrinsicName maps the closed intrinsic set to CUDA's device math
// library names, which mostly match but drop or rename a handful
// (rsqrtf/fabsf use the f-suffixed single-precision form).
func cudaIntrinsicName(op ir.IntrinsicOp) string {
	switch op {
	case ir.Fabs:
		return "fabsf"
	case ir.Rsqrt:
		return "rsqrtf"
	default:
		return op.String() + "f"
	}
}

// LaunchGeometry reads config.Get()'s tunables into a (blocks, threads)
// pair a caller can pass to Emit, matching spec.md §6's process-wide
// CUDA tunables.
func LaunchGeometry() (blocks, threads int) {
	t := config.Get()
	return t.BlockCount, t.BlockSize
}
