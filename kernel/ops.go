package kernel

import (
	"github.com/texc/texc/arena"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/fuser"
	"github.com/texc/texc/ir"
)

// unaryIntrinsics maps a registered elementwise op symbol to the
// IntrinsicOp the closed transcendental/rounding set of spec.md §4.6
// already defines.
var unaryIntrinsics = map[string]ir.IntrinsicOp{
	"aten::log":    ir.Log,
	"aten::log10":  ir.Log10,
	"aten::log2":   ir.Log2,
	"aten::log1p":  ir.Log1p,
	"aten::exp":    ir.Exp,
	"aten::expm1":  ir.Expm1,
	"aten::erf":    ir.Erf,
	"aten::erfc":   ir.Erfc,
	"aten::cos":    ir.Cos,
	"aten::sin":    ir.Sin,
	"aten::tan":    ir.Tan,
	"aten::acos":   ir.Acos,
	"aten::asin":   ir.Asin,
	"aten::atan":   ir.Atan,
	"aten::cosh":   ir.Cosh,
	"aten::sinh":   ir.Sinh,
	"aten::tanh":   ir.Tanh,
	"aten::sqrt":   ir.Sqrt,
	"aten::rsqrt":  ir.Rsqrt,
	"aten::floor":  ir.Floor,
	"aten::ceil":   ir.Ceil,
	"aten::round":  ir.Round,
	"aten::trunc":  ir.Trunc,
	"aten::lgamma": ir.Lgamma,
	"aten::frac":   ir.Frac,
}

func init() {
	opBuilders["aten::add"] = alphaBinaryOp(ir.Add)
	opBuilders["aten::sub"] = alphaBinaryOp(ir.Sub)
	opBuilders["aten::mul"] = binaryOp(ir.Mul)
	opBuilders["aten::div"] = binaryOp(ir.Div)

	opBuilders["aten::eq"] = compareOp(ir.EQ)
	opBuilders["aten::ne"] = compareOp(ir.NE)
	opBuilders["aten::ge"] = compareOp(ir.GE)
	opBuilders["aten::gt"] = compareOp(ir.GT)
	opBuilders["aten::le"] = compareOp(ir.LE)
	opBuilders["aten::lt"] = compareOp(ir.LT)

	opBuilders["aten::min"] = minmaxOp(false)
	opBuilders["aten::max"] = minmaxOp(true)
	opBuilders["aten::clamp"] = clampOp

	opBuilders["aten::pow"] = binaryIntrinsic(ir.Pow)
	opBuilders["aten::fmod"] = binaryIntrinsic(ir.Fmod)
	opBuilders["aten::remainder"] = binaryIntrinsic(ir.Remainder)

	opBuilders["aten::abs"] = unaryIntrinsic(ir.Fabs)
	for name, op := range unaryIntrinsics {
		opBuilders[name] = unaryIntrinsic(op)
	}

	opBuilders["prim::Constant"] = buildConstant
}

func binaryOp(op ir.BinaryOp) opBuilder {
	return func(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
		if len(inputs) != 2 {
			return nil, arityErr(n, 2, len(inputs))
		}
		return ir.NewBinary(b.scope, op, inputs[0], inputs[1])
	}
}

// alphaBinaryOp implements aten::add/aten::sub's actual signature, lhs +
// rhs*alpha and lhs - rhs*alpha, rather than the unscaled binaryOp: alpha
// defaults to 1 when the node carries no "alpha" float attribute,
// matching the PyTorch default (test_tensorexpr.py's test_alpha exercises
// the non-default case against kernel.h's ComputeTwoOperandWithAlpha).
func alphaBinaryOp(op ir.BinaryOp) opBuilder {
	return func(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
		if len(inputs) != 2 {
			return nil, arityErr(n, 2, len(inputs))
		}
		rhs := inputs[1]
		alpha, ok := n.FloatAttr("alpha")
		if ok && alpha != 1 {
			scaled, err := ir.NewBinary(b.scope, ir.Mul, rhs, scalarLike(b.scope, rhs.Dtype(), alpha))
			if err != nil {
				return nil, err
			}
			rhs = scaled
		}
		return ir.NewBinary(b.scope, op, inputs[0], rhs)
	}
}

// scalarLike builds an immediate of dt's scalar kind, broadcast to dt's
// lane count, for scaling an operand by a float node attribute whose own
// dtype may be integer.
func scalarLike(s *arena.Scope, dt dtype.Dtype, v float64) ir.Expr {
	var imm ir.Expr
	if dt.Kind == dtype.F32 {
		imm = ir.NewFloatImm(s, float32(v))
	} else {
		imm = ir.NewIntImm(s, int32(v))
	}
	if dt.Lanes == 1 {
		return imm
	}
	return ir.MustBroadcast(s, imm, dt.Lanes)
}

func compareOp(op ir.CompareOp) opBuilder {
	return func(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
		if len(inputs) != 2 {
			return nil, arityErr(n, 2, len(inputs))
		}
		return ir.NewCompareSelect(b.scope, op, inputs[0], inputs[1], nil, nil)
	}
}

func minmaxOp(isMax bool) opBuilder {
	return func(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
		if len(inputs) != 2 {
			return nil, arityErr(n, 2, len(inputs))
		}
		return ir.NewMinMax(b.scope, isMax, true, inputs[0], inputs[1])
	}
}

// clampOp implements clamp(x, lo, hi) as max(min(x, hi), lo), the same
// decomposition a lowering pass would use since there is no dedicated
// three-operand clamp IR node.
func clampOp(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
	if len(inputs) != 3 {
		return nil, arityErr(n, 3, len(inputs))
	}
	capped, err := ir.NewMinMax(b.scope, false, true, inputs[0], inputs[2])
	if err != nil {
		return nil, err
	}
	return ir.NewMinMax(b.scope, true, true, capped, inputs[1])
}

func unaryIntrinsic(op ir.IntrinsicOp) opBuilder {
	return func(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
		if len(inputs) != 1 {
			return nil, arityErr(n, 1, len(inputs))
		}
		x, err := toFloat(b.scope, inputs[0])
		if err != nil {
			return nil, err
		}
		return ir.NewIntrinsic(b.scope, op, []ir.Expr{x})
	}
}

func binaryIntrinsic(op ir.IntrinsicOp) opBuilder {
	return func(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
		if len(inputs) != 2 {
			return nil, arityErr(n, 2, len(inputs))
		}
		a, err := toFloat(b.scope, inputs[0])
		if err != nil {
			return nil, err
		}
		c, err := toFloat(b.scope, inputs[1])
		if err != nil {
			return nil, err
		}
		return ir.NewIntrinsic(b.scope, op, []ir.Expr{a, c})
	}
}

func toFloat(s *arena.Scope, e ir.Expr) (ir.Expr, error) {
	if e.Dtype().Kind == dtype.F32 {
		return e, nil
	}
	return ir.NewCast(s, dtype.F32Scalar.WithLanes(e.Dtype().Lanes), e)
}

// buildConstant materializes a prim::Constant node's literal value,
// ignoring its iteration vars: the same scalar is called from every
// index, matching spec.md §4.7's "per-lane or fully uniform body" case.
func buildConstant(b *graphBuilder, n fuser.Node, inputs []ir.Expr) (ir.Expr, error) {
	outs := n.Outputs()
	if len(outs) != 1 {
		return nil, cerr.New(cerr.IrMalformed, "kernel: constant must have exactly one output, got %d", len(outs))
	}
	if outs[0].ScalarKind() == dtype.F32 {
		if v, ok := n.FloatAttr("value"); ok {
			return ir.NewFloatImm(b.scope, float32(v)), nil
		}
	}
	v, ok := n.IntAttr("value")
	if !ok {
		return nil, cerr.New(cerr.IrMalformed, "kernel: constant node is missing its value attribute")
	}
	return ir.NewIntImm(b.scope, int32(v)), nil
}
