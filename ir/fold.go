package ir

import (
	"math"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/dtype"
)

// Folder is a single-pass Mutator that reduces any node whose inputs
// are all IntImm/FloatImm into a fresh immediate, per spec.md §4.4.
// Subtrees with a non-constant leaf are left identity-preserved by
// falling through to BaseMutator's default rebuild-if-changed behavior.
type Folder struct {
	BaseMutator
}

// Fold runs the constant folder over n within scope s, returning the
// folded tree (or n unchanged if nothing was foldable).
func Fold(s *arena.Scope, n Expr) Expr {
	f := &Folder{BaseMutator{Sc: s}}
	return f.Mutate(n).(Expr)
}

func (f *Folder) Mutate(n any) any {
	switch t := n.(type) {
	case *Cast:
		src := f.Mutate(t.Src).(Expr)
		if c, ok := asImm(src); ok {
			return foldCast(f.Sc, t.dt, c)
		}
		if src == t.Src {
			return t
		}
		return MustCast(f.Sc, t.dt, src)
	case *BinaryExpr:
		l := f.Mutate(t.L).(Expr)
		r := f.Mutate(t.R).(Expr)
		if lc, ok := asImm(l); ok {
			if rc, ok := asImm(r); ok {
				return foldBinary(f.Sc, t.Op, lc, rc)
			}
		}
		if l == t.L && r == t.R {
			return t
		}
		return MustBinary(f.Sc, t.Op, l, r)
	case *MinMax:
		l := f.Mutate(t.L).(Expr)
		r := f.Mutate(t.R).(Expr)
		if lc, ok := asImm(l); ok {
			if rc, ok := asImm(r); ok {
				return foldMinMax(f.Sc, t.IsMax, t.PropagateNaNs, lc, rc)
			}
		}
		if l == t.L && r == t.R {
			return t
		}
		return MustMinMax(f.Sc, t.IsMax, t.PropagateNaNs, l, r)
	case *CompareSelect:
		l := f.Mutate(t.L).(Expr)
		r := f.Mutate(t.R).(Expr)
		tv := f.Mutate(t.TrueV).(Expr)
		fv := f.Mutate(t.FalseV).(Expr)
		if lc, ok := asImm(l); ok {
			if rc, ok := asImm(r); ok {
				if tvc, ok := asImm(tv); ok {
					if fvc, ok := asImm(fv); ok {
						return foldCompareSelect(f.Sc, t.Op, lc, rc, tvc, fvc)
					}
				}
			}
		}
		if l == t.L && r == t.R && tv == t.TrueV && fv == t.FalseV {
			return t
		}
		return MustCompareSelect(f.Sc, t.Op, l, r, tv, fv)
	case *Intrinsic:
		changed := false
		params := make([]Expr, len(t.Params))
		consts := make([]imm, len(t.Params))
		allConst := true
		for i, p := range t.Params {
			np := f.Mutate(p).(Expr)
			params[i] = np
			if np != p {
				changed = true
			}
			if c, ok := asImm(np); ok {
				consts[i] = c
			} else {
				allConst = false
			}
		}
		if allConst {
			if v, ok := foldIntrinsic(f.Sc, t.Op, consts); ok {
				return v
			}
		}
		if !changed {
			return t
		}
		return MustIntrinsic(f.Sc, t.Op, params)
	default:
		return MutateChildren(f, n)
	}
}

// imm is the uniform view of a constant operand used by the folder's
// arithmetic helpers.
type imm struct {
	kind dtype.ScalarKind
	i    int32
	fv   float32
}

func asImm(e Expr) (imm, bool) {
	switch t := e.(type) {
	case *IntImm:
		return imm{kind: dtype.I32, i: t.Value}, true
	case *FloatImm:
		return imm{kind: dtype.F32, fv: t.Value}, true
	default:
		return imm{}, false
	}
}

func (v imm) asFloat() float32 {
	if v.kind == dtype.F32 {
		return v.fv
	}
	return float32(v.i)
}

func immToExpr(s *arena.Scope, v imm) Expr {
	if v.kind == dtype.F32 {
		return NewFloatImm(s, v.fv)
	}
	return NewIntImm(s, v.i)
}

func foldCast(s *arena.Scope, dst dtype.Dtype, src imm) Expr {
	switch dst.Kind {
	case dtype.I32:
		if src.kind == dtype.F32 {
			return NewIntImm(s, int32(src.fv)) // truncation, per spec.md §4.3
		}
		return NewIntImm(s, src.i)
	case dtype.F32:
		return NewFloatImm(s, src.asFloat())
	default:
		panic(malformed("fold: cannot cast to %s", dst))
	}
}

func foldBinary(s *arena.Scope, op BinaryOp, l, r imm) Expr {
	if op.IsBitwise() {
		a, b := l.i, r.i
		var v int32
		switch op {
		case And:
			v = a & b
		case Xor:
			v = a ^ b
		case Lshift:
			v = a << uint32(b)
		case Rshift:
			v = a >> uint32(b)
		}
		return NewIntImm(s, v)
	}
	if l.kind == dtype.I32 && r.kind == dtype.I32 {
		a, b := l.i, r.i
		var v int32
		switch op {
		case Add:
			v = a + b
		case Sub:
			v = a - b
		case Mul:
			v = a * b
		case Div:
			v = a / b // Go's / already truncates toward zero for ints
		case Mod:
			v = a % b
		}
		return NewIntImm(s, v)
	}
	a, b := l.asFloat(), r.asFloat()
	var v float32
	switch op {
	case Add:
		v = a + b
	case Sub:
		v = a - b
	case Mul:
		v = a * b
	case Div:
		v = a / b
	default:
		panic(malformed("fold: %s on float operands is rejected at construction", op))
	}
	return NewFloatImm(s, v)
}

func foldMinMax(s *arena.Scope, isMax, propagateNaNs bool, l, r imm) Expr {
	if l.kind == dtype.I32 && r.kind == dtype.I32 {
		a, b := l.i, r.i
		if (isMax && a > b) || (!isMax && a < b) {
			return NewIntImm(s, a)
		}
		return NewIntImm(s, b)
	}
	a, b := l.asFloat(), r.asFloat()
	if propagateNaNs && (math.IsNaN(float64(a)) || math.IsNaN(float64(b))) {
		return NewFloatImm(s, float32(math.NaN()))
	}
	if (isMax && a > b) || (!isMax && a < b) {
		return NewFloatImm(s, a)
	}
	return NewFloatImm(s, b)
}

func foldCompareSelect(s *arena.Scope, op CompareOp, l, r, tv, fv imm) Expr {
	var holds bool
	if l.kind == dtype.I32 && r.kind == dtype.I32 {
		holds = compareInt(op, l.i, r.i)
	} else {
		holds = compareFloat(op, l.asFloat(), r.asFloat())
	}
	if holds {
		return immToExpr(s, tv)
	}
	return immToExpr(s, fv)
}

func compareInt(op CompareOp, a, b int32) bool {
	switch op {
	case EQ:
		return a == b
	case NE:
		return a != b
	case LT:
		return a < b
	case LE:
		return a <= b
	case GT:
		return a > b
	case GE:
		return a >= b
	default:
		return false
	}
}

func compareFloat(op CompareOp, a, b float32) bool {
	switch op {
	case EQ:
		return a == b
	case NE:
		return a != b
	case LT:
		return a < b
	case LE:
		return a <= b
	case GT:
		return a > b
	case GE:
		return a >= b
	default:
		return false
	}
}

func foldIntrinsic(s *arena.Scope, op IntrinsicOp, params []imm) (Expr, bool) {
	if op == Rand {
		return nil, false // non-deterministic, never folded
	}
	args := make([]float64, len(params))
	for i, p := range params {
		args[i] = float64(p.asFloat())
	}
	var v float64
	switch op {
	case Sin:
		v = math.Sin(args[0])
	case Cos:
		v = math.Cos(args[0])
	case Tan:
		v = math.Tan(args[0])
	case Asin:
		v = math.Asin(args[0])
	case Acos:
		v = math.Acos(args[0])
	case Atan:
		v = math.Atan(args[0])
	case Atan2:
		v = math.Atan2(args[0], args[1])
	case Sinh:
		v = math.Sinh(args[0])
	case Cosh:
		v = math.Cosh(args[0])
	case Tanh:
		v = math.Tanh(args[0])
	case Exp:
		v = math.Exp(args[0])
	case Expm1:
		v = math.Expm1(args[0])
	case Fabs:
		v = math.Abs(args[0])
	case Log:
		v = math.Log(args[0])
	case Log2:
		v = math.Log2(args[0])
	case Log10:
		v = math.Log10(args[0])
	case Log1p:
		v = math.Log1p(args[0])
	case Erf:
		v = math.Erf(args[0])
	case Erfc:
		v = math.Erfc(args[0])
	case Sqrt:
		v = math.Sqrt(args[0])
	case Rsqrt:
		v = 1 / math.Sqrt(args[0])
	case Pow:
		v = math.Pow(args[0], args[1])
	case Ceil:
		v = math.Ceil(args[0])
	case Floor:
		v = math.Floor(args[0])
	case Round:
		v = math.Round(args[0])
	case Trunc:
		v = math.Trunc(args[0])
	case Fmod:
		v = math.Mod(args[0], args[1])
	case Remainder:
		v = math.Remainder(args[0], args[1])
	case Lgamma:
		v, _ = math.Lgamma(args[0])
	case Frac:
		v = args[0] - math.Trunc(args[0])
	default:
		return nil, false
	}
	return NewFloatImm(s, float32(v)), true
}
