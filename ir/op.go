package ir

import "fmt"

// BinaryOp tags the arithmetic and bitwise binary expression kinds. A
// single BinaryExpr struct carries one of these tags instead of one Go
// type per operator — the "shared helper keyed by a node-kind tag" the
// spec calls for to avoid duplicating 8+ near-identical cases through the
// visitor/mutator/printer/folder/hasher/codegen layers.
type BinaryOp int8

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Mod
	And
	Xor
	Lshift
	Rshift
)

var binaryOpNames = [...]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/", Mod: "%",
	And: "&", Xor: "^", Lshift: "<<", Rshift: ">>",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", int8(op))
}

// IsBitwise reports whether op requires both operands to be i32 (the
// And/Xor/Lshift/Rshift family), as opposed to the promoting arithmetic
// family (Add/Sub/Mul/Div/Mod).
func (op BinaryOp) IsBitwise() bool {
	return op == And || op == Xor || op == Lshift || op == Rshift
}

// CompareOp tags a CompareSelect's comparison, mirroring the teacher's
// token.TokenType enum-plus-string-table idiom (token.go's EQL/LSS/GTR/
// NEQ/LEQ/GEQ) but scoped to exactly the six ops spec.md §3 names.
type CompareOp int8

const (
	EQ CompareOp = iota
	NE
	LT
	LE
	GT
	GE
)

var compareOpNames = [...]string{
	EQ: "==", NE: "!=", LT: "<", LE: "<=", GT: ">", GE: ">=",
}

func (op CompareOp) String() string {
	if int(op) < len(compareOpNames) {
		return compareOpNames[op]
	}
	return fmt.Sprintf("CompareOp(%d)", int8(op))
}

// IntrinsicOp enumerates the closed set of transcendental/rounding
// functions from spec.md §3.
type IntrinsicOp int8

const (
	Sin IntrinsicOp = iota
	Cos
	Tan
	Asin
	Acos
	Atan
	Atan2
	Sinh
	Cosh
	Tanh
	Exp
	Expm1
	Fabs
	Log
	Log2
	Log10
	Log1p
	Erf
	Erfc
	Sqrt
	Rsqrt
	Pow
	Ceil
	Floor
	Round
	Trunc
	Fmod
	Remainder
	Lgamma
	Frac
	Rand
)

var intrinsicNames = [...]string{
	Sin: "sin", Cos: "cos", Tan: "tan", Asin: "asin", Acos: "acos", Atan: "atan",
	Atan2: "atan2", Sinh: "sinh", Cosh: "cosh", Tanh: "tanh", Exp: "exp",
	Expm1: "expm1", Fabs: "fabs", Log: "log", Log2: "log2", Log10: "log10",
	Log1p: "log1p", Erf: "erf", Erfc: "erfc", Sqrt: "sqrt", Rsqrt: "rsqrt",
	Pow: "pow", Ceil: "ceil", Floor: "floor", Round: "round", Trunc: "trunc",
	Fmod: "fmod", Remainder: "remainder", Lgamma: "lgamma", Frac: "frac", Rand: "rand",
}

// intrinsicArity centralizes the fixed arity of each intrinsic, so
// construction validates arity in one place rather than scattering an
// assert per intrinsic through the IR layer: atan2, pow, fmod and
// remainder take two operands, rand takes none, and all others take one.
var intrinsicArity = [...]int{
	Sin: 1, Cos: 1, Tan: 1, Asin: 1, Acos: 1, Atan: 1,
	Atan2: 2, Sinh: 1, Cosh: 1, Tanh: 1, Exp: 1,
	Expm1: 1, Fabs: 1, Log: 1, Log2: 1, Log10: 1,
	Log1p: 1, Erf: 1, Erfc: 1, Sqrt: 1, Rsqrt: 1,
	Pow: 2, Ceil: 1, Floor: 1, Round: 1, Trunc: 1,
	Fmod: 2, Remainder: 2, Lgamma: 1, Frac: 1, Rand: 0,
}

func (op IntrinsicOp) String() string {
	if int(op) < len(intrinsicNames) {
		return intrinsicNames[op]
	}
	return fmt.Sprintf("IntrinsicOp(%d)", int8(op))
}

// Arity returns the fixed number of operands op accepts.
func (op IntrinsicOp) Arity() int {
	if int(op) < len(intrinsicArity) {
		return intrinsicArity[op]
	}
	return -1
}
