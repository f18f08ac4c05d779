// Package interp implements the tree-walking reference interpreter
// backend (spec.md §4.10.1): a post-order visitor over a lowered Stmt
// that carries a current Value and two maps, scalars and buffers.
package interp

import (
	"math"
	"unsafe"

	"github.com/texc/texc/cerr"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/ir"
)

// Value is a scalar or lane-vector of i32 or f32, the interpreter's
// uniform intermediate result type.
type Value struct {
	Kind  dtype.ScalarKind
	I     []int32
	F     []float32
}

func scalarI(v int32) Value   { return Value{Kind: dtype.I32, I: []int32{v}} }
func scalarF(v float32) Value { return Value{Kind: dtype.F32, F: []float32{v}} }

func (v Value) lanes() int {
	if v.Kind == dtype.F32 {
		return len(v.F)
	}
	return len(v.I)
}

func (v Value) laneI(i int) int32 {
	if v.Kind == dtype.F32 {
		return int32(v.F[i])
	}
	return v.I[i]
}

func (v Value) laneF(i int) float32 {
	if v.Kind == dtype.F32 {
		return v.F[i]
	}
	return float32(v.I[i])
}

// Param describes one buffer or free scalar parameter an Interp
// instance exposes to the generated Stmt, per spec.md §4.10's "all
// three backends consume ... a parameter list describing each buffer
// (base Var, dtype) plus any free scalar Vars."
type Param struct {
	Var *ir.Var
	// Ptr is the raw backing storage for a buffer param: a []int32 or
	// []float32 depending on Var.Dtype().Kind. Nil for a scalar param.
	Ptr any
	// Scalar is the initial value bound for a free scalar param.
	Scalar Value
}

// Interp evaluates a lowered Stmt directly. Not safe for concurrent use;
// callers share neither an Interp nor its underlying buffers across
// goroutines, per spec.md §5.
type Interp struct {
	scalars map[*ir.Var]Value
	buffers map[*ir.Var]any // []int32 or []float32, per Var's dtype
	cur     Value
}

// New builds an Interp with params bound into scalars/buffers.
func New(params []Param) *Interp {
	it := &Interp{scalars: map[*ir.Var]Value{}, buffers: map[*ir.Var]any{}}
	for _, p := range params {
		if p.Ptr != nil {
			it.buffers[p.Var] = p.Ptr
		} else {
			it.scalars[p.Var] = p.Scalar
		}
	}
	return it
}

// Run executes body, a top-level Stmt produced by package lower.
func (it *Interp) Run(body ir.Stmt) error {
	return it.execStmt(body)
}

func (it *Interp) execStmt(s ir.Stmt) error {
	switch n := s.(type) {
	case nil:
		return nil
	case *ir.Block:
		for _, st := range n.Stmts {
			if err := it.execStmt(st); err != nil {
				return err
			}
		}
		return nil
	case *ir.LetStmt:
		v, err := it.eval(n.Value)
		if err != nil {
			return err
		}
		it.scalars[n.VarNode] = v
		return nil
	case *ir.For:
		start, err := it.eval(n.Start)
		if err != nil {
			return err
		}
		stop, err := it.eval(n.Stop)
		if err != nil {
			return err
		}
		for i := start.I[0]; i < stop.I[0]; i++ {
			it.scalars[n.VarNode] = scalarI(i)
			if err := it.execStmt(n.Body); err != nil {
				delete(it.scalars, n.VarNode)
				return err
			}
		}
		delete(it.scalars, n.VarNode)
		return nil
	case *ir.Store:
		return it.execStore(n)
	case *ir.Allocate:
		if _, exists := it.buffers[n.BaseVar]; exists {
			return cerr.New(cerr.ResourceError, "interp: double allocate of %s", n.BaseVar.NameHint)
		}
		count, err := it.eval(n.NumElements)
		if err != nil {
			return err
		}
		n32 := int(count.I[0])
		switch n.Dt.Kind {
		case dtype.F32:
			it.buffers[n.BaseVar] = make([]float32, n32)
		default:
			it.buffers[n.BaseVar] = make([]int32, n32)
		}
		return nil
	case *ir.Free:
		if _, exists := it.buffers[n.BaseVar]; !exists {
			return cerr.New(cerr.ResourceError, "interp: free of never-allocated %s", n.BaseVar.NameHint)
		}
		delete(it.buffers, n.BaseVar)
		return nil
	case *ir.Cond:
		c, err := it.eval(n.Condition)
		if err != nil {
			return err
		}
		if c.I[0] != 0 {
			return it.execStmt(n.TrueStmt)
		}
		return it.execStmt(n.FalseStmt)
	default:
		return cerr.New(cerr.IrMalformed, "interp: unhandled statement type %T", s)
	}
}

func (it *Interp) execStore(n *ir.Store) error {
	idx, err := it.eval(n.Index)
	if err != nil {
		return err
	}
	val, err := it.eval(n.Value)
	if err != nil {
		return err
	}
	mask, err := it.eval(n.Mask)
	if err != nil {
		return err
	}
	buf, ok := it.buffers[n.BaseVar]
	if !ok {
		return cerr.New(cerr.ResourceError, "interp: store to unallocated buffer %s", n.BaseVar.NameHint)
	}
	for lane := 0; lane < val.lanes(); lane++ {
		if mask.laneI(lane) == 0 {
			continue
		}
		at := int(idx.laneI(lane))
		switch b := buf.(type) {
		case []float32:
			b[at] = val.laneF(lane)
		case []int32:
			b[at] = val.laneI(lane)
		}
	}
	return nil
}

// eval evaluates e and returns its Value, without relying on it.cur so
// nested evaluation (e.g. Store's Index/Value/Mask) never clobbers a
// caller's in-flight result.
func (it *Interp) eval(e ir.Expr) (Value, error) {
	switch n := e.(type) {
	case *ir.IntImm:
		return scalarI(n.Value), nil
	case *ir.FloatImm:
		return scalarF(n.Value), nil
	case *ir.Var:
		v, ok := it.scalars[n]
		if !ok {
			return Value{}, cerr.New(cerr.IrMalformed, "interp: unbound variable %s", n.NameHint)
		}
		return v, nil
	case *ir.Cast:
		src, err := it.eval(n.Src)
		if err != nil {
			return Value{}, err
		}
		return castValue(n.Dtype(), src), nil
	case *ir.BinaryExpr:
		return it.evalBinary(n)
	case *ir.MinMax:
		return it.evalMinMax(n)
	case *ir.CompareSelect:
		return it.evalCompareSelect(n)
	case *ir.Let:
		v, err := it.eval(n.Value)
		if err != nil {
			return Value{}, err
		}
		it.scalars[n.VarNode] = v
		result, err := it.eval(n.Body)
		delete(it.scalars, n.VarNode)
		return result, err
	case *ir.Ramp:
		return it.evalRamp(n)
	case *ir.Broadcast:
		val, err := it.eval(n.Value)
		if err != nil {
			return Value{}, err
		}
		return broadcastLanes(val, n.LanesN), nil
	case *ir.IfThenElse:
		c, err := it.eval(n.Cond)
		if err != nil {
			return Value{}, err
		}
		if c.I[0] != 0 {
			return it.eval(n.T)
		}
		return it.eval(n.F)
	case *ir.Load:
		return it.evalLoad(n)
	case *ir.Intrinsic:
		return it.evalIntrinsic(n)
	default:
		return Value{}, cerr.New(cerr.IrMalformed, "interp: unhandled expression type %T", e)
	}
}

func castValue(dt dtype.Dtype, src Value) Value {
	lanes := src.lanes()
	switch dt.Kind {
	case dtype.F32:
		out := make([]float32, lanes)
		for i := range out {
			out[i] = src.laneF(i)
		}
		return Value{Kind: dtype.F32, F: out}
	default:
		out := make([]int32, lanes)
		for i := range out {
			out[i] = src.laneI(i)
		}
		return Value{Kind: dtype.I32, I: out}
	}
}

func broadcastLanes(v Value, lanes int) Value {
	if v.Kind == dtype.F32 {
		out := make([]float32, lanes)
		for i := range out {
			out[i] = v.F[0]
		}
		return Value{Kind: dtype.F32, F: out}
	}
	out := make([]int32, lanes)
	for i := range out {
		out[i] = v.I[0]
	}
	return Value{Kind: dtype.I32, I: out}
}

func (it *Interp) evalBinary(n *ir.BinaryExpr) (Value, error) {
	l, err := it.eval(n.L)
	if err != nil {
		return Value{}, err
	}
	r, err := it.eval(n.R)
	if err != nil {
		return Value{}, err
	}
	lanes := l.lanes()
	if n.Op.IsBitwise() {
		out := make([]int32, lanes)
		for i := 0; i < lanes; i++ {
			a, b := l.laneI(i), r.laneI(i)
			switch n.Op {
			case ir.And:
				out[i] = a & b
			case ir.Xor:
				out[i] = a ^ b
			case ir.Lshift:
				out[i] = a << uint32(b)
			case ir.Rshift:
				out[i] = a >> uint32(b)
			}
		}
		return Value{Kind: dtype.I32, I: out}, nil
	}
	if l.Kind == dtype.I32 && r.Kind == dtype.I32 {
		out := make([]int32, lanes)
		for i := 0; i < lanes; i++ {
			a, b := l.laneI(i), r.laneI(i)
			switch n.Op {
			case ir.Add:
				out[i] = a + b
			case ir.Sub:
				out[i] = a - b
			case ir.Mul:
				out[i] = a * b
			case ir.Div:
				out[i] = a / b
			case ir.Mod:
				out[i] = a % b
			}
		}
		return Value{Kind: dtype.I32, I: out}, nil
	}
	out := make([]float32, lanes)
	for i := 0; i < lanes; i++ {
		a, b := l.laneF(i), r.laneF(i)
		switch n.Op {
		case ir.Add:
			out[i] = a + b
		case ir.Sub:
			out[i] = a - b
		case ir.Mul:
			out[i] = a * b
		case ir.Div:
			out[i] = a / b
		default:
			return Value{}, cerr.New(cerr.IrMalformed, "interp: %s rejected on float operands at construction", n.Op)
		}
	}
	return Value{Kind: dtype.F32, F: out}, nil
}

func (it *Interp) evalMinMax(n *ir.MinMax) (Value, error) {
	l, err := it.eval(n.L)
	if err != nil {
		return Value{}, err
	}
	r, err := it.eval(n.R)
	if err != nil {
		return Value{}, err
	}
	lanes := l.lanes()
	if l.Kind == dtype.I32 && r.Kind == dtype.I32 {
		out := make([]int32, lanes)
		for i := 0; i < lanes; i++ {
			a, b := l.laneI(i), r.laneI(i)
			if (n.IsMax && a > b) || (!n.IsMax && a < b) {
				out[i] = a
			} else {
				out[i] = b
			}
		}
		return Value{Kind: dtype.I32, I: out}, nil
	}
	out := make([]float32, lanes)
	for i := 0; i < lanes; i++ {
		a, b := l.laneF(i), r.laneF(i)
		switch {
		case n.PropagateNaNs && (math.IsNaN(float64(a)) || math.IsNaN(float64(b))):
			out[i] = float32(math.NaN())
		case (n.IsMax && a > b) || (!n.IsMax && a < b):
			out[i] = a
		default:
			out[i] = b
		}
	}
	return Value{Kind: dtype.F32, F: out}, nil
}

func (it *Interp) evalCompareSelect(n *ir.CompareSelect) (Value, error) {
	l, err := it.eval(n.L)
	if err != nil {
		return Value{}, err
	}
	r, err := it.eval(n.R)
	if err != nil {
		return Value{}, err
	}
	tv, err := it.eval(n.TrueV)
	if err != nil {
		return Value{}, err
	}
	fv, err := it.eval(n.FalseV)
	if err != nil {
		return Value{}, err
	}
	lanes := l.lanes()
	if tv.Kind == dtype.F32 {
		out := make([]float32, lanes)
		for i := 0; i < lanes; i++ {
			if compareLane(n.Op, l, r, i) {
				out[i] = tv.laneF(min(i, tv.lanes()-1))
			} else {
				out[i] = fv.laneF(min(i, fv.lanes()-1))
			}
		}
		return Value{Kind: dtype.F32, F: out}, nil
	}
	out := make([]int32, lanes)
	for i := 0; i < lanes; i++ {
		if compareLane(n.Op, l, r, i) {
			out[i] = tv.laneI(min(i, tv.lanes()-1))
		} else {
			out[i] = fv.laneI(min(i, fv.lanes()-1))
		}
	}
	return Value{Kind: dtype.I32, I: out}, nil
}

func compareLane(op ir.CompareOp, l, r Value, i int) bool {
	if l.Kind == dtype.I32 && r.Kind == dtype.I32 {
		a, b := l.laneI(i), r.laneI(i)
		switch op {
		case ir.EQ:
			return a == b
		case ir.NE:
			return a != b
		case ir.LT:
			return a < b
		case ir.LE:
			return a <= b
		case ir.GT:
			return a > b
		case ir.GE:
			return a >= b
		}
		return false
	}
	a, b := l.laneF(i), r.laneF(i)
	switch op {
	case ir.EQ:
		return a == b
	case ir.NE:
		return a != b
	case ir.LT:
		return a < b
	case ir.LE:
		return a <= b
	case ir.GT:
		return a > b
	case ir.GE:
		return a >= b
	}
	return false
}

func (it *Interp) evalRamp(n *ir.Ramp) (Value, error) {
	base, err := it.eval(n.BaseE)
	if err != nil {
		return Value{}, err
	}
	stride, err := it.eval(n.Stride)
	if err != nil {
		return Value{}, err
	}
	if base.Kind == dtype.F32 {
		out := make([]float32, n.LanesN)
		for i := range out {
			out[i] = base.F[0] + float32(i)*stride.F[0]
		}
		return Value{Kind: dtype.F32, F: out}, nil
	}
	out := make([]int32, n.LanesN)
	for i := range out {
		out[i] = base.I[0] + int32(i)*stride.I[0]
	}
	return Value{Kind: dtype.I32, I: out}, nil
}

func (it *Interp) evalLoad(n *ir.Load) (Value, error) {
	idx, err := it.eval(n.Index)
	if err != nil {
		return Value{}, err
	}
	mask, err := it.eval(n.Mask)
	if err != nil {
		return Value{}, err
	}
	buf, ok := it.buffers[n.BaseVar]
	if !ok {
		return Value{}, cerr.New(cerr.ResourceError, "interp: load from unallocated buffer %s", n.BaseVar.NameHint)
	}
	lanes := idx.lanes()
	switch b := buf.(type) {
	case []float32:
		out := make([]float32, lanes)
		for i := 0; i < lanes; i++ {
			if mask.laneI(i) != 0 {
				out[i] = b[idx.laneI(i)]
			}
		}
		return Value{Kind: dtype.F32, F: out}, nil
	case []int32:
		out := make([]int32, lanes)
		for i := 0; i < lanes; i++ {
			if mask.laneI(i) != 0 {
				out[i] = b[idx.laneI(i)]
			}
		}
		return Value{Kind: dtype.I32, I: out}, nil
	default:
		return Value{}, cerr.New(cerr.IrMalformed, "interp: buffer %s has unrecognized storage type", n.BaseVar.NameHint)
	}
}

func (it *Interp) evalIntrinsic(n *ir.Intrinsic) (Value, error) {
	if n.Op == ir.Rand {
		return Value{}, cerr.New(cerr.Numeric, "interp: rand intrinsic has no deterministic reference semantics")
	}
	vals := make([]Value, len(n.Params))
	for i, p := range n.Params {
		v, err := it.eval(p)
		if err != nil {
			return Value{}, err
		}
		vals[i] = v
	}
	lanes := vals[0].lanes()
	out := make([]float32, lanes)
	for lane := 0; lane < lanes; lane++ {
		args := make([]float64, len(vals))
		for i, v := range vals {
			args[i] = float64(v.laneF(lane))
		}
		out[lane] = float32(intrinsicScalar(n.Op, args))
	}
	return Value{Kind: dtype.F32, F: out}, nil
}

func intrinsicScalar(op ir.IntrinsicOp, a []float64) float64 {
	switch op {
	case ir.Sin:
		return math.Sin(a[0])
	case ir.Cos:
		return math.Cos(a[0])
	case ir.Tan:
		return math.Tan(a[0])
	case ir.Asin:
		return math.Asin(a[0])
	case ir.Acos:
		return math.Acos(a[0])
	case ir.Atan:
		return math.Atan(a[0])
	case ir.Atan2:
		return math.Atan2(a[0], a[1])
	case ir.Sinh:
		return math.Sinh(a[0])
	case ir.Cosh:
		return math.Cosh(a[0])
	case ir.Tanh:
		return math.Tanh(a[0])
	case ir.Exp:
		return math.Exp(a[0])
	case ir.Expm1:
		return math.Expm1(a[0])
	case ir.Fabs:
		return math.Abs(a[0])
	case ir.Log:
		return math.Log(a[0])
	case ir.Log2:
		return math.Log2(a[0])
	case ir.Log10:
		return math.Log10(a[0])
	case ir.Log1p:
		return math.Log1p(a[0])
	case ir.Erf:
		return math.Erf(a[0])
	case ir.Erfc:
		return math.Erfc(a[0])
	case ir.Sqrt:
		return math.Sqrt(a[0])
	case ir.Rsqrt:
		return 1 / math.Sqrt(a[0])
	case ir.Pow:
		return math.Pow(a[0], a[1])
	case ir.Ceil:
		return math.Ceil(a[0])
	case ir.Floor:
		return math.Floor(a[0])
	case ir.Round:
		return math.Round(a[0])
	case ir.Trunc:
		return math.Trunc(a[0])
	case ir.Fmod:
		return math.Mod(a[0], a[1])
	case ir.Remainder:
		return math.Remainder(a[0], a[1])
	case ir.Lgamma:
		v, _ := math.Lgamma(a[0])
		return v
	case ir.Frac:
		return a[0] - math.Trunc(a[0])
	default:
		return 0
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// AsFloat32Slice reinterprets a buffer pointer handed in through Param
// for callers marshaling raw memory, mirroring the fuser.Buffer
// contract's unsafe.Pointer shape (spec.md §6).
func AsFloat32Slice(ptr unsafe.Pointer, n int) []float32 {
	return unsafe.Slice((*float32)(ptr), n)
}

// AsInt32Slice is AsFloat32Slice's i32 counterpart.
func AsInt32Slice(ptr unsafe.Pointer, n int) []int32 {
	return unsafe.Slice((*int32)(ptr), n)
}
