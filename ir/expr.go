package ir

import (
	"github.com/texc/texc/arena"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/dtype"
)

func malformed(format string, args ...any) error {
	return cerr.New(cerr.IrMalformed, format, args...)
}

// IntImm is a constant i32 value.
type IntImm struct {
	base
	Value int32
}

func NewIntImm(s *arena.Scope, v int32) *IntImm {
	return arena.Alloc(s, &IntImm{base: base{dt: dtype.I32Scalar}, Value: v})
}

func (n *IntImm) isExpr() {}
func (n *IntImm) Accept(v Visitor) {
	v.Preorder(n)
	v.Postorder(n)
}
func (n *IntImm) mutateChildren(Mutator) Expr { return n }

// FloatImm is a constant f32 value.
type FloatImm struct {
	base
	Value float32
}

func NewFloatImm(s *arena.Scope, v float32) *FloatImm {
	return arena.Alloc(s, &FloatImm{base: base{dt: dtype.F32Scalar}, Value: v})
}

func (n *FloatImm) isExpr() {}
func (n *FloatImm) Accept(v Visitor) {
	v.Preorder(n)
	v.Postorder(n)
}
func (n *FloatImm) mutateChildren(Mutator) Expr { return n }

// Var is a variable reference. Identity is by pointer, never by
// NameHint — two Vars sharing a NameHint are distinct variables, exactly
// as spec.md §3 requires.
type Var struct {
	base
	NameHint string
}

// NewVar allocates a fresh Var with the given name hint and dtype. A Var
// of dtype.Handle denotes a buffer base.
func NewVar(s *arena.Scope, nameHint string, dt dtype.Dtype) *Var {
	return arena.Alloc(s, &Var{base: base{dt: dt}, NameHint: nameHint})
}

func (n *Var) isExpr() {}
func (n *Var) Accept(v Visitor) {
	v.Preorder(n)
	v.Postorder(n)
}
func (n *Var) mutateChildren(Mutator) Expr { return n }

// Cast converts src to dst dtype. Lanes must match; Handle never
// participates.
type Cast struct {
	base
	Src Expr
}

func NewCast(s *arena.Scope, dst dtype.Dtype, src Expr) (*Cast, error) {
	if src.Dtype().Kind == dtype.Handle || dst.Kind == dtype.Handle {
		return nil, malformed("cast: handle dtype never participates in arithmetic")
	}
	if src.Dtype().Lanes != dst.Lanes {
		return nil, malformed("cast: lane mismatch %d vs %d", src.Dtype().Lanes, dst.Lanes)
	}
	return arena.Alloc(s, &Cast{base: base{dt: dst}, Src: src}), nil
}

// MustCast panics on a malformed cast; used by mutators rebuilding a node
// whose shape was already validated once by the original construction.
func MustCast(s *arena.Scope, dst dtype.Dtype, src Expr) *Cast {
	c, err := NewCast(s, dst, src)
	if err != nil {
		panic(err)
	}
	return c
}

func (n *Cast) isExpr() {}
func (n *Cast) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.Src)
	v.Postorder(n)
}
func (n *Cast) mutateChildren(m Mutator) Expr {
	src := m.Mutate(n.Src).(Expr)
	if src == n.Src {
		return n
	}
	return MustCast(m.Scope(), n.dt, src)
}

// BinaryExpr covers every binary arithmetic/bitwise operator with one Go
// type tagged by Op, the "shared helper keyed by a node-kind tag" spec.md
// §4.2 calls for instead of nine near-identical struct definitions.
type BinaryExpr struct {
	base
	Op   BinaryOp
	L, R Expr
}

// NewBinary builds a BinaryExpr, applying the promotion rule for the
// arithmetic family and the same-i32/same-lanes rule for the bitwise
// family.
func NewBinary(s *arena.Scope, op BinaryOp, l, r Expr) (*BinaryExpr, error) {
	ld, rd := l.Dtype(), r.Dtype()
	if ld.Lanes != rd.Lanes {
		return nil, malformed("%s: lane mismatch %d vs %d", op, ld.Lanes, rd.Lanes)
	}
	if ld.Kind == dtype.Handle || rd.Kind == dtype.Handle {
		return nil, malformed("%s: handle dtype never participates in arithmetic", op)
	}
	var dt dtype.Dtype
	if op.IsBitwise() {
		if ld.Kind != dtype.I32 || rd.Kind != dtype.I32 {
			return nil, malformed("%s: both operands must be i32", op)
		}
		dt = ld
	} else {
		if op == Mod && (ld.Kind == dtype.F32 || rd.Kind == dtype.F32) {
			return nil, malformed("mod: float operands not allowed, use the fmod intrinsic")
		}
		k, err := dtype.Promote(ld.Kind, rd.Kind)
		if err != nil {
			return nil, malformed("%s: %v", op, err)
		}
		dt = dtype.Dtype{Kind: k, Lanes: ld.Lanes}
		if !ld.Equal(dt) {
			l = MustCast(s, dt, l)
		}
		if !rd.Equal(dt) {
			r = MustCast(s, dt, r)
		}
	}
	return arena.Alloc(s, &BinaryExpr{base: base{dt: dt}, Op: op, L: l, R: r}), nil
}

// MustBinary panics on a malformed binary op; used internally by
// mutators rebuilding an already-valid tree.
func MustBinary(s *arena.Scope, op BinaryOp, l, r Expr) *BinaryExpr {
	b, err := NewBinary(s, op, l, r)
	if err != nil {
		panic(err)
	}
	return b
}

func (n *BinaryExpr) isExpr() {}
func (n *BinaryExpr) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.L)
	Walk(v, n.R)
	v.Postorder(n)
}
func (n *BinaryExpr) mutateChildren(m Mutator) Expr {
	l := m.Mutate(n.L).(Expr)
	r := m.Mutate(n.R).(Expr)
	if l == n.L && r == n.R {
		return n
	}
	return MustBinary(m.Scope(), n.Op, l, r)
}

// MinMax implements Min/Max with an explicit propagate_nans flag
// (spec.md §4.3 / §9's Open Question resolution: callers set it
// explicitly rather than relying on a default).
type MinMax struct {
	base
	IsMax         bool
	PropagateNaNs bool
	L, R          Expr
}

func NewMinMax(s *arena.Scope, isMax, propagateNaNs bool, l, r Expr) (*MinMax, error) {
	ld, rd := l.Dtype(), r.Dtype()
	if ld.Lanes != rd.Lanes {
		return nil, malformed("min/max: lane mismatch %d vs %d", ld.Lanes, rd.Lanes)
	}
	if ld.Kind == dtype.Handle || rd.Kind == dtype.Handle {
		return nil, malformed("min/max: handle dtype never participates in arithmetic")
	}
	k, err := dtype.Promote(ld.Kind, rd.Kind)
	if err != nil {
		return nil, malformed("min/max: %v", err)
	}
	dt := dtype.Dtype{Kind: k, Lanes: ld.Lanes}
	if !ld.Equal(dt) {
		l = MustCast(s, dt, l)
	}
	if !rd.Equal(dt) {
		r = MustCast(s, dt, r)
	}
	return arena.Alloc(s, &MinMax{base: base{dt: dt}, IsMax: isMax, PropagateNaNs: propagateNaNs, L: l, R: r}), nil
}

func MustMinMax(s *arena.Scope, isMax, propagateNaNs bool, l, r Expr) *MinMax {
	n, err := NewMinMax(s, isMax, propagateNaNs, l, r)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *MinMax) isExpr() {}
func (n *MinMax) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.L)
	Walk(v, n.R)
	v.Postorder(n)
}
func (n *MinMax) mutateChildren(m Mutator) Expr {
	l := m.Mutate(n.L).(Expr)
	r := m.Mutate(n.R).(Expr)
	if l == n.L && r == n.R {
		return n
	}
	return MustMinMax(m.Scope(), n.IsMax, n.PropagateNaNs, l, r)
}

// CompareSelect evaluates lhs OP rhs and yields TrueV when the
// comparison holds, FalseV otherwise. TrueV/FalseV default to the i32
// immediates 1 and 0 when nil.
type CompareSelect struct {
	base
	L, R          Expr
	TrueV, FalseV Expr
	Op            CompareOp
}

// NewCompareSelect builds a CompareSelect. Passing trueV == nil &&
// falseV == nil selects the default 1/0 i32 branches; passing both
// non-nil requires identical dtypes, which become the node's dtype.
func NewCompareSelect(s *arena.Scope, op CompareOp, lhs, rhs, trueV, falseV Expr) (*CompareSelect, error) {
	if lhs.Dtype().Lanes != rhs.Dtype().Lanes {
		return nil, malformed("compare_select: lane mismatch %d vs %d", lhs.Dtype().Lanes, rhs.Dtype().Lanes)
	}
	if trueV == nil && falseV == nil {
		trueV = NewIntImm(s, 1)
		falseV = NewIntImm(s, 0)
	} else if trueV == nil || falseV == nil {
		return nil, malformed("compare_select: true_value and false_value must both be set or both omitted")
	}
	if !trueV.Dtype().Equal(falseV.Dtype()) {
		return nil, malformed("compare_select: branch dtype mismatch %s vs %s", trueV.Dtype(), falseV.Dtype())
	}
	return arena.Alloc(s, &CompareSelect{base: base{dt: trueV.Dtype()}, L: lhs, R: rhs, TrueV: trueV, FalseV: falseV, Op: op}), nil
}

func MustCompareSelect(s *arena.Scope, op CompareOp, lhs, rhs, trueV, falseV Expr) *CompareSelect {
	n, err := NewCompareSelect(s, op, lhs, rhs, trueV, falseV)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *CompareSelect) isExpr() {}
func (n *CompareSelect) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.L)
	Walk(v, n.R)
	Walk(v, n.TrueV)
	Walk(v, n.FalseV)
	v.Postorder(n)
}
func (n *CompareSelect) mutateChildren(m Mutator) Expr {
	l := m.Mutate(n.L).(Expr)
	r := m.Mutate(n.R).(Expr)
	t := m.Mutate(n.TrueV).(Expr)
	f := m.Mutate(n.FalseV).(Expr)
	if l == n.L && r == n.R && t == n.TrueV && f == n.FalseV {
		return n
	}
	return MustCompareSelect(m.Scope(), n.Op, l, r, t, f)
}

// Let is an expression-level binding: body's dtype is the Let's dtype.
type Let struct {
	base
	VarNode *Var
	Value   Expr
	Body    Expr
}

func NewLet(s *arena.Scope, v *Var, value, body Expr) (*Let, error) {
	return arena.Alloc(s, &Let{base: base{dt: body.Dtype()}, VarNode: v, Value: value, Body: body}), nil
}

func MustLet(s *arena.Scope, v *Var, value, body Expr) *Let {
	n, _ := NewLet(s, v, value, body)
	return n
}

func (n *Let) isExpr() {}
func (n *Let) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.VarNode)
	Walk(v, n.Value)
	Walk(v, n.Body)
	v.Postorder(n)
}
func (n *Let) mutateChildren(m Mutator) Expr {
	vv := m.Mutate(n.VarNode)
	newVar, ok := vv.(*Var)
	if !ok {
		panic(malformed("let: mutator replaced the bound variable with a non-Variable node"))
	}
	value := m.Mutate(n.Value).(Expr)
	body := m.Mutate(n.Body).(Expr)
	if newVar == n.VarNode && value == n.Value && body == n.Body {
		return n
	}
	return MustLet(m.Scope(), newVar, value, body)
}

// Ramp produces lanes values base, base+stride, base+2*stride, ...
type Ramp struct {
	base
	BaseE  Expr
	Stride Expr
	LanesN int
}

func NewRamp(s *arena.Scope, baseE, stride Expr, lanes int) (*Ramp, error) {
	if !baseE.Dtype().Equal(stride.Dtype()) {
		return nil, malformed("ramp: base dtype %s != stride dtype %s", baseE.Dtype(), stride.Dtype())
	}
	if !baseE.Dtype().IsScalar() {
		return nil, malformed("ramp: base/stride must be scalar")
	}
	if lanes < 1 {
		return nil, malformed("ramp: lanes must be >= 1, got %d", lanes)
	}
	return arena.Alloc(s, &Ramp{base: base{dt: baseE.Dtype().WithLanes(lanes)}, BaseE: baseE, Stride: stride, LanesN: lanes}), nil
}

func MustRamp(s *arena.Scope, baseE, stride Expr, lanes int) *Ramp {
	n, err := NewRamp(s, baseE, stride, lanes)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Ramp) isExpr() {}
func (n *Ramp) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.BaseE)
	Walk(v, n.Stride)
	v.Postorder(n)
}
func (n *Ramp) mutateChildren(m Mutator) Expr {
	b := m.Mutate(n.BaseE).(Expr)
	st := m.Mutate(n.Stride).(Expr)
	if b == n.BaseE && st == n.Stride {
		return n
	}
	return MustRamp(m.Scope(), b, st, n.LanesN)
}

// Broadcast lifts a scalar value to all lanes of a vector.
type Broadcast struct {
	base
	Value  Expr
	LanesN int
}

func NewBroadcast(s *arena.Scope, value Expr, lanes int) (*Broadcast, error) {
	if !value.Dtype().IsScalar() {
		return nil, malformed("broadcast: value must be scalar")
	}
	if lanes < 1 {
		return nil, malformed("broadcast: lanes must be >= 1, got %d", lanes)
	}
	return arena.Alloc(s, &Broadcast{base: base{dt: value.Dtype().WithLanes(lanes)}, Value: value, LanesN: lanes}), nil
}

func MustBroadcast(s *arena.Scope, value Expr, lanes int) *Broadcast {
	n, err := NewBroadcast(s, value, lanes)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Broadcast) isExpr() {}
func (n *Broadcast) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.Value)
	v.Postorder(n)
}
func (n *Broadcast) mutateChildren(m Mutator) Expr {
	val := m.Mutate(n.Value).(Expr)
	if val == n.Value {
		return n
	}
	return MustBroadcast(m.Scope(), val, n.LanesN)
}

// IfThenElse is the prefix-form conditional expression. cond must be
// scalar i32; t and f must share an identical dtype.
type IfThenElse struct {
	base
	Cond, T, F Expr
}

func NewIfThenElse(s *arena.Scope, cond, t, f Expr) (*IfThenElse, error) {
	if !cond.Dtype().Equal(dtype.I32Scalar) {
		return nil, malformed("if_then_else: condition must be scalar i32, got %s", cond.Dtype())
	}
	if !t.Dtype().Equal(f.Dtype()) {
		return nil, malformed("if_then_else: branch dtype mismatch %s vs %s", t.Dtype(), f.Dtype())
	}
	return arena.Alloc(s, &IfThenElse{base: base{dt: t.Dtype()}, Cond: cond, T: t, F: f}), nil
}

func MustIfThenElse(s *arena.Scope, cond, t, f Expr) *IfThenElse {
	n, err := NewIfThenElse(s, cond, t, f)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *IfThenElse) isExpr() {}
func (n *IfThenElse) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.Cond)
	Walk(v, n.T)
	Walk(v, n.F)
	v.Postorder(n)
}
func (n *IfThenElse) mutateChildren(m Mutator) Expr {
	c := m.Mutate(n.Cond).(Expr)
	t := m.Mutate(n.T).(Expr)
	f := m.Mutate(n.F).(Expr)
	if c == n.Cond && t == n.T && f == n.F {
		return n
	}
	return MustIfThenElse(m.Scope(), c, t, f)
}

// Load reads dtype.Lanes elements from base_var[index] gated by mask.
// base_var must be dtype.Handle; index and mask must share lanes with
// dtype and have scalar kind i32.
type Load struct {
	base
	BaseVar *Var
	Index   Expr
	Mask    Expr
}

func NewLoad(s *arena.Scope, dt dtype.Dtype, baseVar *Var, index, mask Expr) (*Load, error) {
	if err := checkLoadStoreShape(dt, baseVar, index, mask); err != nil {
		return nil, err
	}
	return arena.Alloc(s, &Load{base: base{dt: dt}, BaseVar: baseVar, Index: index, Mask: mask}), nil
}

func checkLoadStoreShape(dt dtype.Dtype, baseVar *Var, index, mask Expr) error {
	if baseVar.Dtype().Kind != dtype.Handle {
		return malformed("load/store: base_var must be dtype.Handle, got %s", baseVar.Dtype())
	}
	if index.Dtype().Kind != dtype.I32 || mask.Dtype().Kind != dtype.I32 {
		return malformed("load/store: index and mask must be i32")
	}
	if index.Dtype().Lanes != dt.Lanes || mask.Dtype().Lanes != dt.Lanes {
		return malformed("load/store: index/mask lanes must equal dtype lanes (%d): index=%d mask=%d",
			dt.Lanes, index.Dtype().Lanes, mask.Dtype().Lanes)
	}
	return nil
}

func MustLoad(s *arena.Scope, dt dtype.Dtype, baseVar *Var, index, mask Expr) *Load {
	n, err := NewLoad(s, dt, baseVar, index, mask)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Load) isExpr() {}
func (n *Load) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.BaseVar)
	Walk(v, n.Index)
	Walk(v, n.Mask)
	v.Postorder(n)
}
func (n *Load) mutateChildren(m Mutator) Expr {
	bv, ok := m.Mutate(n.BaseVar).(*Var)
	if !ok {
		panic(malformed("load: mutator replaced base_var with a non-Variable node"))
	}
	idx := m.Mutate(n.Index).(Expr)
	mask := m.Mutate(n.Mask).(Expr)
	if bv == n.BaseVar && idx == n.Index && mask == n.Mask {
		return n
	}
	return MustLoad(m.Scope(), n.dt, bv, idx, mask)
}

// Intrinsic applies a fixed-arity transcendental/rounding function.
type Intrinsic struct {
	base
	Op     IntrinsicOp
	Params []Expr
}

func NewIntrinsic(s *arena.Scope, op IntrinsicOp, params []Expr) (*Intrinsic, error) {
	if want := op.Arity(); want >= 0 && len(params) != want {
		return nil, malformed("intrinsic %s: expected %d params, got %d", op, want, len(params))
	}
	if len(params) == 0 {
		return arena.Alloc(s, &Intrinsic{base: base{dt: dtype.F32Scalar}, Op: op, Params: params}), nil
	}
	dt := params[0].Dtype()
	for _, p := range params[1:] {
		if !p.Dtype().Equal(dt) {
			return nil, malformed("intrinsic %s: operand dtype mismatch %s vs %s", op, dt, p.Dtype())
		}
	}
	return arena.Alloc(s, &Intrinsic{base: base{dt: dt}, Op: op, Params: params}), nil
}

func MustIntrinsic(s *arena.Scope, op IntrinsicOp, params []Expr) *Intrinsic {
	n, err := NewIntrinsic(s, op, params)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Intrinsic) isExpr() {}
func (n *Intrinsic) Accept(v Visitor) {
	v.Preorder(n)
	for _, p := range n.Params {
		Walk(v, p)
	}
	v.Postorder(n)
}
func (n *Intrinsic) mutateChildren(m Mutator) Expr {
	changed := false
	params := make([]Expr, len(n.Params))
	for i, p := range n.Params {
		np := m.Mutate(p).(Expr)
		params[i] = np
		if np != p {
			changed = true
		}
	}
	if !changed {
		return n
	}
	return MustIntrinsic(m.Scope(), n.Op, params)
}

// CallTarget is the narrow interface FunctionCall needs from a tensor,
// kept here instead of importing package tensor to avoid an ir<->tensor
// import cycle (tensor.Tensor implements this).
type CallTarget interface {
	CallName() string
	CallDtype() dtype.Dtype
}

// FunctionCall references a named tensor by identity at a given index
// tuple.
type FunctionCall struct {
	base
	Target  CallTarget
	Indices []Expr
}

func NewFunctionCall(s *arena.Scope, target CallTarget, indices []Expr) *FunctionCall {
	return arena.Alloc(s, &FunctionCall{base: base{dt: target.CallDtype()}, Target: target, Indices: indices})
}

func (n *FunctionCall) isExpr() {}
func (n *FunctionCall) Accept(v Visitor) {
	v.Preorder(n)
	for _, idx := range n.Indices {
		Walk(v, idx)
	}
	v.Postorder(n)
}
func (n *FunctionCall) mutateChildren(m Mutator) Expr {
	changed := false
	idxs := make([]Expr, len(n.Indices))
	for i, idx := range n.Indices {
		ni := m.Mutate(idx).(Expr)
		idxs[i] = ni
		if ni != idx {
			changed = true
		}
	}
	if !changed {
		return n
	}
	return NewFunctionCall(m.Scope(), n.Target, idxs)
}
