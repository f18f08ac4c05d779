package ir

import (
	"github.com/texc/texc/arena"
	"github.com/texc/texc/dtype"
)

// LetStmt binds VarNode to Value for the remainder of the enclosing
// Block; unlike the expression-level Let it has no explicit body, so its
// scope is lexical within the Block that contains it.
type LetStmt struct {
	VarNode *Var
	Value   Expr
}

func NewLetStmt(s *arena.Scope, v *Var, value Expr) *LetStmt {
	return arena.Alloc(s, &LetStmt{VarNode: v, Value: value})
}

func (n *LetStmt) isStmt() {}
func (n *LetStmt) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.VarNode)
	Walk(v, n.Value)
	v.Postorder(n)
}
func (n *LetStmt) mutateChildren(m Mutator) Stmt {
	vv, ok := m.Mutate(n.VarNode).(*Var)
	if !ok {
		panic(malformed("let_stmt: mutator replaced the bound variable with a non-Variable node"))
	}
	val := m.Mutate(n.Value).(Expr)
	if vv == n.VarNode && val == n.Value {
		return n
	}
	return NewLetStmt(m.Scope(), vv, val)
}

// Block sequences statements. A nil or empty-after-filtering Stmts slice
// is a legal, do-nothing Block; NewBlock drops any nil entries so
// callers building a Block conditionally (e.g. an Allocate paired with a
// Free that got optimized away) never need to filter by hand.
type Block struct {
	Stmts []Stmt
}

func NewBlock(s *arena.Scope, stmts []Stmt) *Block {
	filtered := make([]Stmt, 0, len(stmts))
	for _, st := range stmts {
		if st != nil {
			filtered = append(filtered, st)
		}
	}
	return arena.Alloc(s, &Block{Stmts: filtered})
}

func (n *Block) isStmt() {}
func (n *Block) Accept(v Visitor) {
	v.Preorder(n)
	for _, st := range n.Stmts {
		Walk(v, st)
	}
	v.Postorder(n)
}
func (n *Block) mutateChildren(m Mutator) Stmt {
	changed := false
	out := make([]Stmt, 0, len(n.Stmts))
	for _, st := range n.Stmts {
		ns, _ := m.Mutate(st).(Stmt)
		if ns == nil {
			changed = true
			continue
		}
		out = append(out, ns)
		if ns != st {
			changed = true
		}
	}
	if !changed {
		return n
	}
	return NewBlock(m.Scope(), out)
}

// For executes Body once per index in [Start, Stop) bound to VarNode.
// Opts optionally binds the loop to a CUDA block/thread axis instead of
// emitting a real loop (spec.md §4.9's GPU lowering).
type For struct {
	VarNode    *Var
	Start, Stop Expr
	Body       Stmt
	Opts       LoopOptions
}

func NewFor(s *arena.Scope, v *Var, start, stop Expr, body Stmt, opts LoopOptions) (*For, error) {
	if v.Dtype().Kind != dtype.I32 || !v.Dtype().IsScalar() {
		return nil, malformed("for: loop variable must be scalar i32, got %s", v.Dtype())
	}
	if start.Dtype().Kind != dtype.I32 || stop.Dtype().Kind != dtype.I32 {
		return nil, malformed("for: start/stop must be i32")
	}
	return arena.Alloc(s, &For{VarNode: v, Start: start, Stop: stop, Body: body, Opts: opts}), nil
}

func MustFor(s *arena.Scope, v *Var, start, stop Expr, body Stmt, opts LoopOptions) *For {
	n, err := NewFor(s, v, start, stop, body, opts)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *For) isStmt() {}
func (n *For) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.VarNode)
	Walk(v, n.Start)
	Walk(v, n.Stop)
	Walk(v, n.Body)
	v.Postorder(n)
}
func (n *For) mutateChildren(m Mutator) Stmt {
	vv, ok := m.Mutate(n.VarNode).(*Var)
	if !ok {
		panic(malformed("for: mutator replaced the loop variable with a non-Variable node"))
	}
	start := m.Mutate(n.Start).(Expr)
	stop := m.Mutate(n.Stop).(Expr)
	body, _ := m.Mutate(n.Body).(Stmt)
	if vv == n.VarNode && start == n.Start && stop == n.Stop && body == n.Body {
		return n
	}
	return MustFor(m.Scope(), vv, start, stop, body, n.Opts)
}

// Store writes Value to BaseVar[Index] gated by Mask, reusing the same
// shape rule Load uses (spec.md §4.3's "Store mirrors Load's index/mask
// shape rule"). Mask defaults to an all-ones i32 immediate of Value's
// lanes when the caller passes nil.
type Store struct {
	BaseVar    *Var
	Index      Expr
	Value      Expr
	Mask       Expr
}

func NewStore(s *arena.Scope, baseVar *Var, index, value, mask Expr) (*Store, error) {
	if mask == nil {
		if value.Dtype().Lanes == 1 {
			mask = NewIntImm(s, 1)
		} else {
			mask = MustBroadcast(s, NewIntImm(s, 1), value.Dtype().Lanes)
		}
	}
	if err := checkLoadStoreShape(value.Dtype(), baseVar, index, mask); err != nil {
		return nil, err
	}
	return arena.Alloc(s, &Store{BaseVar: baseVar, Index: index, Value: value, Mask: mask}), nil
}

func MustStore(s *arena.Scope, baseVar *Var, index, value, mask Expr) *Store {
	n, err := NewStore(s, baseVar, index, value, mask)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Store) isStmt() {}
func (n *Store) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.BaseVar)
	Walk(v, n.Index)
	Walk(v, n.Value)
	Walk(v, n.Mask)
	v.Postorder(n)
}
func (n *Store) mutateChildren(m Mutator) Stmt {
	bv, ok := m.Mutate(n.BaseVar).(*Var)
	if !ok {
		panic(malformed("store: mutator replaced base_var with a non-Variable node"))
	}
	idx := m.Mutate(n.Index).(Expr)
	val := m.Mutate(n.Value).(Expr)
	mask := m.Mutate(n.Mask).(Expr)
	if bv == n.BaseVar && idx == n.Index && val == n.Value && mask == n.Mask {
		return n
	}
	return MustStore(m.Scope(), bv, idx, val, mask)
}

// Allocate reserves NumElements of Dtype for BaseVar; Free releases it.
// Their pairing is lexical convention within an enclosing Block, not a
// statically enforced invariant (spec.md §9's Open Question: a lowering
// pass that drops a matching Free is a bug the type system does not
// catch, by design, matching the original's own unchecked pairing).
type Allocate struct {
	BaseVar     *Var
	Dt          dtype.Dtype
	NumElements Expr
}

func NewAllocate(s *arena.Scope, baseVar *Var, dt dtype.Dtype, numElements Expr) *Allocate {
	return arena.Alloc(s, &Allocate{BaseVar: baseVar, Dt: dt, NumElements: numElements})
}

func (n *Allocate) isStmt() {}
func (n *Allocate) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.BaseVar)
	Walk(v, n.NumElements)
	v.Postorder(n)
}
func (n *Allocate) mutateChildren(m Mutator) Stmt {
	bv, ok := m.Mutate(n.BaseVar).(*Var)
	if !ok {
		panic(malformed("allocate: mutator replaced base_var with a non-Variable node"))
	}
	ne := m.Mutate(n.NumElements).(Expr)
	if bv == n.BaseVar && ne == n.NumElements {
		return n
	}
	return NewAllocate(m.Scope(), bv, n.Dt, ne)
}

// Free releases the buffer Allocate reserved for BaseVar.
type Free struct {
	BaseVar *Var
}

func NewFree(s *arena.Scope, baseVar *Var) *Free {
	return arena.Alloc(s, &Free{BaseVar: baseVar})
}

func (n *Free) isStmt() {}
func (n *Free) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.BaseVar)
	v.Postorder(n)
}
func (n *Free) mutateChildren(m Mutator) Stmt {
	bv, ok := m.Mutate(n.BaseVar).(*Var)
	if !ok {
		panic(malformed("free: mutator replaced base_var with a non-Variable node"))
	}
	if bv == n.BaseVar {
		return n
	}
	return NewFree(m.Scope(), bv)
}

// Cond executes TrueStmt when Condition is non-zero, FalseStmt
// otherwise. Either branch may be nil ("nothing"), matching
// IfThenElse's expression-level counterpart.
type Cond struct {
	Condition Expr
	TrueStmt  Stmt
	FalseStmt Stmt
}

func NewCond(s *arena.Scope, cond Expr, trueStmt, falseStmt Stmt) (*Cond, error) {
	if cond.Dtype().Kind != dtype.I32 || !cond.Dtype().IsScalar() {
		return nil, malformed("cond: condition must be scalar i32, got %s", cond.Dtype())
	}
	return arena.Alloc(s, &Cond{Condition: cond, TrueStmt: trueStmt, FalseStmt: falseStmt}), nil
}

func MustCond(s *arena.Scope, cond Expr, trueStmt, falseStmt Stmt) *Cond {
	n, err := NewCond(s, cond, trueStmt, falseStmt)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Cond) isStmt() {}
func (n *Cond) Accept(v Visitor) {
	v.Preorder(n)
	Walk(v, n.Condition)
	Walk(v, n.TrueStmt)
	Walk(v, n.FalseStmt)
	v.Postorder(n)
}
func (n *Cond) mutateChildren(m Mutator) Stmt {
	cond := m.Mutate(n.Condition).(Expr)
	t, _ := m.Mutate(n.TrueStmt).(Stmt)
	f, _ := m.Mutate(n.FalseStmt).(Stmt)
	if cond == n.Condition && t == n.TrueStmt && f == n.FalseStmt {
		return n
	}
	return MustCond(m.Scope(), cond, t, f)
}
