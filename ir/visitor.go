package ir

// Visitor observes a tree without rebuilding it. Preorder runs before a
// node's children are walked, Postorder after. Both default to doing
// nothing when embedding BaseVisitor, so a caller interested in only one
// hook never has to stub the other.
type Visitor interface {
	Preorder(n any)
	Postorder(n any)
}

// BaseVisitor gives a concrete visitor no-op Preorder/Postorder it can
// override selectively, the same "embed the default, override what you
// need" shape as the teacher's ast walkers.
type BaseVisitor struct{}

func (BaseVisitor) Preorder(any)  {}
func (BaseVisitor) Postorder(any) {}

// Walk dispatches to n's own Accept, letting each node type decide the
// order in which its children are visited rather than centralizing a
// type switch here. Passing nil is a no-op, which keeps call sites like
// Cond's optional branches simple.
func Walk(v Visitor, n any) {
	if n == nil {
		return
	}
	switch t := n.(type) {
	case Expr:
		t.Accept(v)
	case Stmt:
		t.Accept(v)
	default:
		panic(malformed("ir.Walk: %T is neither Expr nor Stmt", n))
	}
}
