package ir

import "github.com/texc/texc/arena"

// Mutator rebuilds a tree, possibly replacing some nodes. Mutate is
// called on every node Walk would visit; a Mutator that wants to leave
// most of the tree alone embeds BaseMutator and overrides only the
// cases it cares about, falling through to MutateChildren otherwise.
//
// Scope names the *arena.Scope new nodes get allocated into when a
// mutator rebuilds a parent because one of its children changed. It is
// always the scope the caller is rewriting into, never a package-level
// scope — package ir owns no arena of its own, by the same rule that
// keeps arena.Scope free of a thread-local (see package arena's doc
// comment).
type Mutator interface {
	Mutate(n any) any
	Scope() *arena.Scope
}

// BaseMutator implements the identity-preserving default: rebuild a
// node's children and return the original pointer when nothing changed,
// a freshly allocated node otherwise. Embedding it and overriding Mutate
// for the handful of node kinds a rewrite cares about is the usual way
// to write a Mutator, mirroring the teacher's BaseVisitor embedding
// idiom in ast/ast.go.
type BaseMutator struct {
	Sc *arena.Scope
}

func (b *BaseMutator) Scope() *arena.Scope { return b.Sc }

// Mutate dispatches to the node's own mutateChildren, which rebuilds
// only if a child actually changed. Embedders that override Mutate for
// specific node kinds should call MutateChildren(m, n) for everything
// else, not b.Mutate, so the override's own logic stays in the dispatch
// chain the caller expects.
func (b *BaseMutator) Mutate(n any) any {
	return MutateChildren(b, n)
}

// MutateChildren applies m's Mutate to every child of n and returns the
// possibly-rebuilt node. It is the fallthrough every embedding Mutator
// calls for node kinds it doesn't special-case.
func MutateChildren(m Mutator, n any) any {
	if n == nil {
		return nil
	}
	switch t := n.(type) {
	case Expr:
		return t.mutateChildren(m)
	case Stmt:
		return t.mutateChildren(m)
	default:
		panic(malformed("ir.MutateChildren: %T is neither Expr nor Stmt", n))
	}
}
