package ir

import "github.com/texc/texc/arena"

// Substitutor replaces every occurrence of a bound Var with its mapped
// replacement expression, the substitute(e, sigma) of spec.md §8's
// property 2.
type Substitutor struct {
	BaseMutator
	subst map[*Var]Expr
}

// Substitute rewrites n, replacing every Var v that has an entry in
// subst with subst[v], allocating any rebuilt nodes into s.
func Substitute(s *arena.Scope, n Expr, subst map[*Var]Expr) Expr {
	sub := &Substitutor{BaseMutator: BaseMutator{Sc: s}, subst: subst}
	return sub.Mutate(n).(Expr)
}

func (sub *Substitutor) Mutate(n any) any {
	if v, ok := n.(*Var); ok {
		if repl, ok := sub.subst[v]; ok {
			return repl
		}
		return v
	}
	return MutateChildren(sub, n)
}
