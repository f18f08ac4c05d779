package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/texc/texc/dtype"
)

// UniqueNameManager assigns each distinct *Var a unique textual name
// derived from its NameHint: the first Var with a hint gets the bare
// hint, later ones get "_1", "_2", ... appended.
// Identity is by pointer: two Vars sharing a NameHint get distinct
// printed names; the same Var printed twice gets the same name both
// times.
type UniqueNameManager struct {
	names  map[*Var]string
	taken  map[string]int
}

func NewUniqueNameManager() *UniqueNameManager {
	return &UniqueNameManager{names: map[*Var]string{}, taken: map[string]int{}}
}

// NameOf returns v's assigned unique name, computing and caching one on
// first use.
func (u *UniqueNameManager) NameOf(v *Var) string {
	if name, ok := u.names[v]; ok {
		return name
	}
	hint := v.NameHint
	if hint == "" {
		hint = "v"
	}
	n, seen := u.taken[hint]
	var name string
	if !seen {
		name = hint
	} else {
		name = fmt.Sprintf("%s_%d", hint, n)
	}
	u.taken[hint] = n + 1
	u.names[v] = name
	return name
}

// Printer renders a canonical textual form of an Expr or Stmt tree,
// used by golden tests (spec.md §4.6's scenario A: "((2.f + 3.f) - (4.f
// + 5.f))") and diagnostics.
type Printer struct {
	names *UniqueNameManager
	sb    strings.Builder
	depth int
}

func NewPrinter() *Printer {
	return &Printer{names: NewUniqueNameManager()}
}

// Print renders n (an Expr or a Stmt) to its canonical textual form.
func Print(n any) string {
	p := NewPrinter()
	p.write(n)
	return p.sb.String()
}

func (p *Printer) write(n any) {
	switch t := n.(type) {
	case *IntImm:
		p.sb.WriteString(strconv.FormatInt(int64(t.Value), 10))
	case *FloatImm:
		p.sb.WriteString(formatFloat(t.Value))
	case *Var:
		p.sb.WriteString(p.names.NameOf(t))
	case *Cast:
		fmt.Fprintf(&p.sb, "%s(", castName(t.dt))
		p.write(t.Src)
		p.sb.WriteString(")")
	case *BinaryExpr:
		p.sb.WriteString("(")
		p.write(t.L)
		fmt.Fprintf(&p.sb, " %s ", t.Op)
		p.write(t.R)
		p.sb.WriteString(")")
	case *MinMax:
		name := "min"
		if t.IsMax {
			name = "max"
		}
		fmt.Fprintf(&p.sb, "%s(", name)
		p.write(t.L)
		p.sb.WriteString(", ")
		p.write(t.R)
		if t.PropagateNaNs {
			p.sb.WriteString(", propagate_nans=true")
		}
		p.sb.WriteString(")")
	case *CompareSelect:
		p.sb.WriteString("compare_select(")
		p.write(t.L)
		fmt.Fprintf(&p.sb, " %s ", t.Op)
		p.write(t.R)
		p.sb.WriteString(", ")
		p.write(t.TrueV)
		p.sb.WriteString(", ")
		p.write(t.FalseV)
		p.sb.WriteString(")")
	case *Let:
		p.sb.WriteString("Let ")
		p.write(t.VarNode)
		p.sb.WriteString(" = ")
		p.write(t.Value)
		p.sb.WriteString(" in ")
		p.write(t.Body)
	case *Ramp:
		p.sb.WriteString("ramp(")
		p.write(t.BaseE)
		p.sb.WriteString(", ")
		p.write(t.Stride)
		fmt.Fprintf(&p.sb, ", %d)", t.LanesN)
	case *Broadcast:
		p.sb.WriteString("broadcast(")
		p.write(t.Value)
		fmt.Fprintf(&p.sb, ", %d)", t.LanesN)
	case *IfThenElse:
		p.sb.WriteString("IfThenElse(")
		p.write(t.Cond)
		p.sb.WriteString(", ")
		p.write(t.T)
		p.sb.WriteString(", ")
		p.write(t.F)
		p.sb.WriteString(")")
	case *Load:
		p.write(t.BaseVar)
		p.sb.WriteString("[")
		p.write(t.Index)
		p.sb.WriteString("]")
	case *Intrinsic:
		fmt.Fprintf(&p.sb, "%s(", t.Op)
		for i, param := range t.Params {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			p.write(param)
		}
		p.sb.WriteString(")")
	case *FunctionCall:
		p.sb.WriteString(t.Target.CallName())
		p.sb.WriteString("(")
		for i, idx := range t.Indices {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			p.write(idx)
		}
		p.sb.WriteString(")")
	case *LetStmt:
		p.indent()
		p.sb.WriteString("Let ")
		p.write(t.VarNode)
		p.sb.WriteString(" = ")
		p.write(t.Value)
		p.sb.WriteString(";\n")
	case *Block:
		for _, st := range t.Stmts {
			p.write(st)
		}
	case *For:
		p.indent()
		p.sb.WriteString("For(")
		p.write(t.VarNode)
		p.sb.WriteString(", ")
		p.write(t.Start)
		p.sb.WriteString(", ")
		p.write(t.Stop)
		p.sb.WriteString(") {\n")
		p.depth++
		p.write(t.Body)
		p.depth--
		p.indent()
		p.sb.WriteString("}\n")
	case *Store:
		p.indent()
		p.write(t.BaseVar)
		p.sb.WriteString("[")
		p.write(t.Index)
		p.sb.WriteString("] = ")
		p.write(t.Value)
		p.sb.WriteString(";\n")
	case *Allocate:
		p.indent()
		p.sb.WriteString("Allocate(")
		p.write(t.BaseVar)
		p.sb.WriteString(");\n")
	case *Free:
		p.indent()
		p.sb.WriteString("Free(")
		p.write(t.BaseVar)
		p.sb.WriteString(");\n")
	case *Cond:
		p.indent()
		p.sb.WriteString("Cond(")
		p.write(t.Condition)
		p.sb.WriteString(") {\n")
		p.depth++
		p.write(t.TrueStmt)
		p.depth--
		p.indent()
		p.sb.WriteString("} else {\n")
		p.depth++
		p.write(t.FalseStmt)
		p.depth--
		p.indent()
		p.sb.WriteString("}\n")
	case nil:
		// "nothing" — spec.md §3's empty Block/Cond branch.
	default:
		panic(malformed("ir.Print: unhandled node type %T", n))
	}
}

func (p *Printer) indent() {
	p.sb.WriteString(strings.Repeat("  ", p.depth))
}

// formatFloat renders a float32 with the canonical "f" suffix, e.g.
// "2.f", "2.5f", "-4.f".
func formatFloat(v float32) string {
	s := strconv.FormatFloat(float64(v), 'g', -1, 32)
	if !strings.ContainsAny(s, ".eE") {
		s += "."
	}
	return s + "f"
}

// castName renders the destination dtype of a Cast the way the original
// prints integer casts of floats ("int32(x)"); vector and handle casts
// fall back to the dtype's own String().
func castName(dt dtype.Dtype) string {
	if !dt.IsScalar() {
		return dt.String()
	}
	switch dt.Kind {
	case dtype.I32:
		return "int32"
	case dtype.F32:
		return "float32"
	default:
		return dt.String()
	}
}
