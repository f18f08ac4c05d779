//go:build llvm

// Package llvmgen implements the LLVM JIT backend (spec.md §4.10.2):
// it builds an LLVM function of the form `i32 kernel(void** args)` from
// a lowered Stmt, compiles it through a JIT, and exposes the compiled
// function's address for Call.
//
// Requires the tinygo.org/x/go-llvm cgo bindings and an installed LLVM,
// so it is gated behind the llvm build tag; callers that only need the
// interpreter or CUDA emitter never pull in the cgo dependency.
package llvmgen

import (
	"fmt"
	"unsafe"

	"tinygo.org/x/go-llvm"

	"github.com/texc/texc/cerr"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/ir"
)

// Param describes one void** slot kernel receives: a buffer base Var or
// a free scalar Var passed by pointer, in declaration order.
type Param struct {
	Var *ir.Var
	Dt  dtype.Dtype
}

// Kernel owns one JIT-compiled function and its backing LLVM context.
// Not safe for concurrent use: spec.md §5's "callers must not share a
// single JIT instance across compiles concurrently" applies per Kernel.
type Kernel struct {
	ctx    llvm.Context
	mod    llvm.Module
	engine llvm.ExecutionEngine
	fn     llvm.Value
	params []Param
}

// Compile builds, verifies, and JIT-compiles a kernel(void** args)
// function implementing body over params.
func Compile(name string, params []Param, body ir.Stmt) (*Kernel, error) {
	llvm.InitializeNativeTarget()
	llvm.InitializeNativeAsmPrinter()

	ctx := llvm.NewContext()
	mod := ctx.NewModule(name)
	builder := ctx.NewBuilder()
	defer builder.Dispose()

	i32 := ctx.Int32Type()
	voidPtr := llvm.PointerType(ctx.Int8Type(), 0)
	argsPtrTy := llvm.PointerType(voidPtr, 0)

	fnType := llvm.FunctionType(i32, []llvm.Type{argsPtrTy}, false)
	fn := llvm.AddFunction(mod, "kernel", fnType)
	entry := ctx.AddBasicBlock(fn, "entry")
	builder.SetInsertPointAtEnd(entry)

	argsPtr := fn.Param(0)
	g := &gen{ctx: ctx, builder: builder, fn: fn, slots: map[*ir.Var]llvm.Value{}}
	for i, p := range params {
		idx := llvm.ConstInt(i32, uint64(i), false)
		slotPtr := builder.CreateGEP(voidPtr, argsPtr, []llvm.Value{idx}, p.Var.NameHint+"_slot")
		raw := builder.CreateLoad(voidPtr, slotPtr, p.Var.NameHint+"_raw")
		g.slots[p.Var] = builder.CreateBitCast(raw, llvmPointerType(ctx, p.Dt), p.Var.NameHint+"_ptr")
	}

	g.stmt(body)
	builder.CreateRet(llvm.ConstInt(i32, 0, false))

	if err := llvm.VerifyModule(mod, llvm.ReturnStatusAction); err != nil {
		return nil, cerr.New(cerr.BackendMismatch, "llvmgen: module verification failed: %v", err)
	}

	engine, err := llvm.NewExecutionEngine(mod)
	if err != nil {
		return nil, cerr.New(cerr.BackendMismatch, "llvmgen: failed to create JIT execution engine: %v", err)
	}

	return &Kernel{ctx: ctx, mod: mod, engine: engine, fn: fn, params: params}, nil
}

// Call invokes the compiled kernel through the execution engine's
// interpreter-call path, passing args[i] as the i-th parameter's
// backing pointer, in the same order Compile's params were given.
func (k *Kernel) Call(args []unsafe.Pointer) error {
	if len(args) != len(k.params) {
		return cerr.New(cerr.IrMalformed, "llvmgen: expected %d args, got %d", len(k.params), len(args))
	}
	argv := llvm.NewGenericValueFromPointer(unsafe.Pointer(&args[0]))
	result := k.engine.RunFunction(k.fn, []llvm.GenericValue{argv})
	ret := int32(result.Int(true))
	if ret != 0 {
		return cerr.New(cerr.Numeric, "llvmgen: kernel returned non-zero status %d", ret)
	}
	return nil
}

// Dispose releases the JIT execution engine and its module.
func (k *Kernel) Dispose() {
	k.engine.Dispose()
}

func llvmPointerType(ctx llvm.Context, dt dtype.Dtype) llvm.Type {
	switch dt.Kind {
	case dtype.F32:
		return llvm.PointerType(ctx.FloatType(), 0)
	default:
		return llvm.PointerType(ctx.Int32Type(), 0)
	}
}

type gen struct {
	ctx     llvm.Context
	builder llvm.Builder
	fn      llvm.Value
	slots   map[*ir.Var]llvm.Value // buffer base pointers and free-scalar pointers
	scalars map[*ir.Var]llvm.Value // loop/let-bound scalar SSA values
}

func (g *gen) stmt(s ir.Stmt) {
	if g.scalars == nil {
		g.scalars = map[*ir.Var]llvm.Value{}
	}
	switch n := s.(type) {
	case nil:
		return
	case *ir.Block:
		for _, st := range n.Stmts {
			g.stmt(st)
		}
	case *ir.LetStmt:
		g.scalars[n.VarNode] = g.expr(n.Value)
	case *ir.For:
		g.forLoop(n)
	case *ir.Store:
		g.store(n)
	case *ir.Allocate, *ir.Free:
		// Buffer storage for temporaries comes from the runtime
		// collaborator's pointer table, not from device-side (de)allocation.
	case *ir.Cond:
		g.cond(n)
	default:
		panic(fmt.Sprintf("llvmgen: unhandled statement type %T", s))
	}
}

func (g *gen) forLoop(n *ir.For) {
	i32 := g.ctx.Int32Type()
	preheader := g.builder.GetInsertBlock()
	loopBlock := g.ctx.AddBasicBlock(g.fn, "loop")
	bodyBlock := g.ctx.AddBasicBlock(g.fn, "loop_body")
	exitBlock := g.ctx.AddBasicBlock(g.fn, "loop_exit")

	start := g.expr(n.Start)
	stop := g.expr(n.Stop)
	g.builder.CreateBr(loopBlock)

	g.builder.SetInsertPointAtEnd(loopBlock)
	phi := g.builder.CreatePHI(i32, "i")
	phi.AddIncoming([]llvm.Value{start}, []llvm.BasicBlock{preheader})
	g.scalars[n.VarNode] = phi
	cond := g.builder.CreateICmp(llvm.IntSLT, phi, stop, "loop_cond")
	g.builder.CreateCondBr(cond, bodyBlock, exitBlock)

	g.builder.SetInsertPointAtEnd(bodyBlock)
	g.stmt(n.Body)
	next := g.builder.CreateAdd(phi, llvm.ConstInt(i32, 1, false), "i_next")
	phi.AddIncoming([]llvm.Value{next}, []llvm.BasicBlock{g.builder.GetInsertBlock()})
	g.builder.CreateBr(loopBlock)

	g.builder.SetInsertPointAtEnd(exitBlock)
	delete(g.scalars, n.VarNode)
}

func (g *gen) cond(n *ir.Cond) {
	c := g.expr(n.Condition)
	zero := llvm.ConstInt(g.ctx.Int32Type(), 0, false)
	cond := g.builder.CreateICmp(llvm.IntNE, c, zero, "cond")
	trueBlock := g.ctx.AddBasicBlock(g.fn, "cond_true")
	falseBlock := g.ctx.AddBasicBlock(g.fn, "cond_false")
	contBlock := g.ctx.AddBasicBlock(g.fn, "cond_cont")
	g.builder.CreateCondBr(cond, trueBlock, falseBlock)

	g.builder.SetInsertPointAtEnd(trueBlock)
	g.stmt(n.TrueStmt)
	g.builder.CreateBr(contBlock)

	g.builder.SetInsertPointAtEnd(falseBlock)
	g.stmt(n.FalseStmt)
	g.builder.CreateBr(contBlock)

	g.builder.SetInsertPointAtEnd(contBlock)
}

func (g *gen) store(n *ir.Store) {
	base := g.slots[n.BaseVar]
	idx := g.expr(n.Index)
	val := g.expr(n.Value)
	elemTy := elementType(g.ctx, n.Value.Dtype())
	ptr := g.builder.CreateGEP(elemTy, base, []llvm.Value{idx}, "store_ptr")
	g.builder.CreateStore(val, ptr)
}

func elementType(ctx llvm.Context, dt dtype.Dtype) llvm.Type {
	if dt.Kind == dtype.F32 {
		return ctx.FloatType()
	}
	return ctx.Int32Type()
}

func (g *gen) expr(e ir.Expr) llvm.Value {
	switch t := e.(type) {
	case *ir.IntImm:
		return llvm.ConstInt(g.ctx.Int32Type(), uint64(uint32(t.Value)), false)
	case *ir.FloatImm:
		return llvm.ConstFloat(g.ctx.FloatType(), float64(t.Value))
	case *ir.Var:
		if v, ok := g.scalars[t]; ok {
			return v
		}
		return g.slots[t]
	case *ir.Cast:
		return g.cast(t)
	case *ir.BinaryExpr:
		return g.binary(t)
	case *ir.MinMax:
		return g.minmax(t)
	case *ir.CompareSelect:
		return g.compareSelect(t)
	case *ir.Let:
		v := g.expr(t.Value)
		g.scalars[t.VarNode] = v
		result := g.expr(t.Body)
		delete(g.scalars, t.VarNode)
		return result
	case *ir.IfThenElse:
		cond := g.expr(t.Cond)
		zero := llvm.ConstInt(g.ctx.Int32Type(), 0, false)
		c := g.builder.CreateICmp(llvm.IntNE, cond, zero, "ite_cond")
		return g.builder.CreateSelect(c, g.expr(t.T), g.expr(t.F), "ite")
	case *ir.Load:
		return g.load(t)
	case *ir.Intrinsic:
		return g.intrinsic(t)
	default:
		panic(fmt.Sprintf("llvmgen: unhandled expression type %T", e))
	}
}

func (g *gen) cast(t *ir.Cast) llvm.Value {
	v := g.expr(t.Src)
	switch t.Dtype().Kind {
	case dtype.F32:
		return g.builder.CreateSIToFP(v, g.ctx.FloatType(), "sitofp")
	default:
		return g.builder.CreateFPToSI(v, g.ctx.Int32Type(), "fptosi")
	}
}

func (g *gen) binary(t *ir.BinaryExpr) llvm.Value {
	l, r := g.expr(t.L), g.expr(t.R)
	if t.Op.IsBitwise() {
		switch t.Op {
		case ir.And:
			return g.builder.CreateAnd(l, r, "and")
		case ir.Xor:
			return g.builder.CreateXor(l, r, "xor")
		case ir.Lshift:
			return g.builder.CreateShl(l, r, "shl")
		case ir.Rshift:
			return g.builder.CreateAShr(l, r, "ashr")
		}
	}
	if t.Dtype().Kind == dtype.I32 {
		switch t.Op {
		case ir.Add:
			return g.builder.CreateAdd(l, r, "add")
		case ir.Sub:
			return g.builder.CreateSub(l, r, "sub")
		case ir.Mul:
			return g.builder.CreateMul(l, r, "mul")
		case ir.Div:
			return g.builder.CreateSDiv(l, r, "sdiv")
		case ir.Mod:
			return g.builder.CreateSRem(l, r, "srem")
		}
	}
	switch t.Op {
	case ir.Add:
		return g.builder.CreateFAdd(l, r, "fadd")
	case ir.Sub:
		return g.builder.CreateFSub(l, r, "fsub")
	case ir.Mul:
		return g.builder.CreateFMul(l, r, "fmul")
	case ir.Div:
		return g.builder.CreateFDiv(l, r, "fdiv")
	}
	panic(fmt.Sprintf("llvmgen: unreachable binary op %s", t.Op))
}

// minmax uses the "num" intrinsics (NaN-losing) when PropagateNaNs is
// false and the "maximum"/"minimum" intrinsics (NaN-propagating)
// otherwise, per spec.md §4.10.2.
func (g *gen) minmax(t *ir.MinMax) llvm.Value {
	l, r := g.expr(t.L), g.expr(t.R)
	if t.Dtype().Kind == dtype.I32 {
		cond := g.builder.CreateICmp(minmaxIntPred(t.IsMax), l, r, "icmp_minmax")
		return g.builder.CreateSelect(cond, l, r, "int_minmax")
	}
	name := intrinsicFloatName(t.IsMax, t.PropagateNaNs)
	fnTy := llvm.FunctionType(g.ctx.FloatType(), []llvm.Type{g.ctx.FloatType(), g.ctx.FloatType()}, false)
	fn := g.declareIntrinsic(name, fnTy)
	return g.builder.CreateCall(fnTy, fn, []llvm.Value{l, r}, "minmax")
}

func minmaxIntPred(isMax bool) llvm.IntPredicate {
	if isMax {
		return llvm.IntSGT
	}
	return llvm.IntSLT
}

func intrinsicFloatName(isMax, propagateNaNs bool) string {
	switch {
	case isMax && propagateNaNs:
		return "llvm.maximum.f32"
	case isMax:
		return "llvm.maxnum.f32"
	case propagateNaNs:
		return "llvm.minimum.f32"
	default:
		return "llvm.minnum.f32"
	}
}

func (g *gen) compareSelect(t *ir.CompareSelect) llvm.Value {
	l, r := g.expr(t.L), g.expr(t.R)
	var cond llvm.Value
	if t.L.Dtype().Kind == dtype.I32 {
		cond = g.builder.CreateICmp(intPredicate(t.Op), l, r, "icmp")
	} else {
		cond = g.builder.CreateFCmp(floatPredicate(t.Op), l, r, "fcmp")
	}
	return g.builder.CreateSelect(cond, g.expr(t.TrueV), g.expr(t.FalseV), "select")
}

func intPredicate(op ir.CompareOp) llvm.IntPredicate {
	switch op {
	case ir.EQ:
		return llvm.IntEQ
	case ir.NE:
		return llvm.IntNE
	case ir.LT:
		return llvm.IntSLT
	case ir.LE:
		return llvm.IntSLE
	case ir.GT:
		return llvm.IntSGT
	default:
		return llvm.IntSGE
	}
}

func floatPredicate(op ir.CompareOp) llvm.FloatPredicate {
	switch op {
	case ir.EQ:
		return llvm.FloatOEQ
	case ir.NE:
		return llvm.FloatONE
	case ir.LT:
		return llvm.FloatOLT
	case ir.LE:
		return llvm.FloatOLE
	case ir.GT:
		return llvm.FloatOGT
	default:
		return llvm.FloatOGE
	}
}

func (g *gen) load(t *ir.Load) llvm.Value {
	base := g.slots[t.BaseVar]
	idx := g.expr(t.Index)
	elemTy := elementType(g.ctx, t.Dtype())
	ptr := g.builder.CreateGEP(elemTy, base, []llvm.Value{idx}, "load_ptr")
	return g.builder.CreateLoad(elemTy, ptr, "load")
}

func (g *gen) intrinsic(t *ir.Intrinsic) llvm.Value {
	args := make([]llvm.Value, len(t.Params))
	argTys := make([]llvm.Type, len(t.Params))
	for i, p := range t.Params {
		args[i] = g.expr(p)
		argTys[i] = g.ctx.FloatType()
	}
	fnTy := llvm.FunctionType(g.ctx.FloatType(), argTys, false)
	fn := g.declareIntrinsic("llvm."+t.Op.String()+".f32", fnTy)
	return g.builder.CreateCall(fnTy, fn, args, "intrinsic")
}

func (g *gen) declareIntrinsic(name string, fnTy llvm.Type) llvm.Value {
	mod := g.fn.GlobalParent()
	if fn := mod.NamedFunction(name); !fn.IsNil() {
		return fn
	}
	return llvm.AddFunction(mod, name, fnTy)
}
