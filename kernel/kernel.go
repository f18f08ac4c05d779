// Package kernel implements the façade of spec.md §4.11: given a fused
// subgraph handed in by the external graph-fuser, it builds a Tensor per
// graph node, schedules, lowers, selects a backend, and exposes Run over
// buffers the tensor runtime supplies.
package kernel

import (
	"go.uber.org/multierr"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/backend/cudagen"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/fuser"
	"github.com/texc/texc/ir"
	"github.com/texc/texc/lower"
	"github.com/texc/texc/schedule"
	"github.com/texc/texc/tensor"
)

// Backend names one of the three codegen sinks a Kernel compiled to.
type Backend string

const (
	BackendInterp Backend = "interp"
	BackendLLVM   Backend = "llvm"
	BackendCUDA   Backend = "cuda"
)

// deviceConfig is the device/backend fingerprint a compiled Kernel was
// built for; a later Run presenting a different one fails with
// BackendMismatch (spec.md §4.11).
type deviceConfig struct {
	backend  Backend
	onDevice bool
}

// BuildOptions steers backend selection (spec.md §4.11's default rule:
// CUDA if all inputs are on device, else LLVM if present, else the
// interpreter) for a caller that already knows its placement.
type BuildOptions struct {
	// InputsOnDevice mirrors the fuser's knowledge of where the input
	// buffers live; true makes CUDA the selected backend.
	InputsOnDevice bool
	// LLVMAvailable lets a caller opt in to the LLVM backend; Build
	// selects LLVM only when this is true and the binary was also built
	// with the llvm tag.
	LLVMAvailable bool
}

// Kernel is a compiled, cached artifact for one fused subgraph. Not safe
// for concurrent compiles or concurrent Run calls (spec.md §5).
type Kernel struct {
	scope     *arena.Scope
	sched     *schedule.Schedule
	body      ir.Stmt
	inputBufs []*tensor.Buffer
	outBufs   []*tensor.Buffer
	backend   Backend
	device    deviceConfig
	cudaSrc   string
	subgraph  string
	// llvm caches the JIT-compiled *llvmgen.Kernel once runLLVM compiles
	// it; typed any so this file never imports the llvm-tagged package.
	llvm any
}

// Build compiles graph into a Kernel: builds one Tensor per input
// (a Load over a caller-supplied Buffer) and one per internal node via
// the registered op-builder dispatch table, schedules every non-output
// tensor ComputeInline, lowers, and selects a backend. A missing op
// dispatch or a dtype/rank mismatch fails here, never at Run time.
func Build(subgraphID string, graph fuser.Graph, opts BuildOptions) (*Kernel, error) {
	scope := arena.New()
	sched := schedule.New(scope)

	outShape := outputShape(graph)
	dimArgs := dimArgsFor(scope, outShape)

	gb := &graphBuilder{
		scope:  scope,
		sched:  sched,
		values: map[fuser.Value]*tensor.Tensor{},
		lists:  map[fuser.Value][]fuser.Value{},
	}

	var inputBufs []*tensor.Buffer
	var errs error
	for _, in := range graph.Inputs() {
		t, buf, err := gb.buildInput(in, dimArgs)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sched.Register(t, false)
		if err := sched.ComputeInline(t); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		gb.values[in] = t
		inputBufs = append(inputBufs, buf)
	}
	if errs != nil {
		scope.Close()
		return nil, errs
	}

	outputSet := map[fuser.Value]bool{}
	for _, o := range graph.Outputs() {
		outputSet[o] = true
	}

	for _, n := range graph.Nodes() {
		if err := gb.buildNode(n, dimArgs, outputSet); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		scope.Close()
		return nil, errs
	}

	outBufs := map[*tensor.Tensor]*tensor.Buffer{}
	var outBufList []*tensor.Buffer
	for _, t := range sched.Outputs() {
		buf, err := tensor.NewBuffer(scope, t.Fn.Name+"_out", t.Fn.Body.Dtype(), t.Fn.Dims)
		if err != nil {
			scope.Close()
			return nil, err
		}
		outBufs[t] = buf
		outBufList = append(outBufList, buf)
	}

	body, err := lower.Lower(scope, sched, outBufs)
	if err != nil {
		scope.Close()
		return nil, err
	}

	backend := selectBackend(opts)
	k := &Kernel{
		scope:     scope,
		sched:     sched,
		body:      body,
		inputBufs: inputBufs,
		outBufs:   outBufList,
		backend:   backend,
		device:    deviceConfig{backend: backend, onDevice: opts.InputsOnDevice},
		subgraph:  subgraphID,
	}
	if backend == BackendCUDA {
		k.cudaSrc = emitCUDA(subgraphID, inputBufs, outBufList, body)
	}
	return k, nil
}

func selectBackend(opts BuildOptions) Backend {
	if opts.InputsOnDevice {
		return BackendCUDA
	}
	if opts.LLVMAvailable && llvmBuildAvailable() {
		return BackendLLVM
	}
	return BackendInterp
}

// Run executes the compiled kernel over inputs/outputs on the
// interpreter or LLVM backend. A Kernel compiled for CUDA is not executed
// here: Run fails with BackendMismatch for it. Run does not compare a
// presented device configuration against the one this Kernel was
// compiled for; CheckDevice does that.
func (k *Kernel) Run(inputs, outputs []fuser.Buffer) error {
	if len(inputs) != len(k.inputBufs) {
		return cerr.New(cerr.IrMalformed, "kernel: expected %d input buffers, got %d", len(k.inputBufs), len(inputs))
	}
	if len(outputs) != len(k.outBufs) {
		return cerr.New(cerr.IrMalformed, "kernel: expected %d output buffers, got %d", len(k.outBufs), len(outputs))
	}
	switch k.backend {
	case BackendInterp:
		return k.runInterp(inputs, outputs)
	case BackendLLVM:
		return k.runLLVM(inputs, outputs)
	case BackendCUDA:
		return cerr.New(cerr.BackendMismatch, "kernel: CUDA execution is dispatched by the tensor runtime collaborator, not this core; use Source() to retrieve the emitted kernel")
	default:
		return cerr.New(cerr.BackendMismatch, "kernel: unknown backend %q", k.backend)
	}
}

// Backend reports which codegen sink this Kernel compiled to.
func (k *Kernel) Backend() Backend { return k.backend }

// Source returns the emitted CUDA C++ source when Backend() ==
// BackendCUDA, for the tensor runtime collaborator to hand to its CUDA
// toolchain.
func (k *Kernel) Source() string { return k.cudaSrc }

// CheckDevice returns BackendMismatch if presentedOnDevice is
// incompatible with the device configuration this Kernel was compiled
// for (spec.md §4.11).
func (k *Kernel) CheckDevice(presentedOnDevice bool) error {
	if presentedOnDevice != k.device.onDevice {
		return cerr.New(cerr.BackendMismatch,
			"kernel: subgraph %s compiled for device=%v, presented device=%v",
			k.subgraph, k.device.onDevice, presentedOnDevice)
	}
	return nil
}

func sanitize(kind string) string {
	out := make([]byte, 0, len(kind))
	for _, r := range kind {
		if r == ':' || r == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, byte(r))
	}
	return string(out)
}

func emitCUDA(subgraphID string, inputBufs, outBufs []*tensor.Buffer, body ir.Stmt) string {
	params := make([]cudagen.Param, 0, len(inputBufs)+len(outBufs))
	for _, buf := range inputBufs {
		params = append(params, cudagen.Param{Var: buf.BaseVar, Dt: buf.Dt})
	}
	for _, buf := range outBufs {
		params = append(params, cudagen.Param{Var: buf.BaseVar, Dt: buf.Dt})
	}
	blocks, threads := cudagen.LaunchGeometry()
	return cudagen.Emit("kernel_"+sanitize(subgraphID), params, body, blocks, threads)
}
