//go:build llvm

package kernel

import (
	"unsafe"

	"github.com/texc/texc/backend/llvmgen"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/fuser"
)

func llvmBuildAvailable() bool { return true }

// runLLVM JIT-compiles this Kernel's lowered Stmt on first use and
// caches the compiled llvmgen.Kernel for subsequent Run calls.
func (k *Kernel) runLLVM(inputs, outputs []fuser.Buffer) error {
	if k.device.onDevice {
		return cerr.New(cerr.BackendMismatch, "kernel: subgraph %s was compiled for device inputs; the llvm backend cannot run it", k.subgraph)
	}
	jit, ok := k.llvm.(*llvmgen.Kernel)
	if !ok {
		compiled, err := llvmgen.Compile("kernel_"+sanitize(k.subgraph), k.llvmParams(), k.body)
		if err != nil {
			return err
		}
		k.llvm = compiled
		jit = compiled
	}
	args := make([]unsafe.Pointer, 0, len(inputs)+len(outputs))
	for i := range k.inputBufs {
		args = append(args, inputs[i].Ptr())
	}
	for i := range k.outBufs {
		args = append(args, outputs[i].Ptr())
	}
	return jit.Call(args)
}

func (k *Kernel) llvmParams() []llvmgen.Param {
	params := make([]llvmgen.Param, 0, len(k.inputBufs)+len(k.outBufs))
	for _, buf := range k.inputBufs {
		params = append(params, llvmgen.Param{Var: buf.BaseVar, Dt: buf.Dt})
	}
	for _, buf := range k.outBufs {
		params = append(params, llvmgen.Param{Var: buf.BaseVar, Dt: buf.Dt})
	}
	return params
}
