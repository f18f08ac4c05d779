//go:build !llvm

package kernel

import (
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/fuser"
)

// llvmBuildAvailable reports whether this build was compiled with the
// llvm tag; without it, BuildOptions.LLVMAvailable is always overridden
// to false and selectBackend falls through to the interpreter.
func llvmBuildAvailable() bool { return false }

func (k *Kernel) runLLVM(inputs, outputs []fuser.Buffer) error {
	return cerr.New(cerr.BackendMismatch, "kernel: this build has no llvm backend compiled in; rebuild with -tags llvm")
}
