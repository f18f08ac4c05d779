package kernel

import (
	"github.com/texc/texc/backend/interp"
	"github.com/texc/texc/cerr"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/fuser"
	"github.com/texc/texc/tensor"
)

// runInterp binds inputs/outputs to the parameter Vars this Kernel
// allocated at Build time and walks the lowered Stmt with the
// tree-walking reference interpreter (spec.md §4.10.1).
func (k *Kernel) runInterp(inputs, outputs []fuser.Buffer) error {
	if k.device.onDevice {
		return cerr.New(cerr.BackendMismatch, "kernel: subgraph %s was compiled for device inputs; the interpreter cannot run it", k.subgraph)
	}
	params, err := k.bindParams(inputs, outputs)
	if err != nil {
		return err
	}
	it := interp.New(params)
	return it.Run(k.body)
}

func (k *Kernel) bindParams(inputs, outputs []fuser.Buffer) ([]interp.Param, error) {
	params := make([]interp.Param, 0, len(k.inputBufs)+len(k.outBufs))
	for i, buf := range k.inputBufs {
		p, err := bindBuffer(buf, inputs[i])
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	for i, buf := range k.outBufs {
		p, err := bindBuffer(buf, outputs[i])
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// bindBuffer reinterprets fb's raw pointer as the []int32/[]float32
// slice backing buf, per spec.md §6's raw-typed-pointer handoff.
func bindBuffer(buf *tensor.Buffer, fb fuser.Buffer) (interp.Param, error) {
	count := 1
	for _, d := range fb.Shape() {
		count *= d
	}
	switch buf.Dt.Kind {
	case dtype.F32:
		return interp.Param{Var: buf.BaseVar, Ptr: interp.AsFloat32Slice(fb.Ptr(), count)}, nil
	case dtype.I32:
		return interp.Param{Var: buf.BaseVar, Ptr: interp.AsInt32Slice(fb.Ptr(), count)}, nil
	default:
		return interp.Param{}, cerr.New(cerr.IrMalformed, "kernel: buffer %s has unsupported dtype %s", buf.BaseVar.NameHint, buf.Dt)
	}
}
