package lower

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/texc/texc/arena"
	"github.com/texc/texc/backend/interp"
	"github.com/texc/texc/dtype"
	"github.com/texc/texc/ir"
	"github.com/texc/texc/schedule"
	"github.com/texc/texc/tensor"
)

// TestSplitWithMaskCoversExactlyOriginalRangeNoOverrun builds a single
// elementwise doubling tensor scheduled with SplitWithMask over a
// non-divisible factor, lowers it, and runs it through the interpreter
// against an output buffer sized exactly N. An unguarded out-of-range
// Store from the outer axis's ceiling-division loop would index past
// the backing slice and panic, so a clean run with correct values
// demonstrates the masking contract SplitWithMask's doc comment
// promises is actually delivered at lowering time.
func TestSplitWithMaskCoversExactlyOriginalRangeNoOverrun(t *testing.T) {
	s := arena.New()
	defer s.Close()

	const n = 10
	extent := ir.NewIntImm(s, n)

	inBuf, err := tensor.NewBuffer(s, "in", dtype.F32Scalar, []ir.Expr{extent})
	require.NoError(t, err)
	inTensor, err := tensor.Compute(s, "in_t", []tensor.DimArg{tensor.Dim(extent)}, func(vars []*ir.Var) (ir.Expr, error) {
		return inBuf.Load(s, vars[0])
	})
	require.NoError(t, err)

	outTensor, err := tensor.Compute(s, "out_t", []tensor.DimArg{tensor.Dim(extent)}, func(vars []*ir.Var) (ir.Expr, error) {
		call := ir.NewFunctionCall(s, inTensor, []ir.Expr{vars[0]})
		return ir.NewBinary(s, ir.Add, call, call)
	})
	require.NoError(t, err)

	sched := schedule.New(s)
	sched.Register(inTensor, false)
	require.NoError(t, sched.ComputeInline(inTensor))
	outNode := sched.Register(outTensor, true)

	_, _, err = sched.SplitWithMask(outTensor, outNode.Axes[0], 4, true)
	require.NoError(t, err)

	outBuf, err := tensor.NewBuffer(s, "out", dtype.F32Scalar, []ir.Expr{extent})
	require.NoError(t, err)

	body, err := Lower(s, sched, map[*tensor.Tensor]*tensor.Buffer{outTensor: outBuf})
	require.NoError(t, err)

	inData := make([]float32, n)
	for i := range inData {
		inData[i] = float32(i + 1)
	}
	outData := make([]float32, n)

	it := interp.New([]interp.Param{
		{Var: inBuf.BaseVar, Ptr: inData},
		{Var: outBuf.BaseVar, Ptr: outData},
	})
	require.NoError(t, it.Run(body))

	for i := 0; i < n; i++ {
		require.Equal(t, inData[i]*2, outData[i], "index %d", i)
	}
}
