package vmaptest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZolotukhinM/functorch/types/tensors"
	"github.com/ZolotukhinM/functorch/vmap"
	"github.com/ZolotukhinM/functorch/vmap/opinfo"
)

func opNeg() *vmap.Func {
	return vmap.NewFunc("neg", func(args []any, _ map[string]any) any {
		return tensors.Neg(args[0].(*tensors.Tensor))
	}, nil)
}

func opAdd() *vmap.Func {
	return vmap.NewFunc("add", func(args []any, _ map[string]any) any {
		return tensors.Add(args[0].(*tensors.Tensor), args[1].(*tensors.Tensor))
	}, nil)
}

func TestExhaustiveBatchedInputs(t *testing.T) {
	a := tensors.FromValue([]float32{1, 2})
	b := tensors.FromValue([]float32{3, 4, 5})
	var inputs []BatchedInput
	for input := range ExhaustiveBatchedInputs([]any{a, b, "flag"}, nil, 3) {
		inputs = append(inputs, input)
	}

	// 2 tensor arguments yield 2^2-1 configurations; the non-tensor never batches.
	require.Len(t, inputs, 3)
	require.Equal(t, []int{0, 0, vmap.NotBatched}, inputs[0].InDims)
	require.Equal(t, []int{0, vmap.NotBatched, vmap.NotBatched}, inputs[1].InDims)
	require.Equal(t, []int{vmap.NotBatched, 0, vmap.NotBatched}, inputs[2].InDims)

	for _, input := range inputs {
		require.Equal(t, "flag", input.Args[2])
		for ii, inDim := range input.InDims[:2] {
			original := []any{a, b}[ii].(*tensors.Tensor)
			got := input.Args[ii].(*tensors.Tensor)
			if inDim == vmap.NotBatched {
				require.True(t, original.Equal(got))
				continue
			}
			// Batched arguments replicate the original along a new leading axis.
			require.Equal(t, 3, got.Shape().Dim(0))
			for idx := 0; idx < 3; idx++ {
				require.True(t, original.Equal(tensors.Select(got, 0, idx)))
			}
		}
	}
}

func TestExhaustiveBatchedInputsKwargs(t *testing.T) {
	a := tensors.FromValue([]float32{1, 2})
	kwargs := map[string]any{"alpha": float32(2)}
	count := 0
	for input := range ExhaustiveBatchedInputs([]any{a}, kwargs, 3) {
		count++
		require.Equal(t, kwargs, input.Kwargs)
	}
	require.Equal(t, 1, count)
}

func TestLoop(t *testing.T) {
	op := opNeg()
	original := tensors.FromValue([]float32{1, -2, 3, -4})
	batched := tensors.Replicate(original, 0, 3)

	out := Loop(op, []int{0}, 0, 3, []any{batched}, nil).(*tensors.Tensor)
	require.Equal(t, []int{3, 4}, out.Shape().Dimensions)
	require.True(t, tensors.Neg(batched).Equal(out))

	// outDim places the stacked batch dimension.
	out = Loop(op, []int{0}, 1, 3, []any{batched}, nil).(*tensors.Tensor)
	require.Equal(t, []int{4, 3}, out.Shape().Dimensions)

	// Unbatched arguments pass through to every index.
	addOut := Loop(opAdd(), []int{0, vmap.NotBatched}, 0, 3,
		[]any{batched, tensors.FromValue(float32(10))}, nil).(*tensors.Tensor)
	require.True(t, tensors.Add(batched, tensors.FromValue(float32(10))).Equal(addOut))
}

func TestLoopMultiOutput(t *testing.T) {
	op := vmap.NewFunc("negAndAbs", func(args []any, _ map[string]any) any {
		in := args[0].(*tensors.Tensor)
		return []*tensors.Tensor{tensors.Neg(in), tensors.Abs(in)}
	}, nil)
	batched := tensors.FromValue([][]float32{{1, -2}, {-3, 4}, {5, -6}})

	outs := Loop(op, []int{0}, 0, 3, []any{batched}, nil).([]*tensors.Tensor)
	require.Len(t, outs, 2)
	require.True(t, tensors.Neg(batched).Equal(outs[0]))
	require.True(t, tensors.Abs(batched).Equal(outs[1]))
}

func TestVmapExhaustiveSingleTensor(t *testing.T) {
	// A single (4,) tensor argument: exactly one configuration, batched at axis 0 with
	// batch size 3, so both the loop and the vectorized output have shape [3 4].
	op := opNeg()
	original := tensors.FromValue([]float32{1, -2, 3, -4})
	count := 0
	for pair := range FallbackAndVmapExhaustive(op, []any{original}, nil, true) {
		count++
		out := pair.BatchedOut.(*tensors.Tensor)
		if count == 1 {
			require.Equal(t, []int{3, 4}, out.Shape().Dimensions)
			require.True(t, tensors.Neg(tensors.Replicate(original, 0, 3)).Equal(out))
		}
		RequireEqualOutputs(t, pair.LoopOut, pair.BatchedOut, 0)
	}
	// One plain comparison plus one nested-vmap trial.
	require.Equal(t, 2, count)
}

func TestVmapExhaustivePairCount(t *testing.T) {
	a := tensors.FromValue([]float32{1, 2})
	b := tensors.FromValue([]float32{3, 4})
	count := 0
	for range FallbackAndVmapExhaustive(opAdd(), []any{a, b}, nil, false) {
		count++
	}
	// (2^2-1) configurations, each yielding a plain and a nested pair.
	require.Equal(t, 6, count)
}

func TestVmapExhaustiveSkipsLoop(t *testing.T) {
	original := tensors.FromValue([]float32{1, -2})
	for pair := range FallbackAndVmapExhaustive(opNeg(), []any{original}, nil, false) {
		assert.Nil(t, pair.LoopOut)
		assert.NotNil(t, pair.BatchedOut)
	}
}

func TestRunVmapExhaustiveDatabase(t *testing.T) {
	// Every operation in the database must match the loop reference on all of its
	// sample inputs, both directly and under nested vectorization.
	for _, op := range opinfo.All() {
		if op.SampleInputs == nil {
			continue // Probe records registered by other tests.
		}
		op := op
		t.Run(op.FullName(), func(t *testing.T) {
			for _, sample := range op.SampleInputs() {
				RunVmapExhaustive(t, op.Op, sample.Args, sample.Kwargs)
			}
		})
	}
}

func TestVmapOperatorsSuite(t *testing.T) {
	// End-to-end: parameter expansion driving the batched-vs-loop comparison.
	cases := make(Cases, 0, len(opinfo.All()))
	for _, op := range opinfo.All() {
		if op.SampleInputs == nil {
			continue
		}
		cases = append(cases, Case{Label: op.FullName(), Value: op})
	}
	suite := NewSuite()
	suite.Define("TestExhaustive", func(t *testing.T, params Params) {
		op := Param[*opinfo.OpInfo](params, "op")
		for _, sample := range op.SampleInputs() {
			RunVmapExhaustive(t, op.Op, sample.Args, sample.Kwargs)
		}
	}, Parameterized("op", cases))
	suite.Run(t)
}
