package opinfo

// Built-in operation database: a small set of eager operations with (or deliberately
// without) batching rules, enough to exercise the vectorization test helpers.

import (
	"github.com/ZolotukhinM/functorch/types/tensors"
	"github.com/ZolotukhinM/functorch/vmap"
)

func unaryOpInfo(name string, fn func(t *tensors.Tensor) *tensors.Tensor) *OpInfo {
	apply := func(args []any, kwargs map[string]any) any {
		return fn(args[0].(*tensors.Tensor))
	}
	return &OpInfo{
		Name:         name,
		Op:           vmap.NewFunc(name, apply, vmap.ElementwiseUnaryRule(fn)),
		SampleInputs: unarySampleInputs,
	}
}

func unarySampleInputs() []SampleInput {
	return []SampleInput{
		{Args: []any{tensors.FromFlatDataAndDimensions([]float32{-1, 0.5, 2, -3.25}, 4)}},
		{Args: []any{tensors.FromFlatDataAndDimensions([]float32{1, -2, 3, -4, 5, -6}, 2, 3)}},
	}
}

func binaryOpInfo(name, variant string, fn func(a, b *tensors.Tensor) *tensors.Tensor, samples func() []SampleInput) *OpInfo {
	apply := func(args []any, kwargs map[string]any) any {
		return fn(args[0].(*tensors.Tensor), args[1].(*tensors.Tensor))
	}
	return &OpInfo{
		Name:            name,
		VariantTestName: variant,
		Op:              vmap.NewFunc(name, apply, vmap.ElementwiseBinaryRule(fn)),
		SampleInputs:    samples,
	}
}

func binarySampleInputs() []SampleInput {
	return []SampleInput{
		{Args: []any{
			tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3),
			tensors.FromFlatDataAndDimensions([]float32{10, 20, 30, 40, 50, 60}, 2, 3),
		}},
	}
}

func binaryBroadcastSampleInputs() []SampleInput {
	return []SampleInput{
		{Args: []any{
			tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3),
			tensors.FromFlatDataAndDimensions([]float32{100, 200, 300}, 3),
		}},
	}
}

func init() {
	Register(unaryOpInfo("neg", tensors.Neg))
	Register(unaryOpInfo("abs", tensors.Abs))
	Register(unaryOpInfo("sin", tensors.Sin))
	Register(unaryOpInfo("cos", tensors.Cos))
	Register(unaryOpInfo("exp", tensors.Exp))

	Register(binaryOpInfo("add", "", tensors.Add, binarySampleInputs))
	Register(binaryOpInfo("add", "broadcast", tensors.Add, binaryBroadcastSampleInputs))
	Register(binaryOpInfo("mul", "", tensors.Mul, binarySampleInputs))

	// sum has no batching rule: vmap of it exercises the fallback path.
	Register(&OpInfo{
		Name: "sum",
		Op: vmap.NewFunc("sum", func(args []any, kwargs map[string]any) any {
			return tensors.Sum(args[0].(*tensors.Tensor))
		}, nil),
		SampleInputs: unarySampleInputs,
	})
}
