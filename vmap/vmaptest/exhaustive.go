package vmaptest

import (
	"iter"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/ZolotukhinM/functorch/types/shapes"
	"github.com/ZolotukhinM/functorch/types/tensors"
	"github.com/ZolotukhinM/functorch/vmap"
)

// BatchedInput is one trial configuration for the batched-vs-loop comparison: the
// (possibly batched) positional argument values, the batch dimension of each
// (vmap.NotBatched for unbatched arguments), and the keyword values passed through.
type BatchedInput struct {
	Args   []any
	InDims []int
	Kwargs map[string]any
}

// ExhaustiveBatchedInputs lazily enumerates every way of batching the tensor-valued
// positional arguments: each tensor argument is either replicated along a new leading
// axis of the given batch size (batch dimension 0) or left unbatched; non-tensor
// arguments are always left as-is. The all-unbatched combination is excluded, so for k
// tensor arguments it yields 2^k - 1 configurations.
func ExhaustiveBatchedInputs(argValues []any, kwargValues map[string]any, batchSize int) iter.Seq[BatchedInput] {
	type choice struct {
		value any
		inDim int
	}
	choicesPerArg := make([][]choice, len(argValues))
	for ii, arg := range argValues {
		if t, ok := arg.(*tensors.Tensor); ok {
			batched := tensors.Replicate(t, 0, batchSize)
			choicesPerArg[ii] = []choice{{batched, 0}, {t, vmap.NotBatched}}
		} else {
			choicesPerArg[ii] = []choice{{arg, vmap.NotBatched}}
		}
	}

	return func(yield func(BatchedInput) bool) {
		indices := make([]int, len(argValues))
		for {
			args := make([]any, len(argValues))
			inDims := make([]int, len(argValues))
			allUnbatched := true
			for ii, chosen := range indices {
				args[ii] = choicesPerArg[ii][chosen].value
				inDims[ii] = choicesPerArg[ii][chosen].inDim
				if inDims[ii] != vmap.NotBatched {
					allUnbatched = false
				}
			}
			// At least one argument must be batched for the trial to be meaningful.
			if !allUnbatched {
				if !yield(BatchedInput{Args: args, InDims: inDims, Kwargs: kwargValues}) {
					return
				}
			}

			axis := len(indices) - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < len(choicesPerArg[axis]) {
					break
				}
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}

// Loop is the reference semantics the vectorizing transform must match: it evaluates op
// once per batch index, extracting the index-th slice along the batch dimension of
// every batched argument (unbatched arguments pass through untouched), and stacks the
// per-index results along outDim -- positionwise for multi-output operations.
//
// It is intentionally unoptimized and independent of vmap's own fallback path.
func Loop(op *vmap.Func, inDims []int, outDim, batchSize int, batchedArgs []any, kwargValues map[string]any) any {
	outs := make([]any, batchSize)
	for idx := 0; idx < batchSize; idx++ {
		idxArgs := make([]any, len(batchedArgs))
		for ii, arg := range batchedArgs {
			if inDims[ii] == vmap.NotBatched {
				idxArgs[ii] = arg
			} else {
				idxArgs[ii] = tensors.Select(arg.(*tensors.Tensor), inDims[ii], idx)
			}
		}
		outs[idx] = op.Call(idxArgs, kwargValues)
	}

	switch first := outs[0].(type) {
	case *tensors.Tensor:
		parts := make([]*tensors.Tensor, batchSize)
		for ii, out := range outs {
			parts[ii] = out.(*tensors.Tensor)
		}
		return tensors.Stack(parts, outDim)
	case []*tensors.Tensor:
		stacked := make([]*tensors.Tensor, len(first))
		for pos := range first {
			parts := make([]*tensors.Tensor, batchSize)
			for ii, out := range outs {
				parts[ii] = out.([]*tensors.Tensor)[pos]
			}
			stacked[pos] = tensors.Stack(parts, outDim)
		}
		return stacked
	}
	exceptions.Panicf("vmaptest.Loop: unsupported operation output type %T", outs[0])
	return nil
}

// Pair is one comparison yielded by FallbackAndVmapExhaustive: the loop-based reference
// output (nil when not computed) and the output of the vectorized evaluation. The
// caller asserts the two equal -- see RequireEqualOutputs.
type Pair struct {
	LoopOut    any
	BatchedOut any
}

// FallbackAndVmapExhaustive drives ExhaustiveBatchedInputs (batch size 3, output batch
// dimension 0) over the given arguments. For each configuration it yields a Pair
// comparing the loop reference against vmap of op, and then a second Pair for a nested
// trial: op is wrapped in a closure that adds an auxiliary tensor of ones to every
// output, and the wrapper is vectorized twice -- the outer vmap over the original
// arguments' batch dimensions, the inner one over the auxiliary tensor's axis 0 -- to
// validate that nested vectorization composes.
//
// Discrepancies are not detected here; exceptions from the transform propagate.
func FallbackAndVmapExhaustive(op *vmap.Func, argValues []any, kwargValues map[string]any, computeLoopOut bool) iter.Seq[Pair] {
	const outDim = 0
	const batchSize = 3
	return func(yield func(Pair) bool) {
		for input := range ExhaustiveBatchedInputs(argValues, kwargValues, batchSize) {
			var loopOut any
			if computeLoopOut {
				loopOut = Loop(op, input.InDims, outDim, batchSize, input.Args, input.Kwargs)
			}
			batchedOut := vmap.Vmap(op, input.InDims, outDim).Call(input.Args, input.Kwargs)
			if !yield(Pair{LoopOut: loopOut, BatchedOut: batchedOut}) {
				return
			}

			// Nested trial: the wrapper takes the auxiliary ones tensor as its first
			// argument and adds it (broadcast) to every output of op.
			wrapper := vmap.FuncOf(func(args []any, kwargs map[string]any) any {
				aux := args[0].(*tensors.Tensor)
				return mapOutputs(op.Call(args[1:], kwargs), "vmaptest: nested vmap trial",
					func(out *tensors.Tensor) *tensors.Tensor {
						return tensors.Add(out, aux)
					})
			})
			innerDims := make([]int, len(input.InDims)+1)
			outerDims := make([]int, len(input.InDims)+1)
			innerDims[0] = 0
			outerDims[0] = vmap.NotBatched
			for ii, inDim := range input.InDims {
				innerDims[ii+1] = vmap.NotBatched
				outerDims[ii+1] = inDim
			}
			nested := vmap.Vmap(vmap.Vmap(wrapper, innerDims, outDim), outerDims, outDim)
			nestedArgs := append([]any{onesAux(batchSize, argValues)}, input.Args...)
			nestedOut := nested.Call(nestedArgs, input.Kwargs)

			var nestedLoopOut any
			if computeLoopOut {
				nestedLoopOut = mapOutputs(loopOut, "vmaptest: nested vmap trial",
					func(out *tensors.Tensor) *tensors.Tensor {
						ones := tensors.Ones(out.Shape().InsertAxis(0, batchSize))
						return tensors.Add(ones, out)
					})
			}
			if !yield(Pair{LoopOut: nestedLoopOut, BatchedOut: nestedOut}) {
				return
			}
		}
	}
}

// onesAux builds the auxiliary ones tensor for the nested trial, matching the dtype of
// the first tensor argument.
func onesAux(batchSize int, argValues []any) *tensors.Tensor {
	dtype := dtypes.Float32
	for _, arg := range argValues {
		if t, ok := arg.(*tensors.Tensor); ok {
			dtype = t.DType()
			break
		}
	}
	return tensors.Ones(shapes.Make(dtype, batchSize))
}

// mapOutputs applies fn to every tensor output of an operation, preserving the
// single/multi output structure. Non-tensor outputs are unsupported.
func mapOutputs(out any, context string, fn func(out *tensors.Tensor) *tensors.Tensor) any {
	switch typed := out.(type) {
	case *tensors.Tensor:
		return fn(typed)
	case []*tensors.Tensor:
		mapped := make([]*tensors.Tensor, len(typed))
		for ii, t := range typed {
			mapped[ii] = fn(t)
		}
		return mapped
	}
	exceptions.Panicf("%s: unsupported operation output type %T (want *tensors.Tensor or []*tensors.Tensor)", context, out)
	return nil
}

// RequireEqualOutputs asserts that two operation outputs have the same structure and
// elementwise-equal values. delta is the acceptable margin per element; delta <= 0
// requires exact equality.
func RequireEqualOutputs(t *testing.T, want, got any, delta float64) {
	t.Helper()
	switch wantTyped := want.(type) {
	case *tensors.Tensor:
		gotT, ok := got.(*tensors.Tensor)
		require.Truef(t, ok, "expected a single tensor output, got %T", got)
		require.Truef(t, wantTyped.InDelta(gotT, delta), "outputs differ: want %s, got %s", wantTyped, gotT)
	case []*tensors.Tensor:
		gotTs, ok := got.([]*tensors.Tensor)
		require.Truef(t, ok, "expected a multi-tensor output, got %T", got)
		require.Equalf(t, len(wantTyped), len(gotTs), "number of outputs differ")
		for ii := range wantTyped {
			require.Truef(t, wantTyped[ii].InDelta(gotTs[ii], delta), "output #%d differs: want %s, got %s",
				ii, wantTyped[ii], gotTs[ii])
		}
	default:
		t.Fatalf("unsupported output type %T", want)
	}
}

// RunVmapExhaustive runs the full batched-vs-loop comparison for op on the given
// arguments, asserting every vectorized output matches the loop reference exactly.
func RunVmapExhaustive(t *testing.T, op *vmap.Func, argValues []any, kwargValues map[string]any) {
	t.Helper()
	for pair := range FallbackAndVmapExhaustive(op, argValues, kwargValues, true) {
		RequireEqualOutputs(t, pair.LoopOut, pair.BatchedOut, 0)
	}
}
