package vmap

// Batching-rule builders for the common elementwise cases. These process the whole
// batch in one evaluation of the underlying eager operation, instead of once per batch
// index.

import (
	"github.com/gomlx/exceptions"

	"github.com/ZolotukhinM/functorch/types/tensors"
)

// ElementwiseUnaryRule builds a batching rule for a unary elementwise operation: the
// operation is applied to the batched tensor unchanged, and the batch dimension stays
// where it was.
func ElementwiseUnaryRule(fn func(t *tensors.Tensor) *tensors.Tensor) BatchRuleFn {
	return func(args []any, inDims []int, kwargs map[string]any) (any, int) {
		if len(args) != 1 {
			exceptions.Panicf("elementwise unary batching rule called with %d arguments", len(args))
		}
		return fn(args[0].(*tensors.Tensor)), inDims[0]
	}
}

// ElementwiseBinaryRule builds a batching rule for a binary elementwise operation with
// broadcasting: batched operands get their batch dimension moved to the front (and
// size-1 axes inserted so both operands broadcast per batch index), and the operation
// is applied once. The output batch dimension is 0.
func ElementwiseBinaryRule(fn func(a, b *tensors.Tensor) *tensors.Tensor) BatchRuleFn {
	return func(args []any, inDims []int, kwargs map[string]any) (any, int) {
		if len(args) != 2 {
			exceptions.Panicf("elementwise binary batching rule called with %d arguments", len(args))
		}
		a := args[0].(*tensors.Tensor)
		b := args[1].(*tensors.Tensor)

		// Base (per-trial) ranks, excluding the batch axis of batched operands.
		baseRank := func(t *tensors.Tensor, inDim int) int {
			if inDim == NotBatched {
				return t.Rank()
			}
			return t.Rank() - 1
		}
		outBaseRank := max(baseRank(a, inDims[0]), baseRank(b, inDims[1]))

		// Move batch axes to the front and align the remaining axes for broadcasting.
		alignBatched := func(t *tensors.Tensor, inDim int) *tensors.Tensor {
			if inDim == NotBatched {
				return t
			}
			if inDim != 0 {
				t = tensors.MoveAxis(t, inDim, 0)
			}
			for t.Rank()-1 < outBaseRank {
				t = tensors.Replicate(t, 1, 1)
			}
			return t
		}
		a = alignBatched(a, inDims[0])
		b = alignBatched(b, inDims[1])
		return fn(a, b), 0
	}
}
