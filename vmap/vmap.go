// Package vmap implements a vectorizing transform over eager tensor operations.
//
// An operation is described by a Func: a name, an apply function over positional and
// keyword arguments, and optionally a specialized batching rule. Vmap(op, inDims, outDim)
// returns a new Func that treats one axis of each (batched) input as a batch dimension
// indexing independent trials, evaluating op as-if once per trial:
//
//	neg := vmap.Vmap(opNeg, []int{0}, 0)
//	out := neg.Call([]any{batched}, nil) // batched: (Float32)[3 4] -> out: (Float32)[3 4]
//
// `inDims` designates the batch axis of each positional argument (NotBatched for
// arguments without one) and `outDim` the axis where the batch dimension lands on each
// output.
//
// When an operation has a registered batching rule, Vmap dispatches to it and the batch
// is processed in a single call. When it doesn't, Vmap falls back to evaluating the
// operation once per batch index and stacking the results -- the "fallback path". The
// fallback can be globally disabled (see SetFallbackEnabled) so tests can require that a
// real batching rule exists. Composite functions (closures built with FuncOf, including
// the result of Vmap itself, which makes Vmap nestable) are always evaluated per-index:
// they are not primitive operations, so the fallback flag doesn't apply to them.
package vmap

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/ZolotukhinM/functorch/types/tensors"
)

// NotBatched marks a positional argument (in `inDims`) that has no batch dimension.
const NotBatched = -1

// ApplyFn evaluates an operation on positional and keyword arguments. Tensor-valued
// arguments are *tensors.Tensor; outputs are a *tensors.Tensor or a []*tensors.Tensor
// for multi-output operations.
type ApplyFn func(args []any, kwargs map[string]any) any

// BatchRuleFn is a specialized batching rule: it receives the full batched arguments
// with their batch dimensions (NotBatched for unbatched ones) and returns the batched
// output(s) along with the axis where the batch dimension was placed on every output.
type BatchRuleFn func(args []any, inDims []int, kwargs map[string]any) (out any, outDim int)

// Func describes an operation that can be transformed by Vmap.
type Func struct {
	// Name identifies a primitive operation. Composite functions have an empty name.
	Name string

	// Fn evaluates the operation on unbatched arguments.
	Fn ApplyFn

	// BatchRule, if set, evaluates the operation on batched arguments directly.
	BatchRule BatchRuleFn
}

// NewFunc returns a primitive operation descriptor. rule may be nil, in which case
// Vmap uses the fallback path for it.
func NewFunc(name string, fn ApplyFn, rule BatchRuleFn) *Func {
	if name == "" {
		exceptions.Panicf("vmap.NewFunc: primitive operations require a name")
	}
	return &Func{Name: name, Fn: fn, BatchRule: rule}
}

// FuncOf wraps a plain function as a composite Func: no name, no batching rule. Vmap
// always evaluates composites per batch index, regardless of the fallback flag.
func FuncOf(fn ApplyFn) *Func {
	return &Func{Fn: fn}
}

// Call evaluates the operation on the given arguments.
func (f *Func) Call(args []any, kwargs map[string]any) any {
	return f.Fn(args, kwargs)
}

// String implements fmt.Stringer.
func (f *Func) String() string {
	if f.Name == "" {
		return "vmap.Func(composite)"
	}
	return "vmap.Func(" + f.Name + ")"
}

var fallbackEnabled = true

// FallbackEnabled returns whether the per-index fallback path is enabled for primitive
// operations without a batching rule.
func FallbackEnabled() bool { return fallbackEnabled }

// SetFallbackEnabled enables or disables the fallback path, returning the previous
// value so callers can restore it -- see vmaptest.DisableVmapFallback for the scoped
// save/restore helper.
//
// The flag is process-wide: like the test registries it serves, it assumes tests run
// sequentially within a process.
func SetFallbackEnabled(enabled bool) (previous bool) {
	previous = fallbackEnabled
	fallbackEnabled = enabled
	return
}

// Vmap returns the vectorized transform of op: a composite Func that maps op over the
// batch dimension of its inputs.
//
// inDims designates the batch axis of each positional argument (NotBatched for
// arguments without one); at least one argument must be batched at call time. outDim is
// the axis where the batch dimension is placed on every output.
//
// It panics (at call time) if op is a primitive without a batching rule and the
// fallback path is disabled.
func Vmap(op *Func, inDims []int, outDim int) *Func {
	return FuncOf(func(args []any, kwargs map[string]any) any {
		if len(args) != len(inDims) {
			exceptions.Panicf("vmap: %d arguments given to vmap of %s, but inDims has %d entries",
				len(args), op, len(inDims))
		}
		batchSize := batchSizeOf(op, args, inDims)

		if op.BatchRule != nil {
			out, ruleOutDim := op.BatchRule(args, inDims, kwargs)
			return moveOutputBatchDim(out, ruleOutDim, outDim)
		}
		if op.Name != "" {
			// Primitive operation without a batching rule: this is the fallback path.
			if !fallbackEnabled {
				exceptions.Panicf("vmap: no batching rule registered for %s and the vmap fallback path is disabled", op)
			}
			klog.V(2).Infof("vmap: falling back to per-index evaluation for %s", op)
		}
		return perIndexEvaluate(op, args, kwargs, inDims, outDim, batchSize)
	})
}

// batchSizeOf extracts the (consistent) batch size from the batched arguments.
func batchSizeOf(op *Func, args []any, inDims []int) int {
	batchSize := -1
	for ii, arg := range args {
		if inDims[ii] == NotBatched {
			continue
		}
		t, ok := arg.(*tensors.Tensor)
		if !ok {
			exceptions.Panicf("vmap: argument %d of %s has batch dimension %d but is not a tensor (%T)",
				ii, op, inDims[ii], arg)
		}
		dim := t.Shape().Dim(inDims[ii])
		if batchSize == -1 {
			batchSize = dim
		} else if dim != batchSize {
			exceptions.Panicf("vmap: inconsistent batch sizes for %s: argument %d has %d, expected %d",
				op, ii, dim, batchSize)
		}
	}
	if batchSize == -1 {
		exceptions.Panicf("vmap: at least one argument of %s must have a batch dimension", op)
	}
	return batchSize
}

// perIndexEvaluate evaluates op once per batch index, slicing the batched arguments,
// and stacks the per-index outputs along outDim.
func perIndexEvaluate(op *Func, args []any, kwargs map[string]any, inDims []int, outDim, batchSize int) any {
	outs := make([]any, batchSize)
	for idx := 0; idx < batchSize; idx++ {
		idxArgs := make([]any, len(args))
		for ii, arg := range args {
			if inDims[ii] == NotBatched {
				idxArgs[ii] = arg
			} else {
				idxArgs[ii] = tensors.Select(arg.(*tensors.Tensor), inDims[ii], idx)
			}
		}
		outs[idx] = op.Call(idxArgs, kwargs)
	}
	return stackOutputs(outs, outDim)
}

// stackOutputs stacks per-index outputs along outDim, positionwise for multi-output
// operations.
func stackOutputs(outs []any, outDim int) any {
	switch first := outs[0].(type) {
	case *tensors.Tensor:
		parts := make([]*tensors.Tensor, len(outs))
		for ii, out := range outs {
			parts[ii] = out.(*tensors.Tensor)
		}
		return tensors.Stack(parts, outDim)
	case []*tensors.Tensor:
		stacked := make([]*tensors.Tensor, len(first))
		parts := make([]*tensors.Tensor, len(outs))
		for pos := range first {
			for ii, out := range outs {
				parts[ii] = out.([]*tensors.Tensor)[pos]
			}
			stacked[pos] = tensors.Stack(parts, outDim)
		}
		return stacked
	}
	exceptions.Panicf("vmap: unsupported operation output type %T (want *tensors.Tensor or []*tensors.Tensor)", outs[0])
	return nil
}

// moveOutputBatchDim moves the batch axis of every output from `from` to `to`.
func moveOutputBatchDim(out any, from, to int) any {
	if from == to {
		return out
	}
	switch typed := out.(type) {
	case *tensors.Tensor:
		return tensors.MoveAxis(typed, from, to)
	case []*tensors.Tensor:
		moved := make([]*tensors.Tensor, len(typed))
		for ii, t := range typed {
			moved[ii] = tensors.MoveAxis(t, from, to)
		}
		return moved
	}
	exceptions.Panicf("vmap: unsupported operation output type %T (want *tensors.Tensor or []*tensors.Tensor)", out)
	return nil
}
