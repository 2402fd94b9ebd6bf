package tensors

// Eager operations on local tensors: the slicing, stacking and replication primitives
// the vectorization test layer is built on, plus a small set of elementwise operations
// used as test subjects.

import (
	"math"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/ZolotukhinM/functorch/types/shapes"
)

// AdjustAxisToRank returns the positive axis for the given rank, adjusting in case the
// axis given is negative.
//
// It panics if the axis is not in the rank's range.
func AdjustAxisToRank(axis, rank int) int {
	adjustedAxis := axis
	if axis < 0 {
		adjustedAxis = rank + axis
	}
	if adjustedAxis < 0 || adjustedAxis >= rank {
		exceptions.Panicf("invalid axis %d for rank %d", axis, rank)
	}
	return adjustedAxis
}

// Select returns a new tensor with the index-th slice of t along the given axis. The
// axis is removed from the result: selecting index 1 along axis 0 of a (Float32)[3 4]
// tensor yields a (Float32)[4] tensor.
func Select(t *Tensor, axis, index int) *Tensor {
	t.AssertValid()
	axis = AdjustAxisToRank(axis, t.Rank())
	dim := t.shape.Dimensions[axis]
	if index < 0 || index >= dim {
		exceptions.Panicf("tensors.Select: index %d out-of-bounds for axis %d with dimension %d (shape=%s)",
			index, axis, dim, t.shape)
	}

	outer, inner := 1, 1
	for ii, d := range t.shape.Dimensions {
		if ii < axis {
			outer *= d
		} else if ii > axis {
			inner *= d
		}
	}

	out := FromShape(t.shape.RemoveAxis(axis))
	srcV := reflect.ValueOf(t.flat)
	dstV := reflect.ValueOf(out.flat)
	for ii := 0; ii < outer; ii++ {
		srcStart := (ii*dim + index) * inner
		reflect.Copy(dstV.Slice(ii*inner, (ii+1)*inner), srcV.Slice(srcStart, srcStart+inner))
	}
	return out
}

// Stack joins the given tensors, which must all have the same shape, along a new axis
// inserted at the given position. The result has rank+1 axes, the new one with dimension
// len(ts).
func Stack(ts []*Tensor, axis int) *Tensor {
	if len(ts) == 0 {
		exceptions.Panicf("tensors.Stack: no tensors to stack")
	}
	for ii, t := range ts {
		t.AssertValid()
		if !t.shape.Equal(ts[0].shape) {
			exceptions.Panicf("tensors.Stack: tensor %d has shape %s, expected %s", ii, t.shape, ts[0].shape)
		}
	}
	elemShape := ts[0].shape
	if axis < 0 {
		axis = elemShape.Rank() + 1 + axis
	}
	if axis < 0 || axis > elemShape.Rank() {
		exceptions.Panicf("tensors.Stack: invalid axis %d for element rank %d", axis, elemShape.Rank())
	}

	outer, inner := 1, 1
	for ii, d := range elemShape.Dimensions {
		if ii < axis {
			outer *= d
		} else {
			inner *= d
		}
	}

	numTensors := len(ts)
	out := FromShape(elemShape.InsertAxis(axis, numTensors))
	dstV := reflect.ValueOf(out.flat)
	for jj, t := range ts {
		srcV := reflect.ValueOf(t.flat)
		for ii := 0; ii < outer; ii++ {
			dstStart := (ii*numTensors + jj) * inner
			reflect.Copy(dstV.Slice(dstStart, dstStart+inner), srcV.Slice(ii*inner, (ii+1)*inner))
		}
	}
	return out
}

// Replicate returns a new tensor with an extra axis inserted at the given position,
// along which the values of t are replicated n times. Replicating a (Float32)[4] tensor
// along axis 0 with n=3 yields a (Float32)[3 4] tensor whose slices at indices 0, 1 and 2
// all equal the original.
func Replicate(t *Tensor, axis, n int) *Tensor {
	t.AssertValid()
	if axis < 0 {
		axis = t.Rank() + 1 + axis
	}
	if axis < 0 || axis > t.Rank() {
		exceptions.Panicf("tensors.Replicate: invalid axis %d for rank %d", axis, t.Rank())
	}
	if n <= 0 {
		exceptions.Panicf("tensors.Replicate: invalid number of replicas %d", n)
	}

	outer, inner := 1, 1
	for ii, d := range t.shape.Dimensions {
		if ii < axis {
			outer *= d
		} else {
			inner *= d
		}
	}

	out := FromShape(t.shape.InsertAxis(axis, n))
	srcV := reflect.ValueOf(t.flat)
	dstV := reflect.ValueOf(out.flat)
	for ii := 0; ii < outer; ii++ {
		src := srcV.Slice(ii*inner, (ii+1)*inner)
		for jj := 0; jj < n; jj++ {
			dstStart := (ii*n + jj) * inner
			reflect.Copy(dstV.Slice(dstStart, dstStart+inner), src)
		}
	}
	return out
}

// MoveAxis returns a new tensor with the fromAxis of t moved to position toAxis, all
// other axes keeping their relative order.
func MoveAxis(t *Tensor, fromAxis, toAxis int) *Tensor {
	t.AssertValid()
	fromAxis = AdjustAxisToRank(fromAxis, t.Rank())
	toAxis = AdjustAxisToRank(toAxis, t.Rank())
	if fromAxis == toAxis {
		return t.Clone()
	}
	dim := t.shape.Dimensions[fromAxis]
	parts := make([]*Tensor, dim)
	for ii := 0; ii < dim; ii++ {
		parts[ii] = Select(t, fromAxis, ii)
	}
	return Stack(parts, toAxis)
}

// Ones returns a tensor with the given shape, filled with ones.
func Ones(shape shapes.Shape) *Tensor {
	t := FromShape(shape)
	switch flat := t.flat.(type) {
	case []float16.Float16:
		fillFlat(flat, float16.Fromfloat32(1))
	case []bfloat16.BFloat16:
		fillFlat(flat, bfloat16.FromFloat32(1))
	default:
		flatV := reflect.ValueOf(t.flat)
		one := reflect.ValueOf(1).Convert(flatV.Type().Elem())
		for ii := 0; ii < flatV.Len(); ii++ {
			flatV.Index(ii).Set(one)
		}
	}
	return t
}

// OnesLike returns a tensor with ones, with the same shape as t.
func OnesLike(t *Tensor) *Tensor {
	t.AssertValid()
	return Ones(t.shape)
}

func fillFlat[T any](flat []T, value T) {
	for ii := range flat {
		flat[ii] = value
	}
}

// Neg returns the elementwise negation of t. It panics for boolean or unsigned dtypes.
func Neg(t *Tensor) *Tensor {
	return numericUnaryOp(t, "Neg", negOp)
}

// Abs returns the elementwise absolute value of t. It panics for boolean or unsigned dtypes.
func Abs(t *Tensor) *Tensor {
	return numericUnaryOp(t, "Abs", absOp)
}

// Sin returns the elementwise sine of t. Float dtypes only.
func Sin(t *Tensor) *Tensor { return mapUnaryFloat(t, "Sin", math.Sin) }

// Cos returns the elementwise cosine of t. Float dtypes only.
func Cos(t *Tensor) *Tensor { return mapUnaryFloat(t, "Cos", math.Cos) }

// Exp returns the elementwise exponential of t. Float dtypes only.
func Exp(t *Tensor) *Tensor { return mapUnaryFloat(t, "Exp", math.Exp) }

// Add returns the elementwise a+b, with broadcasting of the trailing-aligned dimensions
// (an axis with dimension 1, or a missing leading axis, broadcasts over the other
// operand's dimension).
func Add(a, b *Tensor) *Tensor {
	return numericBinaryOp(a, b, "Add", addOp)
}

// Mul returns the elementwise a*b, with the same broadcasting rules as Add.
func Mul(a, b *Tensor) *Tensor {
	return numericBinaryOp(a, b, "Mul", mulOp)
}

// Sum returns a scalar tensor with the sum of all elements of t, with the same dtype.
func Sum(t *Tensor) *Tensor {
	t.AssertValid()
	out := FromShape(shapes.Shape{DType: t.DType()})
	switch flat := t.flat.(type) {
	case []float16.Float16:
		var total float32
		for _, v := range flat {
			total += v.Float32()
		}
		out.flat.([]float16.Float16)[0] = float16.Fromfloat32(total)
	case []bfloat16.BFloat16:
		var total float32
		for _, v := range flat {
			total += v.Float32()
		}
		out.flat.([]bfloat16.BFloat16)[0] = bfloat16.FromFloat32(total)
	case []float32:
		sumFlat(flat, out)
	case []float64:
		sumFlat(flat, out)
	case []int8:
		sumFlat(flat, out)
	case []int16:
		sumFlat(flat, out)
	case []int32:
		sumFlat(flat, out)
	case []int64:
		sumFlat(flat, out)
	case []uint8:
		sumFlat(flat, out)
	case []uint16:
		sumFlat(flat, out)
	case []uint32:
		sumFlat(flat, out)
	case []uint64:
		sumFlat(flat, out)
	default:
		exceptions.Panicf("tensors.Sum: unsupported dtype %s", t.DType())
	}
	return out
}

func sumFlat[T constraints.Integer | constraints.Float](flat []T, out *Tensor) {
	var total T
	for _, v := range flat {
		total += v
	}
	out.flat.([]T)[0] = total
}

type numericOp int

const (
	negOp numericOp = iota
	absOp
	addOp
	mulOp
)

// numericUnaryOp dispatches a unary operation over the signed numeric dtypes.
func numericUnaryOp(t *Tensor, opName string, op numericOp) *Tensor {
	t.AssertValid()
	out := FromShape(t.shape)
	switch t.flat.(type) {
	case []float16.Float16:
		src := t.flat.([]float16.Float16)
		dst := out.flat.([]float16.Float16)
		for ii, v := range src {
			dst[ii] = float16.Fromfloat32(applyUnary(v.Float32(), op))
		}
	case []bfloat16.BFloat16:
		src := t.flat.([]bfloat16.BFloat16)
		dst := out.flat.([]bfloat16.BFloat16)
		for ii, v := range src {
			dst[ii] = bfloat16.FromFloat32(applyUnary(v.Float32(), op))
		}
	case []float32:
		unaryFlat[float32](t, out, op)
	case []float64:
		unaryFlat[float64](t, out, op)
	case []int8:
		unaryFlat[int8](t, out, op)
	case []int16:
		unaryFlat[int16](t, out, op)
	case []int32:
		unaryFlat[int32](t, out, op)
	case []int64:
		unaryFlat[int64](t, out, op)
	default:
		exceptions.Panicf("tensors.%s: unsupported dtype %s", opName, t.DType())
	}
	return out
}

func applyUnary[T constraints.Signed | constraints.Float](v T, op numericOp) T {
	switch op {
	case negOp:
		return -v
	case absOp:
		if v < 0 {
			return -v
		}
		return v
	}
	exceptions.Panicf("invalid unary numericOp %d", op)
	return v
}

func unaryFlat[T constraints.Signed | constraints.Float](t, out *Tensor, op numericOp) {
	src := t.flat.([]T)
	dst := out.flat.([]T)
	for ii, v := range src {
		dst[ii] = applyUnary(v, op)
	}
}

// mapUnaryFloat applies fn elementwise, for float dtypes only.
func mapUnaryFloat(t *Tensor, opName string, fn func(float64) float64) *Tensor {
	t.AssertValid()
	out := FromShape(t.shape)
	switch src := t.flat.(type) {
	case []float16.Float16:
		dst := out.flat.([]float16.Float16)
		for ii, v := range src {
			dst[ii] = float16.Fromfloat32(float32(fn(float64(v.Float32()))))
		}
	case []bfloat16.BFloat16:
		dst := out.flat.([]bfloat16.BFloat16)
		for ii, v := range src {
			dst[ii] = bfloat16.FromFloat32(float32(fn(float64(v.Float32()))))
		}
	case []float32:
		dst := out.flat.([]float32)
		for ii, v := range src {
			dst[ii] = float32(fn(float64(v)))
		}
	case []float64:
		dst := out.flat.([]float64)
		for ii, v := range src {
			dst[ii] = fn(v)
		}
	default:
		exceptions.Panicf("tensors.%s: unsupported dtype %s (float dtypes only)", opName, t.DType())
	}
	return out
}

// broadcastShape returns the shape resulting from broadcasting a and b together, with
// trailing-aligned dimensions (the NumPy convention). It panics if dtypes differ or
// dimensions are incompatible.
func broadcastShape(a, b shapes.Shape, opName string) shapes.Shape {
	if a.DType != b.DType {
		exceptions.Panicf("tensors.%s: dtypes %s and %s don't match", opName, a.DType, b.DType)
	}
	rank := max(a.Rank(), b.Rank())
	dims := make([]int, rank)
	for ii := 0; ii < rank; ii++ {
		dimA, dimB := 1, 1
		if axis := a.Rank() - rank + ii; axis >= 0 {
			dimA = a.Dimensions[axis]
		}
		if axis := b.Rank() - rank + ii; axis >= 0 {
			dimB = b.Dimensions[axis]
		}
		switch {
		case dimA == dimB:
			dims[ii] = dimA
		case dimA == 1:
			dims[ii] = dimB
		case dimB == 1:
			dims[ii] = dimA
		default:
			exceptions.Panicf("tensors.%s: shapes %s and %s are not broadcast-compatible at axis %d",
				opName, a, b, ii)
		}
	}
	return shapes.Make(a.DType, dims...)
}

// strides returns the row-major strides for the given shape.
func strides(shape shapes.Shape) []int {
	s := make([]int, shape.Rank())
	stride := 1
	for ii := shape.Rank() - 1; ii >= 0; ii-- {
		s[ii] = stride
		stride *= shape.Dimensions[ii]
	}
	return s
}

// broadcastStrides returns strides for operand aligned to the output shape: missing
// leading axes and axes with dimension 1 get stride 0.
func broadcastStrides(operand, out shapes.Shape) []int {
	operandStrides := strides(operand)
	aligned := make([]int, out.Rank())
	offset := out.Rank() - operand.Rank()
	for ii := range aligned {
		if ii < offset || operand.Dimensions[ii-offset] == 1 {
			aligned[ii] = 0
		} else {
			aligned[ii] = operandStrides[ii-offset]
		}
	}
	return aligned
}

// numericBinaryOp dispatches a broadcasting binary operation over the numeric dtypes.
func numericBinaryOp(a, b *Tensor, opName string, op numericOp) *Tensor {
	a.AssertValid()
	b.AssertValid()
	out := FromShape(broadcastShape(a.shape, b.shape, opName))
	switch a.flat.(type) {
	case []float16.Float16:
		binaryFlatFn(a, b, out, func(x, y float16.Float16) float16.Float16 {
			return float16.Fromfloat32(applyBinary(x.Float32(), y.Float32(), op))
		})
	case []bfloat16.BFloat16:
		binaryFlatFn(a, b, out, func(x, y bfloat16.BFloat16) bfloat16.BFloat16 {
			return bfloat16.FromFloat32(applyBinary(x.Float32(), y.Float32(), op))
		})
	case []float32:
		binaryFlat[float32](a, b, out, op)
	case []float64:
		binaryFlat[float64](a, b, out, op)
	case []int8:
		binaryFlat[int8](a, b, out, op)
	case []int16:
		binaryFlat[int16](a, b, out, op)
	case []int32:
		binaryFlat[int32](a, b, out, op)
	case []int64:
		binaryFlat[int64](a, b, out, op)
	case []uint8:
		binaryFlat[uint8](a, b, out, op)
	case []uint16:
		binaryFlat[uint16](a, b, out, op)
	case []uint32:
		binaryFlat[uint32](a, b, out, op)
	case []uint64:
		binaryFlat[uint64](a, b, out, op)
	default:
		exceptions.Panicf("tensors.%s: unsupported dtype %s", opName, a.DType())
	}
	return out
}

func applyBinary[T constraints.Integer | constraints.Float](x, y T, op numericOp) T {
	switch op {
	case addOp:
		return x + y
	case mulOp:
		return x * y
	}
	exceptions.Panicf("invalid binary numericOp %d", op)
	return x
}

func binaryFlat[T constraints.Integer | constraints.Float](a, b, out *Tensor, op numericOp) {
	binaryFlatFn(a, b, out, func(x, y T) T { return applyBinary(x, y, op) })
}

// binaryFlatFn iterates the output indices, gathering the operands with broadcast
// (zeroed) strides.
func binaryFlatFn[T any](a, b, out *Tensor, fn func(x, y T) T) {
	aFlat := a.flat.([]T)
	bFlat := b.flat.([]T)
	outFlat := out.flat.([]T)
	aStrides := broadcastStrides(a.shape, out.shape)
	bStrides := broadcastStrides(b.shape, out.shape)
	pos := 0
	for indices := range out.shape.Iter() {
		offsetA, offsetB := 0, 0
		for axis, idx := range indices {
			offsetA += idx * aStrides[axis]
			offsetB += idx * bStrides[axis]
		}
		outFlat[pos] = fn(aFlat[offsetA], bFlat[offsetB])
		pos++
	}
}
