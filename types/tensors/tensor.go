// Package tensors implements a `Tensor`, a representation of a multi-dimensional array.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large
// dimensions), defined by their shape (a data type and its axes' dimensions) and their actual
// content, stored as a flat (1D) slice of the corresponding Go type.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor
//     with the given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor
//     with the given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value): conversion from a scalar or an arbitrary multidimensional slice of
//     supported DTypes. Slices of rank > 1 must be regular, that is all the sub-slices must
//     have the same shape. Example:
//
//     t := FromValue([][]float32{{1, 2}, {3, 5}, {7, 11}})
//
//   - FromAnyValue(value any): same as FromValue. The exception is if `value` is already a
//     tensor, then it is a no-op and it returns the tensor itself.
//
// The tensors here are host ("local") only: the flat data lives in Go memory, and all
// operations (see ops.go) execute eagerly on it. That's all the vectorization test layer
// (vmap/vmaptest) requires from its engine: slicing, stacking, replication and a handful
// of elementwise operations.
package tensors

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/ZolotukhinM/functorch/types/shapes"
)

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily
// large dimensions), defined by its shape and its content, stored as a flat (1D) slice of
// values of the shape's DType.
//
// The shape is considered immutable; the flat data can be mutated with MutableFlatData.
type Tensor struct {
	// shape of the tensor.
	shape shapes.Shape

	// flat holds the slice with the actual data, of the Go type for the shape's dtype.
	flat any
}

// newTensor returns a Tensor initialized only with the shape: the flat data must still be set.
func newTensor(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape}
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		panic(errors.New("tensors.FromShape: invalid shape"))
	}
	t = newTensor(shape)
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	t.flat = flatV.Interface()
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, and sets the
// flattened values with the given data.
//
// It panics if the data size doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: shape %s requires %d values, got %d", shape, shape.Size(), len(data))
	}
	t = FromShape(shape)
	copy(t.flat.([]T), data)
	return
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	t = FromShape(shape)
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return
}

// FromValue returns a Tensor initialized from the given scalar or (multidimensional)
// slice value. Slices of rank > 1 must be regular, that is all the sub-slices must have
// the same shape.
//
// It panics in case of error -- invalid or irregular values.
func FromValue[S any](value S) *Tensor {
	return FromAnyValue(value)
}

// FromAnyValue is a non-generics version of FromValue. The exception is if `value` is
// already a *Tensor, in which case it is returned itself.
//
// It panics in case of error -- invalid or irregular values.
func FromAnyValue(value any) (t *Tensor) {
	if tValue, ok := value.(*Tensor); ok {
		return tValue
	}

	// Find dimensions and the base element type.
	var dimensions []int
	valueV := reflect.ValueOf(value)
	valueT := valueV.Type()
	for valueT.Kind() == reflect.Slice {
		if valueV.Len() == 0 {
			exceptions.Panicf("tensors.FromAnyValue: cannot create a tensor from an empty slice (%T)", value)
		}
		dimensions = append(dimensions, valueV.Len())
		valueT = valueT.Elem()
		valueV = valueV.Index(0)
	}
	dtype := dtypes.FromGoType(valueT)
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors.FromAnyValue: unsupported element type %s (value %T)", valueT, value)
	}

	t = FromShape(shapes.Make(dtype, dimensions...))
	flatV := reflect.ValueOf(t.flat)
	pos := 0
	var copyRecursive func(v reflect.Value, depth int)
	copyRecursive = func(v reflect.Value, depth int) {
		if depth == len(dimensions) {
			flatV.Index(pos).Set(v)
			pos++
			return
		}
		if v.Len() != dimensions[depth] {
			exceptions.Panicf("tensors.FromAnyValue: irregular multidimensional slice at axis %d: got %d elements, expected %d",
				depth, v.Len(), dimensions[depth])
		}
		for ii := 0; ii < v.Len(); ii++ {
			copyRecursive(v.Index(ii), depth+1)
		}
	}
	copyRecursive(reflect.ValueOf(value), 0)
	return
}

// Shape of the tensor, includes the DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// AssertValid panics if the tensor is nil or if its data was not initialized.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensors.Tensor is nil")
	}
	if t.flat == nil {
		exceptions.Panicf("tensors.Tensor(shape=%s) has no data", t.shape)
	}
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. Even scalar values have a flattened data representation of
// one element.
//
// This provides accessFn with the actual Tensor data (not a copy), and it should not be
// changed. See Tensor.MutableFlatData to mutate it.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type T.
// It is the "generics" version of Tensor.ConstFlatData.
//
// It panics if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("tensors.ConstFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. The contents of the slice can be changed in place.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go type T,
// whose contents can be changed in place. It is the "generics" version of
// Tensor.MutableFlatData.
//
// It panics if T doesn't match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("tensors.MutableFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	clone := newTensor(t.shape.Clone())
	flatV := reflect.ValueOf(t.flat)
	cloneFlatV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloneFlatV, flatV)
	clone.flat = cloneFlatV.Interface()
	return clone
}

// Equal checks whether t == otherTensor: same shape (dtype included) and exactly the
// same flat values.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, otherTensor.flat)
}

// InDelta checks whether Abs(t - otherTensor) < delta for every element. Shapes
// (dtype included) must match. A delta <= 0 means only exact equality is accepted.
//
// It panics for non-numeric dtypes.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	if delta <= 0 {
		return t.Equal(otherTensor)
	}
	for ii := 0; ii < t.Size(); ii++ {
		diff := flatValueAsFloat64(t.flat, ii) - flatValueAsFloat64(otherTensor.flat, ii)
		if diff < -delta || diff > delta {
			return false
		}
	}
	return true
}

// flatValueAsFloat64 converts the element at position idx of the given flat slice to a
// float64. It panics for non-numeric dtypes.
func flatValueAsFloat64(flat any, idx int) float64 {
	switch data := flat.(type) {
	case []float64:
		return data[idx]
	case []float32:
		return float64(data[idx])
	case []float16.Float16:
		return float64(data[idx].Float32())
	case []bfloat16.BFloat16:
		return float64(data[idx].Float32())
	case []int8:
		return float64(data[idx])
	case []int16:
		return float64(data[idx])
	case []int32:
		return float64(data[idx])
	case []int64:
		return float64(data[idx])
	case []uint8:
		return float64(data[idx])
	case []uint16:
		return float64(data[idx])
	case []uint32:
		return float64(data[idx])
	case []uint64:
		return float64(data[idx])
	}
	exceptions.Panicf("tensors: cannot convert flat data of type %T to float64", flat)
	return 0
}

// Value returns a multidimensional slice (of the Go type corresponding to the DType)
// with a copy of the tensor values. If the tensor is a scalar, it returns the scalar
// value instead.
func (t *Tensor) Value() any {
	t.AssertValid()
	flatV := reflect.ValueOf(t.flat)
	if t.IsScalar() {
		return flatV.Index(0).Interface()
	}

	var fromFlat func(flat reflect.Value, dimensions []int) reflect.Value
	fromFlat = func(flat reflect.Value, dimensions []int) reflect.Value {
		if len(dimensions) == 1 {
			return flat
		}
		numElements := dimensions[0]
		subSize := flat.Len() / numElements
		first := fromFlat(flat.Slice(0, subSize), dimensions[1:])
		sliceT := reflect.SliceOf(first.Type())
		valueV := reflect.MakeSlice(sliceT, numElements, numElements)
		valueV.Index(0).Set(first)
		for ii := 1; ii < numElements; ii++ {
			valueV.Index(ii).Set(fromFlat(flat.Slice(ii*subSize, (ii+1)*subSize), dimensions[1:]))
		}
		return valueV
	}
	// Work on a copy, so callers can't mutate the tensor through the returned value.
	flatCopy := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(flatCopy, flatV)
	return fromFlat(flatCopy, t.shape.Dimensions).Interface()
}

// GoStr converts the tensor values to a Go-syntax representation, for printing and debugging.
func (t *Tensor) GoStr() string {
	t.AssertValid()
	value := t.Value()
	if t.IsScalar() {
		return fmt.Sprintf("%s(%v)", t.DType(), value)
	}
	return fmt.Sprintf("%s: %s", t.shape, valueToGoStr(value))
}

func valueToGoStr(value any) string {
	str := fmt.Sprintf("%#v", value)
	// Strip the package qualifiers reflect adds for unnamed slice types.
	return strings.Replace(str, "[]interface {}", "[]any", -1)
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil || t.flat == nil {
		return "tensors.Tensor(nil)"
	}
	if t.Size() <= 16 {
		return t.GoStr()
	}
	return fmt.Sprintf("tensors.Tensor(%s)", t.shape)
}
