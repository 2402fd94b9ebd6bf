package shapes

import (
	"testing"

	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Len(t, shape1.Dimensions, 3)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))

	require.Panics(t, func() { Make(Float32, 3, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqual(t *testing.T) {
	require.True(t, Make(Float32, 2, 3).Equal(Make(Float32, 2, 3)))
	require.False(t, Make(Float32, 2, 3).Equal(Make(Float64, 2, 3)))
	require.False(t, Make(Float32, 2, 3).Equal(Make(Float32, 3, 2)))
	require.True(t, Make(Int32).Equal(Make(Int32)))

	require.True(t, Make(Float32, 2, 3).EqualDimensions(Make(Float64, 2, 3)))
	require.False(t, Make(Float32, 2, 3).EqualDimensions(Make(Float32, 2)))
}

func TestInsertAndRemoveAxis(t *testing.T) {
	shape := Make(Float32, 3, 4)
	require.Equal(t, Make(Float32, 7, 3, 4), shape.InsertAxis(0, 7))
	require.Equal(t, Make(Float32, 3, 7, 4), shape.InsertAxis(1, 7))
	require.Equal(t, Make(Float32, 3, 4, 7), shape.InsertAxis(2, 7))
	require.Panics(t, func() { shape.InsertAxis(3, 7) })

	require.Equal(t, Make(Float32, 4), shape.RemoveAxis(0))
	require.Equal(t, Make(Float32, 3), shape.RemoveAxis(1))
	require.Panics(t, func() { shape.RemoveAxis(2) })

	// Removing the only axis yields a scalar.
	require.True(t, Make(Float32, 3).RemoveAxis(0).IsScalar())
}

func TestCheckDims(t *testing.T) {
	shape := Make(Float32, 4, 3)
	require.NoError(t, shape.CheckDims(4, 3))
	require.NoError(t, shape.CheckDims(4, -1))
	require.Error(t, shape.CheckDims(4))
	require.Error(t, shape.CheckDims(4, 2))
	require.NotPanics(t, func() { shape.AssertDims(-1, 3) })
	require.Panics(t, func() { shape.AssertDims(3, 4) })
}
