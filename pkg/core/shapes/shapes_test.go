// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, shape0.Memory())

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, shape1.Memory())
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	bits := Make(dtypes.Bit, 3, 3)
	require.Equal(t, 2, bits.Memory())

	empty := Make(dtypes.Int8, 0, 5)
	require.True(t, empty.IsZeroSize())
	require.Panics(t, func() { _ = Make(dtypes.Int8, -1) })

	clone := shape1.Clone()
	clone.Dimensions[0] = 7
	require.Equal(t, 4, shape1.Dimensions[0])
	require.False(t, clone.Equal(shape1))
	require.True(t, Make(dtypes.Int8, 4, 3, 2).EqualDimensions(shape1))
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestStridesAndFlatIndex(t *testing.T) {
	require.Equal(t, []int{12, 4, 1}, Make(dtypes.F32, 2, 3, 4).Strides())
	require.Equal(t, []int{2, 2, 1}, Strides([]int{3, 1, 2}))
	require.Equal(t, []int{}, Strides(nil))

	require.Equal(t, 5, FlatIndex([]int{2, 3}, []int{1, 2}))
	require.Equal(t, 0, FlatIndex(nil, nil))
	require.Equal(t, 23, FlatIndex([]int{2, 3, 4}, []int{1, 2, 3}))
	require.Panics(t, func() { _ = FlatIndex([]int{2, 3}, []int{1, 3}) })
	require.Panics(t, func() { _ = FlatIndex([]int{2, 3}, []int{-1, 0}) })
	require.Panics(t, func() { _ = FlatIndex([]int{2, 3}, []int{1}) })
}

func TestInferDimensions(t *testing.T) {
	require.Equal(t, []int{3, 2}, InferDimensions(6, []int{-1, 2}))
	require.Equal(t, []int{6}, InferDimensions(6, []int{-1}))
	require.Equal(t, []int{2, 3}, InferDimensions(6, []int{2, 3}))
	require.Panics(t, func() { _ = InferDimensions(6, []int{-1, -1}) })
	require.Panics(t, func() { _ = InferDimensions(6, []int{4, -1}) })
	require.Panics(t, func() { _ = InferDimensions(6, []int{4, 2}) })
}
