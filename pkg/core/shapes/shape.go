// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of a Tensor or of the nodes of a FrameBuffer,
// and the row-major index arithmetic over it.
//
// Dimensions may be 0 (an empty shape), but never negative, except as the "inferred" marker
// accepted by InferDimensions.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
)

// Shape represents the dtype and dimensions of a multidimensional array.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension < 0", s)
		}
	}
	return s
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() int {
	return Size(s.Dimensions)
}

// IsZeroSize returns whether any of the dimensions is 0.
func (s Shape) IsZeroSize() bool {
	return s.Size() == 0
}

// Memory returns the number of bytes used to store an array of the given shape, that is
// ceil(Size() * bits / 8): Bit arrays are packed.
func (s Shape) Memory() int {
	return s.DType.SizeForDimensions(s.Dimensions...)
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Strides returns the row-major strides for each axis: the last axis has stride 1.
func (s Shape) Strides() []int {
	return Strides(s.Dimensions)
}

// Size returns the product of the dimensions, 1 for an empty list.
func Size(dimensions []int) int {
	size := 1
	for _, dim := range dimensions {
		size *= dim
	}
	return size
}

// Strides returns the row-major strides of the dimensions: the last axis has stride 1.
func Strides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// FlatIndex flattens the indices with row-major strides over dimensions, checking each index is within bounds.
func FlatIndex(dimensions []int, indices []int) int {
	if len(indices) != len(dimensions) {
		exceptions.Panicf("shapes.FlatIndex: %d indices given for %d dimensions %v", len(indices), len(dimensions), dimensions)
	}
	flat := 0
	for axis, idx := range indices {
		dim := dimensions[axis]
		if idx < 0 || idx >= dim {
			exceptions.Panicf("shapes.FlatIndex: index %d out of range [0, %d) for axis %d of dimensions %v",
				idx, dim, axis, dimensions)
		}
		flat = flat*dim + idx
	}
	return flat
}

// InferDimensions returns a copy of dimensions with at most one -1 replaced so that the product
// of the dimensions equals size.
//
// It panics if more than one dimension is negative, or if the product doesn't match size.
func InferDimensions(size int, dimensions []int) []int {
	result := slices.Clone(dimensions)
	inferredAxis := -1
	known := 1
	for axis, dim := range result {
		if dim < 0 {
			if inferredAxis >= 0 {
				exceptions.Panicf("only one dimension can be inferred (negative), got dimensions %v", dimensions)
			}
			inferredAxis = axis
			continue
		}
		known *= dim
	}
	if inferredAxis >= 0 {
		if known == 0 || size%known != 0 {
			exceptions.Panicf("cannot infer dimension of %v for a total size of %d", dimensions, size)
		}
		result[inferredAxis] = size / known
		known = size
	}
	if known != size {
		exceptions.Panicf("dimensions %v have %d elements, but %d are required", dimensions, known, size)
	}
	return result
}
