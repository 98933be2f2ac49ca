// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Iter iterates over all possible indices of the given shape, in row-major order (the last index
// changes fastest), yielding the flat index and the indices.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return IterDimensions(s.Dimensions)
}

// IterDimensions is like Shape.Iter, but for a list of dimensions.
func IterDimensions(dimensions []int) iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		rank := len(dimensions)
		indices := make([]int, rank)
		if rank == 0 {
			// Scalar: yield one empty index slice.
			_ = yield(0, indices)
			return
		}
		for _, dim := range dimensions {
			if dim <= 0 {
				return
			}
		}
		for flatIdx := 0; ; flatIdx++ {
			if !yield(flatIdx, indices) {
				return
			}
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < dimensions[axis] {
					break
				}
				// Carry-over to the next higher-order axis.
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}
