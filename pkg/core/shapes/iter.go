// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"
)

// Pitches returns the row-major pitches (strides in elements, not bytes) for the given dimensions.
//
// The last axis always has pitch 1, and each axis pitch is the product of the dimensions after it.
// Contrary to Shape.Strides it doesn't special case zero-sized axes: the pitches of a
// zero-sized shape still describe a (degenerate) row-major layout.
func Pitches[D ~int | ~int64](dimensions []D) []D {
	pitches := make([]D, len(dimensions))
	var current D = 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		pitches[axis] = current
		current *= dimensions[axis]
	}
	return pitches
}

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout
// in memory.
//
// Notice the strides are **not in bytes**, but in indices. They are computed fresh on each call.
func (s Shape) Strides() (strides []int) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	if s.IsZeroSize() {
		// Some axis is zero-dimension.
		return make([]int, rank)
	}
	return Pitches(s.Dimensions)
}

// Iter iterates sequentially over all possible indices of the given shape.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		if !s.Ok() || s.IsZeroSize() {
			return
		}
		rank := s.Rank()
		indices := make([]int, rank)
		for flatIdx := 0; ; flatIdx++ {
			if !yield(flatIdx, indices) {
				return
			}
			// Increment indices, row-major order: the last index changes fastest.
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
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
