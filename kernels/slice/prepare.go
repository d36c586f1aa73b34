// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package slice

import (
	"fmt"

	"github.com/gomlx/kernelrt/internal/fastdivmod"
	"github.com/gomlx/kernelrt/pkg/core/shapes"
	"github.com/gomlx/kernelrt/pkg/core/status"
)

// Spec is the resolved slicing of an input tensor: where each axis starts, its step, and the resulting
// output dimensions.
//
// If the innermost axes are copied in full they may be flattened into one: in that case Starts and Steps
// only have len(FlattenedOutputDims) entries, the last one referring to the flattened axis.
// OutputDims always has the rank of the input.
type Spec struct {
	Starts, Steps []int64
	OutputDims    []int64

	// FlattenedOutputDims is nil if no flattening happened.
	FlattenedOutputDims []int64
}

// IsFlattened returns whether innermost axes were flattened.
func (s *Spec) IsFlattened() bool { return s.FlattenedOutputDims != nil }

// NumDims returns the number of (possibly flattened) axes the gather iterates over.
func (s *Spec) NumDims() int { return len(s.Starts) }

// OutputSize returns the number of elements of the output.
func (s *Spec) OutputSize() int64 {
	size := int64(1)
	for _, dim := range s.OutputDims {
		size *= dim
	}
	return size
}

// OutputShapeDims returns the output dimensions as ints, to build the output shape.
func (s *Spec) OutputShapeDims() []int {
	dims := make([]int, len(s.OutputDims))
	for i, dim := range s.OutputDims {
		dims[i] = int(dim)
	}
	return dims
}

// InputPitches returns the pitches of the input, with its innermost axes flattened the same way as the output.
func (s *Spec) InputPitches(inputDims []int) []int64 {
	numDims := s.NumDims()
	dims := make([]int64, numDims)
	for axis := range numDims {
		dims[axis] = int64(inputDims[axis])
	}
	if s.IsFlattened() && numDims > 0 {
		aggregated := int64(1)
		for _, dim := range inputDims[numDims-1:] {
			aggregated *= int64(dim)
		}
		dims[numDims-1] = aggregated
	}
	return shapes.Pitches(dims)
}

// OutputPitches returns the pitches of the (possibly flattened) output, as divisors used to decompose a flat
// output index into coordinates.
func (s *Spec) OutputPitches() []fastdivmod.DivMod {
	dims := s.OutputDims
	if s.IsFlattened() {
		dims = s.FlattenedOutputDims
	}
	return fastdivmod.FromPitches(shapes.Pitches(dims))
}

// String implements fmt.Stringer.
func (s *Spec) String() string {
	if s.IsFlattened() {
		return fmt.Sprintf("starts=%v steps=%v output=%v flattened=%v", s.Starts, s.Steps, s.OutputDims, s.FlattenedOutputDims)
	}
	return fmt.Sprintf("starts=%v steps=%v output=%v", s.Starts, s.Steps, s.OutputDims)
}

// PrepareForCompute resolves the raw slicing parameters against the input dimensions, following the
// exchange-format semantics:
//
//   - axes defaults to [0, 1, ..., len(starts)-1]; negative axes count from the end.
//   - steps defaults to all ones, and must not contain zeros.
//   - Negative starts/ends count from the end of the axis. Then, for positive steps, they are clamped to [0, dim],
//     and for negative steps start is clamped to [0, dim-1] and end to [-1, dim-1]. So an end of math.MinInt64
//     (or -dim-1) with a negative step means "up to and including index 0".
//   - Axes not mentioned are copied in full.
//
// Innermost axes copied in full are flattened into one, see Spec.
//
// Malformed parameters fail with a status.InvalidArgument error.
func PrepareForCompute(starts, ends, axes, steps []int64, inputDims []int) (*Spec, error) {
	return prepare(starts, ends, axes, steps, inputDims, true)
}

func prepare(rawStarts, rawEnds, rawAxes, rawSteps []int64, inputDims []int, flatten bool) (*Spec, error) {
	rank := len(inputDims)
	numAxes := len(rawStarts)
	if len(rawEnds) != numAxes {
		return nil, status.Errorf(status.InvalidArgument, "Slice: starts (%d elements) and ends (%d elements) must have the same length",
			numAxes, len(rawEnds))
	}
	if rawAxes != nil && len(rawAxes) != numAxes {
		return nil, status.Errorf(status.InvalidArgument, "Slice: axes (%d elements) must have the same length as starts (%d elements)",
			len(rawAxes), numAxes)
	}
	if rawSteps != nil && len(rawSteps) != numAxes {
		return nil, status.Errorf(status.InvalidArgument, "Slice: steps (%d elements) must have the same length as starts (%d elements)",
			len(rawSteps), numAxes)
	}
	if numAxes > rank {
		return nil, status.Errorf(status.InvalidArgument, "Slice: %d axes given for an input of rank %d", numAxes, rank)
	}

	spec := &Spec{
		Starts:     make([]int64, rank),
		Steps:      make([]int64, rank),
		OutputDims: make([]int64, rank),
	}
	for axis, dim := range inputDims {
		spec.Steps[axis] = 1
		spec.OutputDims[axis] = int64(dim)
	}

	seen := make([]bool, rank)
	for i := range numAxes {
		axis := int64(i)
		if rawAxes != nil {
			axis = rawAxes[i]
		}
		if axis < -int64(rank) || axis >= int64(rank) {
			return nil, status.Errorf(status.InvalidArgument, "Slice: axis %d out of range for input of rank %d", axis, rank)
		}
		if axis < 0 {
			axis += int64(rank)
		}
		if seen[axis] {
			return nil, status.Errorf(status.InvalidArgument, "Slice: axis %d given more than once (axes=%v)", axis, rawAxes)
		}
		seen[axis] = true

		step := int64(1)
		if rawSteps != nil {
			step = rawSteps[i]
		}
		if step == 0 {
			return nil, status.Errorf(status.InvalidArgument, "Slice: step for axis %d can't be 0", axis)
		}
		start, outputDim := resolveAxis(rawStarts[i], rawEnds[i], step, int64(inputDims[axis]))
		spec.Starts[axis] = start
		spec.Steps[axis] = step
		spec.OutputDims[axis] = outputDim
	}

	if flatten {
		flattenInnermost(spec, inputDims)
	}
	return spec, nil
}

// resolveAxis normalizes and clamps start/end for an axis of size dim, and returns the start and the
// number of elements selected.
func resolveAxis(start, end, step, dim int64) (int64, int64) {
	if dim == 0 {
		return 0, 0
	}
	if start < 0 {
		start += dim
	}
	if end < 0 {
		end += dim
	}
	var span int64
	var absStep uint64
	if step > 0 {
		start = clamp(start, 0, dim)
		end = clamp(end, 0, dim)
		span = end - start
		absStep = uint64(step)
	} else {
		start = clamp(start, 0, dim-1)
		end = clamp(end, -1, dim-1)
		span = start - end
		absStep = uint64(-(step + 1)) + 1 // Also valid for math.MinInt64.
	}
	if span <= 0 {
		return start, 0
	}
	// ceil(span / absStep), without overflowing for large steps.
	return start, int64((uint64(span)-1)/absStep + 1)
}

func clamp(value, low, high int64) int64 {
	return min(max(value, low), high)
}

// flattenInnermost merges the innermost axes that are copied in full (start 0, step 1 and same dimension as the
// input), if there are at least 2 of them.
func flattenInnermost(spec *Spec, inputDims []int) {
	rank := len(inputDims)
	numToCombine := 0
	for axis := rank - 1; axis >= 0; axis-- {
		if spec.Starts[axis] != 0 || spec.Steps[axis] != 1 || spec.OutputDims[axis] != int64(inputDims[axis]) {
			break
		}
		numToCombine++
	}
	if numToCombine < 2 {
		return
	}
	numDims := rank - numToCombine + 1
	flattened := make([]int64, numDims)
	copy(flattened, spec.OutputDims[:numDims])
	aggregated := int64(1)
	for _, dim := range spec.OutputDims[numDims-1:] {
		aggregated *= dim
	}
	flattened[numDims-1] = aggregated
	spec.FlattenedOutputDims = flattened
	spec.Starts = spec.Starts[:numDims]
	spec.Steps = spec.Steps[:numDims]
}
