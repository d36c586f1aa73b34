// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package slice

import (
	"unsafe"

	"github.com/gomlx/kernelrt/internal/fastdivmod"
	"github.com/gomlx/kernelrt/kernels/staging"
)

// gatherParams are the staged parameters of the gather, read on the device.
type gatherParams struct {
	starts, steps, inputPitches *staging.Buffer[int64]
	outputPitches               *staging.Buffer[fastdivmod.DivMod]
}

// newGather returns the device kernel that copies each output element in [start, end) from its input location.
//
// Elements of 1, 2, 4, 8 and 16 bytes are copied as such, other sizes byte by byte.
func newGather(elementSize int, input, output []byte, starts, steps, inputPitches *staging.Buffer[int64],
	outputPitches *staging.Buffer[fastdivmod.DivMod]) func(start, end int) {
	params := gatherParams{starts: starts, steps: steps, inputPitches: inputPitches, outputPitches: outputPitches}
	switch elementSize {
	case 1:
		return typedGather[uint8](params, input, output)
	case 2:
		return typedGather[uint16](params, input, output)
	case 4:
		return typedGather[uint32](params, input, output)
	case 8:
		return typedGather[uint64](params, input, output)
	case 16:
		return typedGather[[2]uint64](params, input, output)
	default:
		return func(start, end int) {
			starts, steps := params.starts.DeviceSpan(), params.steps.DeviceSpan()
			inputPitches, outputPitches := params.inputPitches.DeviceSpan(), params.outputPitches.DeviceSpan()
			for outputIdx := start; outputIdx < end; outputIdx++ {
				inputIdx := inputIndex(outputIdx, starts, steps, inputPitches, outputPitches)
				copy(output[outputIdx*elementSize:(outputIdx+1)*elementSize],
					input[int(inputIdx)*elementSize:(int(inputIdx)+1)*elementSize])
			}
		}
	}
}

// typedGather copies elements as values of type E.
func typedGather[E any](params gatherParams, inputBytes, outputBytes []byte) func(start, end int) {
	return func(start, end int) {
		input, output := bytesAs[E](inputBytes), bytesAs[E](outputBytes)
		starts, steps := params.starts.DeviceSpan(), params.steps.DeviceSpan()
		inputPitches, outputPitches := params.inputPitches.DeviceSpan(), params.outputPitches.DeviceSpan()
		for outputIdx := start; outputIdx < end; outputIdx++ {
			output[outputIdx] = input[inputIndex(outputIdx, starts, steps, inputPitches, outputPitches)]
		}
	}
}

// inputIndex maps a flat output index to the flat input index, decomposing it into per-axis coordinates.
func inputIndex(outputIdx int, starts, steps, inputPitches []int64, outputPitches []fastdivmod.DivMod) int64 {
	var inputIdx int64
	remainder := outputIdx
	for axis, pitch := range outputPitches {
		var coord int
		coord, remainder = pitch.DivMod(remainder)
		inputIdx += (starts[axis] + int64(coord)*steps[axis]) * inputPitches[axis]
	}
	return inputIdx
}

// bytesAs returns data viewed as a slice of E.
func bytesAs[E any](data []byte) []E {
	var e E
	size := int(unsafe.Sizeof(e))
	if len(data) < size {
		return nil
	}
	return unsafe.Slice((*E)(unsafe.Pointer(&data[0])), len(data)/size)
}
