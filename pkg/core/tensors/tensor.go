// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor: a shape plus an opaque, fixed-size-element buffer living in some
// memory space (host memory or accelerator memory).
//
// There are two ways to construct a Tensor:
//
//   - New(allocator, shape): allocates the buffer with the given allocator, typically done by the session's
//     value store (or by a kernel's Output call).
//   - FromFlatData(flat, dimensions...): wraps a copy of Go data in host memory, convenient for constant
//     inputs and tests.
//
// Tensors are owned by whoever created them (usually the session's value store); kernels only borrow them
// for the duration of one invocation. Release returns the buffer to its allocator.
package tensors

import (
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor is a multidimensional array stored in a memory.Chunk.
type Tensor struct {
	shape shapes.Shape
	chunk *memory.Chunk

	// allocator that owns chunk, or nil if the memory is managed by the Go garbage collector.
	allocator memory.Allocator
	released  atomic.Bool
}

// hostInfo is the memory space of tensors created from Go data.
var hostInfo = memory.Info{Name: "GoHeap", DeviceType: memory.DeviceCPU, MemType: memory.MemTypeDefault}

// New allocates a tensor of the given shape with allocator. The contents are not initialized.
//
// Tensors with no elements are created without calling the allocator.
func New(allocator memory.Allocator, shape shapes.Shape) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("tensors.New: invalid shape %s", shape)
	}
	if shape.Memory() == 0 {
		// Zero-sized tensors don't touch the allocator.
		return &Tensor{shape: shape.Clone(), chunk: memory.NewChunk(nil, allocator.Info())}, nil
	}
	chunk, err := allocator.Alloc(shape.Memory())
	if err != nil {
		return nil, errors.WithMessagef(err, "tensors.New(%s)", shape)
	}
	return &Tensor{shape: shape.Clone(), chunk: chunk, allocator: allocator}, nil
}

// FromFlatData creates a host tensor with a copy of flat and the given dimensions.
// If no dimensions are given, it is assumed to be a rank-1 tensor with len(flat) elements.
//
// It panics if the number of elements doesn't match the dimensions.
func FromFlatData[T dtypes.Supported](flat []T, dimensions ...int) *Tensor {
	if len(dimensions) == 0 {
		dimensions = []int{len(flat)}
	}
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if shape.Size() != len(flat) {
		exceptions.Panicf("tensors.FromFlatData: %d values given, but shape %s has %d elements", len(flat), shape, shape.Size())
	}
	data := make([]byte, shape.Memory())
	copy(data, bytesOf(flat))
	return &Tensor{shape: shape, chunk: memory.NewChunk(data, hostInfo)}
}

// FromScalar creates a host rank-0 tensor holding value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	t := FromFlatData([]T{value}, 1)
	t.shape.Dimensions = nil
	return t
}

// Shape of the tensor. The returned value shouldn't be modified.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Location returns the memory space holding the tensor data.
func (t *Tensor) Location() memory.Info { return t.chunk.Info() }

// Chunk returns the memory chunk holding the tensor data.
func (t *Tensor) Chunk() *memory.Chunk { return t.chunk }

// Bytes returns the raw tensor memory. For tensors not in host-accessible memory, the bytes must only be
// accessed from work enqueued on the device streams.
func (t *Tensor) Bytes() []byte {
	t.assertValid()
	return t.chunk.Bytes()
}

// IsReleased returns whether Release was called.
func (t *Tensor) IsReleased() bool { return t.released.Load() }

// Release returns the tensor memory to its allocator. It's a no-op if the tensor was already released.
// The tensor must not be used afterward.
func (t *Tensor) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	if t.allocator != nil {
		t.allocator.Free(t.chunk)
	}
}

func (t *Tensor) assertValid() {
	if t.IsReleased() {
		exceptions.Panicf("tensor %s used after being released", t.shape)
	}
}

// Flat returns a typed view of the tensor's host-accessible memory.
// It panics if T doesn't match the tensor DType, or if the tensor is not host accessible.
func Flat[T dtypes.Supported](t *Tensor) []T {
	if dtype := dtypes.FromGenericsType[T](); dtype != t.DType() {
		exceptions.Panicf("tensors.Flat[%s] called on tensor of dtype %s", dtype, t.DType())
	}
	if !t.Location().IsHostAccessible() {
		exceptions.Panicf("tensors.Flat called on tensor %s located in %s, which is not host accessible", t.shape, t.Location())
	}
	data := t.Bytes()
	if t.Size() == 0 || len(data) == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), t.Size())
}

// CopyFlat returns a copy of the tensor's values, which must be host accessible.
func CopyFlat[T dtypes.Supported](t *Tensor) []T {
	return append([]T{}, Flat[T](t)...)
}

// bytesOf returns the byte view of a flat slice of a fixed-size type.
func bytesOf[T dtypes.Supported](flat []T) []byte {
	if len(flat) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(t)))
}
