// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package staging implements Buffer, a small array of kernel parameters written on the host and uploaded
// asynchronously to the device before a kernel launch.
package staging

import (
	"unsafe"

	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/pkg/errors"
)

// AllocatorProvider provides the allocators of a kernel's device. framework.KernelInfo implements it.
type AllocatorProvider interface {
	GetDeviceNum() int
	GetAllocator(deviceNum int, memType memory.MemType) (memory.Allocator, error)
}

// Buffer holds n values of type T in pinned host memory (memory.MemTypeCPUInput) and a mirror in device
// memory.
//
// The host side is filled through HostSpan, and uploaded with CopyToDevice. The device side is only valid for
// reading by work enqueued on the same stream after CopyToDevice. Release must be called on every path,
// usually deferred right after New.
//
// T must be a fixed-size type without pointers.
type Buffer[T any] struct {
	n                      int
	host, device           *memory.Chunk
	hostAlloc, deviceAlloc memory.Allocator
	released               bool
}

// New allocates a Buffer of n values on the device of provider.
//
// A Buffer with n == 0 holds no memory.
func New[T any](provider AllocatorProvider, n int) (*Buffer[T], error) {
	b := &Buffer[T]{n: n}
	if n == 0 {
		return b, nil
	}
	deviceNum := provider.GetDeviceNum()
	var err error
	b.hostAlloc, err = provider.GetAllocator(deviceNum, memory.MemTypeCPUInput)
	if err != nil {
		return nil, errors.WithMessage(err, "staging buffer host allocator")
	}
	b.deviceAlloc, err = provider.GetAllocator(deviceNum, memory.MemTypeDefault)
	if err != nil {
		return nil, errors.WithMessage(err, "staging buffer device allocator")
	}
	nbytes := n * b.elementSize()
	b.host, err = b.hostAlloc.Alloc(nbytes)
	if err != nil {
		return nil, errors.WithMessagef(err, "staging buffer of %d elements", n)
	}
	b.device, err = b.deviceAlloc.Alloc(nbytes)
	if err != nil {
		b.hostAlloc.Free(b.host)
		return nil, errors.WithMessagef(err, "staging buffer of %d elements", n)
	}
	return b, nil
}

func (b *Buffer[T]) elementSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Len returns the number of values in the buffer.
func (b *Buffer[T]) Len() int { return b.n }

// view returns chunk as a []T.
func (b *Buffer[T]) view(chunk *memory.Chunk) []T {
	if b.n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&chunk.Bytes()[0])), b.n)
}

// HostSpan returns the mutable host values, to be filled before CopyToDevice.
func (b *Buffer[T]) HostSpan() []T { return b.view(b.host) }

// DeviceSpan returns the values in device memory. It must only be accessed by device work (e.g.: inside a
// kernel launched on the stream after CopyToDevice).
func (b *Buffer[T]) DeviceSpan() []T { return b.view(b.device) }

// Device returns the device memory chunk.
func (b *Buffer[T]) Device() *memory.Chunk { return b.device }

// CopyToDevice enqueues the upload of the host values to the device on stream. It doesn't block.
func (b *Buffer[T]) CopyToDevice(stream backends.Stream) error {
	if b.n == 0 {
		return nil
	}
	return stream.MemcpyAsync(b.device, b.host)
}

// Release frees both sides of the buffer. If stream is not nil, the memory is freed only after all the work
// already enqueued on stream is done, so it can be called right after a launch that reads the device side.
//
// It's safe to call more than once.
func (b *Buffer[T]) Release(stream backends.Stream) {
	if b == nil || b.released {
		return
	}
	b.released = true
	if b.n == 0 {
		return
	}
	if stream != nil {
		stream.FreeAsync(b.hostAlloc, b.host)
		stream.FreeAsync(b.deviceAlloc, b.device)
		return
	}
	b.hostAlloc.Free(b.host)
	b.deviceAlloc.Free(b.device)
}

// FromSlice allocates a Buffer with a copy of values on the host side, and enqueues its upload on stream.
// On error nothing is left allocated.
func FromSlice[T any](provider AllocatorProvider, stream backends.Stream, values []T) (*Buffer[T], error) {
	b, err := New[T](provider, len(values))
	if err != nil {
		return nil, err
	}
	copy(b.HostSpan(), values)
	if err = b.CopyToDevice(stream); err != nil {
		b.Release(stream)
		return nil, err
	}
	return b, nil
}
