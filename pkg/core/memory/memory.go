// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memory describes memory spaces (Info), the Allocator interface used by kernels to obtain
// scratch and output buffers on the right device, and a Registry mapping (device, memory type)
// pairs to allocators.
package memory

import (
	"fmt"
	"sync/atomic"
)

// DeviceType is the kind of device a memory space belongs to.
type DeviceType int

const (
	// DeviceCPU is host memory, directly addressable by the calling goroutine.
	DeviceCPU DeviceType = iota

	// DeviceAccelerator is memory owned by an accelerator: kernels only access it through its streams.
	DeviceAccelerator
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case DeviceCPU:
		return "CPU"
	case DeviceAccelerator:
		return "Accelerator"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// MemType selects among the memory kinds a device provides.
//
// The values match the exchange-format runtime convention: non-negative values are device
// memory, negative values are host memory used as device input/output.
type MemType int

const (
	// MemTypeCPUInput is host memory (pinned, if the device supports it) used as input to a device kernel.
	// Small index tensors, like slicing parameters, are pinned to this memory type.
	MemTypeCPUInput MemType = -2

	// MemTypeCPUOutput is host memory (pinned, if the device supports it) a device kernel writes to.
	MemTypeCPUOutput MemType = -1

	// MemTypeCPU is an alias to MemTypeCPUOutput, the generic host memory of a device.
	MemTypeCPU = MemTypeCPUOutput

	// MemTypeDefault is the device's own memory.
	MemTypeDefault MemType = 0
)

// String implements fmt.Stringer.
func (m MemType) String() string {
	switch m {
	case MemTypeCPUInput:
		return "CPUInput"
	case MemTypeCPUOutput:
		return "CPUOutput"
	case MemTypeDefault:
		return "Default"
	default:
		return fmt.Sprintf("MemType(%d)", int(m))
	}
}

// IsHost returns whether the memory type refers to host memory.
func (m MemType) IsHost() bool {
	return m < MemTypeDefault
}

// Info identifies a memory space: which device, and which kind of memory of that device.
type Info struct {
	// Name of the allocator, e.g.: "Sim", "SimPinned" or "Cpu".
	Name string

	DeviceType DeviceType
	DeviceNum  int
	MemType    MemType
}

// String implements fmt.Stringer.
func (info Info) String() string {
	return fmt.Sprintf("%s(%s:%d, %s)", info.Name, info.DeviceType, info.DeviceNum, info.MemType)
}

// IsHostAccessible returns whether the memory can be read and written directly by the host.
func (info Info) IsHostAccessible() bool {
	return info.DeviceType == DeviceCPU || info.MemType.IsHost()
}

// Chunk is a contiguous region of memory handed out by an Allocator.
//
// For host-accessible memory, Bytes can be used directly. For accelerator memory the bytes must only be
// touched by work enqueued on one of the device's streams.
type Chunk struct {
	data  []byte
	info  Info
	freed atomic.Bool
}

// NewChunk wraps data as a Chunk living in the memory space described by info.
// It is used by Allocator implementations.
func NewChunk(data []byte, info Info) *Chunk {
	return &Chunk{data: data, info: info}
}

// Bytes returns the underlying memory.
func (c *Chunk) Bytes() []byte { return c.data }

// Len returns the size in bytes of the chunk.
func (c *Chunk) Len() int { return len(c.data) }

// Info returns the memory space of the chunk.
func (c *Chunk) Info() Info { return c.info }

// IsFreed returns whether the chunk was already returned to its allocator.
func (c *Chunk) IsFreed() bool { return c.freed.Load() }

// MarkFreed flags the chunk as freed and returns whether it was still live.
// Allocator implementations use it to detect double frees.
func (c *Chunk) MarkFreed() bool { return c.freed.CompareAndSwap(false, true) }

// Stats reports the usage of an Allocator.
type Stats struct {
	NumAllocs            int64
	NumFrees             int64
	NumFailedAllocations int64
	BytesInUse           int64
	PeakBytes            int64
	TotalAllocatedBytes  int64

	// Limit in bytes, 0 means no limit.
	Limit int64
}

// Allocator hands out memory chunks in one memory space.
//
// Implementations must be safe for concurrent use: kernels running on different streams share
// the same allocators.
type Allocator interface {
	// Info describes the memory space this allocator serves.
	Info() Info

	// Alloc returns a chunk of nbytes. It fails with an OutOfMemory status if the memory can't be provided.
	// A zero-sized allocation returns a valid empty chunk.
	Alloc(nbytes int) (*Chunk, error)

	// Free returns the chunk to the allocator. Freeing a chunk twice is a bug and panics.
	Free(chunk *Chunk)

	// Stats returns a snapshot of the allocator usage.
	Stats() Stats
}
