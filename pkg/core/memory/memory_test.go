// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"
	"testing"

	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	pinned := Info{Name: "SimPinned", DeviceType: DeviceAccelerator, DeviceNum: 1, MemType: MemTypeCPUInput}
	assert.True(t, pinned.IsHostAccessible())
	assert.Equal(t, "SimPinned(Accelerator:1, CPUInput)", pinned.String())

	device := Info{Name: "Sim", DeviceType: DeviceAccelerator, DeviceNum: 1, MemType: MemTypeDefault}
	assert.False(t, device.IsHostAccessible())
	assert.True(t, NewHostAllocator().Info().IsHostAccessible())
	assert.Equal(t, MemTypeCPUOutput, MemTypeCPU)
}

func TestPoolAllocator(t *testing.T) {
	info := Info{Name: "Test", DeviceType: DeviceAccelerator, MemType: MemTypeDefault}
	allocator := NewPoolAllocator(info, 100)

	chunk, err := allocator.Alloc(60)
	require.NoError(t, err)
	require.Equal(t, 60, chunk.Len())
	require.Equal(t, info, chunk.Info())

	_, err = allocator.Alloc(41)
	require.Error(t, err)
	require.Equal(t, status.OutOfMemory, status.CodeOf(err))

	empty, err := allocator.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())

	stats := allocator.Stats()
	assert.Equal(t, int64(2), stats.NumAllocs)
	assert.Equal(t, int64(1), stats.NumFailedAllocations)
	assert.Equal(t, int64(60), stats.BytesInUse)
	assert.Equal(t, int64(60), stats.PeakBytes)
	assert.Equal(t, int64(100), stats.Limit)

	allocator.Free(chunk)
	allocator.Free(empty)
	assert.True(t, chunk.IsFreed())
	require.Panics(t, func() { allocator.Free(chunk) })
	require.Panics(t, func() { NewHostAllocator().Free(NewChunk(nil, info)) })

	stats = allocator.Stats()
	assert.Equal(t, int64(0), stats.BytesInUse)
	assert.Equal(t, int64(2), stats.NumFrees)

	_, err = allocator.Alloc(-1)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestPoolAllocatorConcurrent(t *testing.T) {
	allocator := NewPoolAllocator(Info{Name: "Test"}, 0)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ii := range 100 {
				chunk, err := allocator.Alloc(8 * (ii%4 + 1))
				if err != nil {
					panic(err)
				}
				allocator.Free(chunk)
			}
		}()
	}
	wg.Wait()
	stats := allocator.Stats()
	assert.Equal(t, int64(1600), stats.NumAllocs)
	assert.Equal(t, int64(1600), stats.NumFrees)
	assert.Equal(t, int64(0), stats.BytesInUse)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	deviceAllocator := NewPoolAllocator(Info{Name: "Sim", DeviceType: DeviceAccelerator, DeviceNum: 0, MemType: MemTypeDefault}, 0)
	pinnedAllocator := NewPoolAllocator(Info{Name: "SimPinned", DeviceType: DeviceAccelerator, DeviceNum: 0, MemType: MemTypeCPUInput}, 0)
	require.NoError(t, registry.Register(deviceAllocator))
	require.NoError(t, registry.Register(pinnedAllocator))
	require.Error(t, registry.Register(deviceAllocator))

	got, err := registry.Get(0, MemTypeCPUInput)
	require.NoError(t, err)
	require.Same(t, pinnedAllocator, got)

	info, err := registry.Info(0, MemTypeDefault)
	require.NoError(t, err)
	require.Equal(t, "Sim", info.Name)

	_, err = registry.Get(1, MemTypeDefault)
	require.Equal(t, status.NotFound, status.CodeOf(err))
	_, err = registry.Info(0, MemTypeCPUOutput)
	require.Equal(t, status.NotFound, status.CodeOf(err))
	require.Len(t, registry.All(), 2)
}
