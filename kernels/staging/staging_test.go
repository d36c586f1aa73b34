// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package staging

import (
	"testing"

	"github.com/gomlx/kernelrt/backends/simdevice"
	"github.com/gomlx/kernelrt/internal/fastdivmod"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type simProvider struct {
	backend   *simdevice.Backend
	deviceNum int
}

func (p simProvider) GetDeviceNum() int { return p.deviceNum }

func (p simProvider) GetAllocator(deviceNum int, memType memory.MemType) (memory.Allocator, error) {
	return p.backend.DeviceAllocator(deviceNum, memType)
}

func TestBuffer(t *testing.T) {
	backend := must.M1(simdevice.New("devices=2"))
	defer backend.Finalize()
	provider := simProvider{backend: backend, deviceNum: 1}
	deviceMem := must.M1(backend.DeviceAllocator(1, memory.MemTypeDefault))
	pinned := must.M1(backend.DeviceAllocator(1, memory.MemTypeCPUInput))
	stream := must.M1(backend.NewStream(1))
	defer func() { require.NoError(t, stream.Close()) }()

	starts, err := New[int64](provider, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, starts.Len())
	copy(starts.HostSpan(), []int64{1, -2, 3})
	assert.Equal(t, int64(24), deviceMem.Stats().BytesInUse)
	assert.Equal(t, int64(24), pinned.Stats().BytesInUse)

	pitches, err := FromSlice(provider, stream, fastdivmod.FromPitches([]int{12, 4, 1}))
	require.NoError(t, err)
	require.NoError(t, starts.CopyToDevice(stream))

	// A kernel reading the device side.
	var got []int64
	var gotDivisors []int32
	require.NoError(t, stream.Launch("read", 1, func(start, end int) {
		got = append(got, starts.DeviceSpan()...)
		for _, dm := range pitches.DeviceSpan() {
			gotDivisors = append(gotDivisors, dm.Divisor)
		}
	}))
	starts.Release(stream)
	pitches.Release(stream)
	starts.Release(stream)
	require.NoError(t, stream.Synchronize())
	assert.Equal(t, []int64{1, -2, 3}, got)
	assert.Equal(t, []int32{12, 4, 1}, gotDivisors)
	assert.Equal(t, int64(0), deviceMem.Stats().BytesInUse)
	assert.Equal(t, int64(0), pinned.Stats().BytesInUse)

	// Empty buffers don't allocate.
	numAllocs := deviceMem.Stats().NumAllocs
	empty, err := New[int64](provider, 0)
	require.NoError(t, err)
	assert.Empty(t, empty.HostSpan())
	require.NoError(t, empty.CopyToDevice(stream))
	empty.Release(nil)
	assert.Equal(t, numAllocs, deviceMem.Stats().NumAllocs)

	// Synchronous release.
	b := must.M1(New[int32](provider, 10))
	b.Release(nil)
	assert.Equal(t, int64(0), deviceMem.Stats().BytesInUse)
}

func TestBufferErrors(t *testing.T) {
	backend := must.M1(simdevice.New("memory=64B"))
	defer backend.Finalize()
	pinned := must.M1(backend.DeviceAllocator(0, memory.MemTypeCPUInput))

	// Device out of memory: the host side must be freed.
	_, err := New[int64](simProvider{backend: backend}, 10)
	require.Error(t, err)
	assert.Equal(t, status.OutOfMemory, status.CodeOf(err))
	assert.Equal(t, int64(0), pinned.Stats().BytesInUse)

	_, err = New[int64](simProvider{backend: backend, deviceNum: 3}, 1)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}
