// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelrt/pkg/core/status"
)

// PoolAllocator is an Allocator backed by Go memory, that recycles freed chunks through pools
// keyed by size.
//
// It optionally enforces a limit on the number of bytes in use, in which case allocations beyond
// the limit fail with status.OutOfMemory. It is used both for host memory and as the backing store of
// simulated device memory.
type PoolAllocator struct {
	info  Info
	limit int64

	// pools is a map of chunk length to *sync.Pool of []byte.
	pools sync.Map

	numAllocs, numFrees, numFailed atomic.Int64
	bytesInUse, peakBytes, total   atomic.Int64
}

var _ Allocator = (*PoolAllocator)(nil)

// NewPoolAllocator creates a PoolAllocator for the memory space info.
// If limit > 0, the number of bytes in use at any time is limited to it.
func NewPoolAllocator(info Info, limit int64) *PoolAllocator {
	return &PoolAllocator{info: info, limit: limit}
}

// NewHostAllocator returns an unlimited PoolAllocator for plain host memory.
func NewHostAllocator() *PoolAllocator {
	return NewPoolAllocator(Info{Name: "Cpu", DeviceType: DeviceCPU, MemType: MemTypeDefault}, 0)
}

// Info implements Allocator.
func (a *PoolAllocator) Info() Info { return a.info }

// getPool for chunks of the given length.
func (a *PoolAllocator) getPool(length int) *sync.Pool {
	pool, ok := a.pools.Load(length)
	if !ok {
		pool, _ = a.pools.LoadOrStore(length, &sync.Pool{
			New: func() any {
				return make([]byte, length)
			},
		})
	}
	return pool.(*sync.Pool)
}

// Alloc implements Allocator.
func (a *PoolAllocator) Alloc(nbytes int) (*Chunk, error) {
	if nbytes < 0 {
		return nil, status.Errorf(status.InvalidArgument, "%s: cannot allocate a negative number of bytes (%d)", a.info, nbytes)
	}
	size := int64(nbytes)
	inUse := a.bytesInUse.Add(size)
	if a.limit > 0 && inUse > a.limit {
		a.bytesInUse.Add(-size)
		a.numFailed.Add(1)
		return nil, status.Errorf(status.OutOfMemory, "%s: failed to allocate %s, %s in use out of a limit of %s",
			a.info, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(inUse-size)), humanize.IBytes(uint64(a.limit)))
	}
	for {
		peak := a.peakBytes.Load()
		if inUse <= peak || a.peakBytes.CompareAndSwap(peak, inUse) {
			break
		}
	}
	a.numAllocs.Add(1)
	a.total.Add(size)
	var data []byte
	if nbytes > 0 {
		data = a.getPool(nbytes).Get().([]byte)
	}
	return NewChunk(data, a.info), nil
}

// Free implements Allocator.
func (a *PoolAllocator) Free(chunk *Chunk) {
	if chunk == nil {
		return
	}
	if chunk.info != a.info {
		exceptions.Panicf("%s: cannot free chunk allocated by %s", a.info, chunk.info)
	}
	if !chunk.MarkFreed() {
		exceptions.Panicf("%s: chunk of %d bytes freed twice", a.info, chunk.Len())
	}
	a.numFrees.Add(1)
	a.bytesInUse.Add(-int64(chunk.Len()))
	if chunk.Len() > 0 {
		a.getPool(chunk.Len()).Put(chunk.data) //nolint:staticcheck // Slices are what we pool.
	}
	chunk.data = nil
}

// Stats implements Allocator.
func (a *PoolAllocator) Stats() Stats {
	return Stats{
		NumAllocs:            a.numAllocs.Load(),
		NumFrees:             a.numFrees.Load(),
		NumFailedAllocations: a.numFailed.Load(),
		BytesInUse:           a.bytesInUse.Load(),
		PeakBytes:            a.peakBytes.Load(),
		TotalAllocatedBytes:  a.total.Load(),
		Limit:                a.limit,
	}
}
