// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/gomlx/kernelrt/pkg/core/status"
)

type registryKey struct {
	deviceNum int
	memType   MemType
}

// Registry maps (device number, memory type) pairs to the Allocator serving them.
//
// It is owned by the session: kernels get shared handles to its allocators, and never
// outlive it. All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	allocators map[registryKey]Allocator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{allocators: make(map[registryKey]Allocator)}
}

// Register allocator for the (device number, memory type) described by its Info.
// It fails if an allocator was already registered for the pair.
func (r *Registry) Register(allocator Allocator) error {
	info := allocator.Info()
	key := registryKey{deviceNum: info.DeviceNum, memType: info.MemType}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, found := r.allocators[key]; found {
		return status.Errorf(status.InvalidArgument, "allocator for device %d, memory type %s already registered (%s)",
			info.DeviceNum, info.MemType, previous.Info())
	}
	r.allocators[key] = allocator
	return nil
}

// Get returns the allocator for the (device number, memory type) pair, or a status.NotFound error.
func (r *Registry) Get(deviceNum int, memType MemType) (Allocator, error) {
	r.mu.RLock()
	allocator, found := r.allocators[registryKey{deviceNum: deviceNum, memType: memType}]
	r.mu.RUnlock()
	if !found {
		return nil, status.Errorf(status.NotFound, "no allocator registered for device %d, memory type %s", deviceNum, memType)
	}
	return allocator, nil
}

// Info returns the memory Info for the (device number, memory type) pair, or a status.NotFound error.
func (r *Registry) Info(deviceNum int, memType MemType) (Info, error) {
	allocator, err := r.Get(deviceNum, memType)
	if err != nil {
		return Info{}, err
	}
	return allocator.Info(), nil
}

// All returns all registered allocators, in no particular order.
func (r *Registry) All() []Allocator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Allocator, 0, len(r.allocators))
	for _, allocator := range r.allocators {
		all = append(all, allocator)
	}
	return all
}
