// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package framework implements the kernel execution core: the metadata describing kernels (KernelDef),
// the graph nodes they implement (Node), the read-only context a kernel is built with (KernelInfo), the
// per-invocation context (KernelContext) and the registry that creates kernels for nodes.
//
// Kernels don't own any of the session resources: a KernelInfo only borrows the SessionTables, and must
// not outlive them.
package framework

import (
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
)

// KernelInfo is a lightweight, read-only aggregated view of all data needed to construct a kernel instance:
// its node, its KernelDef, the device it is bound to, and the session tables (allocators, constant
// initializers, fused functions and data transfers).
//
// It doesn't own any of the objects it refers to. Many KernelInfo can be created concurrently from the same
// SessionTables, and since there are no mutating methods, one KernelInfo can be used concurrently.
type KernelInfo struct {
	node      *Node
	kernelDef *KernelDef
	deviceNum int
	tables    *SessionTables
}

// NewKernelInfo creates the KernelInfo for a kernel implementing node on the given device.
func NewKernelInfo(node *Node, kernelDef *KernelDef, deviceNum int, tables *SessionTables) *KernelInfo {
	return &KernelInfo{node: node, kernelDef: kernelDef, deviceNum: deviceNum, tables: tables}
}

// Clone returns a copy of the KernelInfo referring to the same node, definition and session tables.
// It doesn't allocate.
func (info *KernelInfo) Clone() KernelInfo {
	return *info
}

// GetMemoryInfo returns the memory space for the (device, memory type) pair, or a status.NotFound error if
// there is no allocator registered for it.
func (info *KernelInfo) GetMemoryInfo(deviceNum int, memType memory.MemType) (memory.Info, error) {
	return info.tables.Allocators.Info(deviceNum, memType)
}

// GetAllocator returns the allocator for the (device, memory type) pair, or a status.NotFound error.
// The allocator is owned by the session.
func (info *KernelInfo) GetAllocator(deviceNum int, memType memory.MemType) (memory.Allocator, error) {
	return info.tables.Allocators.Get(deviceNum, memType)
}

// GetKernelDef returns the definition the kernel was matched against.
func (info *KernelInfo) GetKernelDef() *KernelDef { return info.kernelDef }

// GetDataTransferManager returns the session's DataTransferManager.
func (info *KernelInfo) GetDataTransferManager() *DataTransferManager { return info.tables.DataTransfers }

// Node returns the graph node the kernel implements.
func (info *KernelInfo) Node() *Node { return info.node }

// GetDeviceNum returns the device the kernel is bound to.
func (info *KernelInfo) GetDeviceNum() int { return info.deviceNum }

// TryGetConstantInput returns the value of input inputIdx if it was resolved to a constant at session build
// time. The tensor is borrowed for the lifetime of the session.
//
// Returning false is not an error: it means the input must be read at execution time.
func (info *KernelInfo) TryGetConstantInput(inputIdx int) (*tensors.Tensor, bool) {
	if !info.node.InputExists(inputIdx) {
		return nil, false
	}
	valueIdx, err := info.tables.ValueNames.Index(info.node.InputDefs()[inputIdx])
	if err != nil {
		return nil, false
	}
	value, found := info.tables.Constants[valueIdx]
	return value, found
}

// GetFusedFuncs returns the functions implementing the node as a fused subgraph, or a status.NotFound error
// if the node has none.
func (info *KernelInfo) GetFusedFuncs() (FusedFuncs, error) {
	return info.tables.Funcs.Get(info.node.Name())
}

// GetAttrInt returns the value of an int attribute of the node.
func (info *KernelInfo) GetAttrInt(name string) (int64, error) { return info.node.GetAttrInt(name) }

// GetAttrInts returns the value of an ints attribute of the node.
func (info *KernelInfo) GetAttrInts(name string) ([]int64, error) { return info.node.GetAttrInts(name) }

// GetAttrIntsOr returns the value of an ints attribute of the node, or defaultValue.
func (info *KernelInfo) GetAttrIntsOr(name string, defaultValue []int64) []int64 {
	return info.node.GetAttrIntsOr(name, defaultValue)
}

// GetAttrFloat returns the value of a float attribute of the node.
func (info *KernelInfo) GetAttrFloat(name string) (float32, error) { return info.node.GetAttrFloat(name) }

// GetAttrString returns the value of a string attribute of the node.
func (info *KernelInfo) GetAttrString(name string) (string, error) { return info.node.GetAttrString(name) }
