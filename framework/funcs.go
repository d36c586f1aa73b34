// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"sync"

	"github.com/gomlx/kernelrt/pkg/core/status"
)

// FunctionState is the opaque state created for a fused function.
type FunctionState any

// ComputeFunc executes a fused subgraph.
type ComputeFunc func(state FunctionState, ctx *KernelContext) error

// CreateStateFunc creates the state of a fused function for a kernel instance.
type CreateStateFunc func(info *KernelInfo) (FunctionState, error)

// DestroyStateFunc releases the state created by CreateStateFunc.
type DestroyStateFunc func(state FunctionState)

// FusedFuncs is the triple of functions implementing a fused subgraph, supplied externally (by the
// provider that fused the nodes) instead of by a registered kernel.
type FusedFuncs struct {
	Compute ComputeFunc
	Create  CreateStateFunc
	Destroy DestroyStateFunc
}

// FuncManager holds the FusedFuncs of the session, indexed by node name.
// It is safe for concurrent use.
type FuncManager struct {
	mu    sync.RWMutex
	funcs map[string]FusedFuncs
}

// NewFuncManager creates an empty FuncManager.
func NewFuncManager() *FuncManager {
	return &FuncManager{funcs: make(map[string]FusedFuncs)}
}

// Add the fused functions for the named node. Compute is required.
func (m *FuncManager) Add(nodeName string, funcs FusedFuncs) error {
	if funcs.Compute == nil {
		return status.Errorf(status.InvalidArgument, "fused functions for node %q require a Compute function", nodeName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.funcs[nodeName]; found {
		return status.Errorf(status.InvalidArgument, "fused functions for node %q already registered", nodeName)
	}
	m.funcs[nodeName] = funcs
	return nil
}

// Get returns the fused functions of the named node, or a status.NotFound error.
func (m *FuncManager) Get(nodeName string) (FusedFuncs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	funcs, found := m.funcs[nodeName]
	if !found {
		return funcs, status.Errorf(status.NotFound, "no fused functions for node %q", nodeName)
	}
	return funcs, nil
}
