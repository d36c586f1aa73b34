// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"sync"

	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CreateKernelFunc creates a kernel instance from its construction context.
type CreateKernelFunc func(info *KernelInfo) (OpKernel, error)

// KernelCreateInfo pairs a KernelDef with the function that creates its kernels.
type KernelCreateInfo struct {
	Def    *KernelDef
	Create CreateKernelFunc
}

type kernelKey struct {
	opName, domain, provider string
}

// KernelRegistry indexes kernel implementations by operator name, domain, version range and provider.
// It is safe for concurrent use.
type KernelRegistry struct {
	mu      sync.RWMutex
	kernels map[kernelKey][]KernelCreateInfo
}

// NewKernelRegistry creates an empty KernelRegistry.
func NewKernelRegistry() *KernelRegistry {
	return &KernelRegistry{kernels: make(map[kernelKey][]KernelCreateInfo)}
}

// Register a kernel implementation. It fails with status.InvalidArgument if create is nil.
func (r *KernelRegistry) Register(def *KernelDef, create CreateKernelFunc) error {
	if def == nil || create == nil {
		return status.Errorf(status.InvalidArgument, "KernelRegistry.Register requires a KernelDef and a CreateKernelFunc")
	}
	key := kernelKey{opName: def.OpName(), domain: def.Domain(), provider: def.Provider()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels[key] = append(r.kernels[key], KernelCreateInfo{Def: def, Create: create})
	klog.V(2).Infof("registered kernel %s", def)
	return nil
}

// Lookup the kernel implementing node for the given provider: the first registered one matching the node's
// version and input types. It returns a status.NotFound error if there is none.
func (r *KernelRegistry) Lookup(node *Node, provider string) (KernelCreateInfo, error) {
	key := kernelKey{opName: node.OpType(), domain: node.Domain(), provider: provider}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, candidate := range r.kernels[key] {
		if candidate.Def.MatchesVersion(node.SinceVersion()) && candidate.Def.MatchesInputTypes(node.InputTypes()) {
			return candidate, nil
		}
	}
	return KernelCreateInfo{}, status.Errorf(status.NotFound, "no kernel registered for node %s (domain %q) on provider %q",
		node, node.Domain(), provider)
}

// Create looks up the kernel for node and provider, and creates an instance bound to deviceNum, borrowing
// the session tables.
func (r *KernelRegistry) Create(node *Node, provider string, tables *SessionTables, deviceNum int) (OpKernel, error) {
	createInfo, err := r.Lookup(node, provider)
	if err != nil {
		return nil, err
	}
	info := NewKernelInfo(node, createInfo.Def, deviceNum, tables)
	kernel, err := createInfo.Create(info)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating kernel %s for node %s", createInfo.Def, node)
	}
	klog.V(1).Infof("created kernel %s for node %s on device %d", createInfo.Def, node, deviceNum)
	return kernel, nil
}
