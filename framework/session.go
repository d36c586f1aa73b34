// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
)

// ValueNameIdxMap assigns a dense index to each named value of a session.
//
// It is populated while the session is built, and read-only afterward.
type ValueNameIdxMap struct {
	nameToIdx map[string]int
	idxToName []string
}

// NewValueNameIdxMap creates an empty map.
func NewValueNameIdxMap() *ValueNameIdxMap {
	return &ValueNameIdxMap{nameToIdx: make(map[string]int)}
}

// Add returns the index of name, assigning a new one if it's not yet known.
func (m *ValueNameIdxMap) Add(name string) int {
	if idx, found := m.nameToIdx[name]; found {
		return idx
	}
	idx := len(m.idxToName)
	m.nameToIdx[name] = idx
	m.idxToName = append(m.idxToName, name)
	return idx
}

// Index returns the index of name, or a status.NotFound error.
func (m *ValueNameIdxMap) Index(name string) (int, error) {
	idx, found := m.nameToIdx[name]
	if !found {
		return -1, status.Errorf(status.NotFound, "unknown value name %q", name)
	}
	return idx, nil
}

// Name returns the name of the value with the given index, or a status.NotFound error.
func (m *ValueNameIdxMap) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(m.idxToName) {
		return "", status.Errorf(status.NotFound, "unknown value index %d", idx)
	}
	return m.idxToName[idx], nil
}

// Len returns the number of values.
func (m *ValueNameIdxMap) Len() int { return len(m.idxToName) }

// SessionTables are the session-owned resources kernels borrow through their KernelInfo.
//
// The tables are populated while the session is built, before any kernel is created, and must outlive all
// kernels created from them. After that, they are only read, and it's safe to create kernels concurrently.
type SessionTables struct {
	Allocators    *memory.Registry
	ValueNames    *ValueNameIdxMap
	Constants     map[int]*tensors.Tensor // Constant-initialized tensors, indexed by value index.
	Funcs         *FuncManager
	DataTransfers *DataTransferManager
}

// NewSessionTables creates empty session tables.
func NewSessionTables() *SessionTables {
	return &SessionTables{
		Allocators:    memory.NewRegistry(),
		ValueNames:    NewValueNameIdxMap(),
		Constants:     make(map[int]*tensors.Tensor),
		Funcs:         NewFuncManager(),
		DataTransfers: NewDataTransferManager(),
	}
}

// AddConstant registers a constant-initialized value, and returns its value index.
func (t *SessionTables) AddConstant(name string, value *tensors.Tensor) int {
	idx := t.ValueNames.Add(name)
	t.Constants[idx] = value
	return idx
}
