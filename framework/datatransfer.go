// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"runtime"
	"sync"

	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// DataTransferManager routes tensor copies across memory spaces to the registered backends.DataTransfer able
// to perform them. Copies between two host memory spaces are done directly.
//
// It is safe for concurrent use.
type DataTransferManager struct {
	mu        sync.RWMutex
	transfers []backends.DataTransfer
}

// NewDataTransferManager creates an empty DataTransferManager.
func NewDataTransferManager() *DataTransferManager {
	return &DataTransferManager{}
}

// Register a data transfer implementation. Earlier registrations take precedence.
func (m *DataTransferManager) Register(transfer backends.DataTransfer) error {
	if transfer == nil {
		return status.Errorf(status.InvalidArgument, "DataTransferManager.Register(nil)")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, transfer)
	return nil
}

// Find the data transfer able to copy from src to dst, or nil if none is registered.
func (m *DataTransferManager) Find(src, dst memory.Info) backends.DataTransfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, transfer := range m.transfers {
		if transfer.CanCopy(src, dst) {
			return transfer
		}
	}
	return nil
}

// CopyTensor copies src to dst, which must have the same shape. If stream is not nil, the copy may be
// asynchronous on the stream.
func (m *DataTransferManager) CopyTensor(src, dst *tensors.Tensor, stream backends.Stream) error {
	if src == nil || dst == nil {
		return status.Errorf(status.InvalidArgument, "CopyTensor requires non-nil source and destination")
	}
	if !src.Shape().Equal(dst.Shape()) {
		return status.Errorf(status.InvalidArgument, "CopyTensor: source shape %s and destination shape %s differ",
			src.Shape(), dst.Shape())
	}
	srcInfo, dstInfo := src.Location(), dst.Location()
	if srcInfo.DeviceType == memory.DeviceCPU && dstInfo.DeviceType == memory.DeviceCPU {
		copy(dst.Bytes(), src.Bytes())
		return nil
	}
	transfer := m.Find(srcInfo, dstInfo)
	if transfer == nil {
		return status.Errorf(status.NotFound, "no data transfer registered to copy from %s to %s", srcInfo, dstInfo)
	}
	if klog.V(2).Enabled() {
		klog.Infof("CopyTensor %s: %s -> %s", src.Shape(), srcInfo, dstInfo)
	}
	return transfer.CopyTensor(src, dst, stream)
}

// TensorPair is a source and destination for CopyTensors.
type TensorPair struct {
	Src, Dst *tensors.Tensor
}

// CopyTensors copies a batch of tensors, issuing the copies concurrently. It returns the first error.
func (m *DataTransferManager) CopyTensors(pairs []TensorPair, stream backends.Stream) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, pair := range pairs {
		g.Go(func() error {
			return m.CopyTensor(pair.Src, pair.Dst, stream)
		})
	}
	return g.Wait()
}
