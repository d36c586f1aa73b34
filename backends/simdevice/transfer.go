// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
)

// dataTransfer implements backends.DataTransfer between host memory and the simulated devices (including
// peer-to-peer between devices).
type dataTransfer struct {
	backend *Backend
}

var _ backends.DataTransfer = (*dataTransfer)(nil)

func (t *dataTransfer) accessible(info memory.Info) bool {
	if info.DeviceType == memory.DeviceCPU {
		return true
	}
	return info.DeviceNum >= 0 && info.DeviceNum < t.backend.NumDevices() && (info.Name == "Sim" || info.Name == "SimPinned")
}

// CanCopy implements backends.DataTransfer.
func (t *dataTransfer) CanCopy(src, dst memory.Info) bool {
	return t.accessible(src) && t.accessible(dst) &&
		(src.DeviceType == memory.DeviceAccelerator || dst.DeviceType == memory.DeviceAccelerator)
}

// CopyTensor implements backends.DataTransfer.
func (t *dataTransfer) CopyTensor(src, dst *tensors.Tensor, stream backends.Stream) error {
	if !src.Shape().Equal(dst.Shape()) {
		return status.Errorf(status.InvalidArgument, "sim backend: can't copy tensor of shape %s to tensor of shape %s",
			src.Shape(), dst.Shape())
	}
	if !t.CanCopy(src.Location(), dst.Location()) {
		return status.Errorf(status.InvalidArgument, "sim backend: can't copy from %s to %s", src.Location(), dst.Location())
	}
	if stream != nil {
		return stream.MemcpyAsync(dst.Chunk(), src.Chunk())
	}
	copy(dst.Bytes(), src.Bytes())
	return nil
}
