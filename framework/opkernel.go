// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/pkg/core/shapes"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpKernel is a kernel instance created for one node on one device.
//
// Compute may be called concurrently (on different streams), so implementations must not mutate their
// state during Compute.
type OpKernel interface {
	Compute(ctx *KernelContext) error
}

// KernelContext is the context of one kernel invocation: the input tensors (borrowed), the outputs
// allocated so far, and the stream where device work is enqueued.
//
// It is not safe for concurrent use.
type KernelContext struct {
	info    *KernelInfo
	stream  backends.Stream
	inputs  []*tensors.Tensor
	outputs []*tensors.Tensor
}

// NewKernelContext creates the context for one invocation of a kernel built with info.
// Omitted optional inputs are given as nil.
func NewKernelContext(info *KernelInfo, stream backends.Stream, inputs ...*tensors.Tensor) *KernelContext {
	return &KernelContext{info: info, stream: stream, inputs: inputs}
}

// KernelInfo returns the construction context of the kernel.
func (ctx *KernelContext) KernelInfo() *KernelInfo { return ctx.info }

// Stream where the invocation enqueues its device work.
func (ctx *KernelContext) Stream() backends.Stream { return ctx.stream }

// InputCount returns the number of inputs given, including omitted (nil) ones.
func (ctx *KernelContext) InputCount() int { return len(ctx.inputs) }

// Input returns input i, or nil if it was omitted or is out of range. The tensor is borrowed.
func (ctx *KernelContext) Input(i int) *tensors.Tensor {
	if i < 0 || i >= len(ctx.inputs) {
		return nil
	}
	return ctx.inputs[i]
}

// Output allocates output i with the given shape, in the memory type declared by the KernelDef, on the
// kernel's device.
//
// The returned tensor is owned by the caller of the invocation (see Outputs) after Compute succeeds.
func (ctx *KernelContext) Output(i int, shape shapes.Shape) (*tensors.Tensor, error) {
	if i < 0 {
		return nil, status.Errorf(status.InvalidArgument, "invalid output index %d", i)
	}
	if i < len(ctx.outputs) && ctx.outputs[i] != nil {
		return nil, status.Errorf(status.InvalidArgument, "output %d of %s already allocated", i, ctx.info.Node())
	}
	memType := ctx.info.GetKernelDef().OutputMemoryType(i)
	allocator, err := ctx.info.GetAllocator(ctx.info.GetDeviceNum(), memType)
	if err != nil {
		return nil, err
	}
	output, err := tensors.New(allocator, shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "allocating output %d of %s", i, ctx.info.Node())
	}
	for len(ctx.outputs) <= i {
		ctx.outputs = append(ctx.outputs, nil)
	}
	ctx.outputs[i] = output
	return output, nil
}

// Outputs returns the outputs allocated so far. Not allocated outputs are nil.
func (ctx *KernelContext) Outputs() []*tensors.Tensor { return ctx.outputs }

// releaseOutputs waits for the work already enqueued, and releases all outputs.
func (ctx *KernelContext) releaseOutputs() {
	if ctx.stream != nil {
		_ = ctx.stream.Synchronize()
	}
	for i, output := range ctx.outputs {
		output.Release()
		ctx.outputs[i] = nil
	}
	ctx.outputs = nil
}

// Run calls kernel.Compute, and if it fails releases the outputs allocated so no partial result is left visible.
func Run(kernel OpKernel, ctx *KernelContext) error {
	err := kernel.Compute(ctx)
	if err != nil {
		if klog.V(1).Enabled() {
			klog.Infof("kernel for %s failed: %v", ctx.info.Node(), err)
		}
		ctx.releaseOutputs()
		return err
	}
	return nil
}
