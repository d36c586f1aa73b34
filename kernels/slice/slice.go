// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package slice implements the strided "Slice" kernel: it extracts a sub-tensor given per-axis starts, ends
// and steps, either fixed as node attributes (versions 1 to 9) or given as runtime inputs (version 10 and above).
//
// Parameters are resolved on the host (see PrepareForCompute), staged to the device together with the
// input and output pitches, and a device gather copies each output element from its input location.
package slice

import (
	"slices"

	"github.com/gomlx/kernelrt/framework"
	"github.com/gomlx/kernelrt/internal/fastdivmod"
	"github.com/gomlx/kernelrt/kernels/staging"
	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/shapes"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InputAccessor returns the tensor to be sliced for an invocation.
type InputAccessor func(ctx *framework.KernelContext) *tensors.Tensor

// DefaultInputAccessor returns input 0.
func DefaultInputAccessor(ctx *framework.KernelContext) *tensors.Tensor {
	return ctx.Input(0)
}

// Kernel implements framework.OpKernel for Slice.
//
// Its state is immutable after construction, so it can be invoked concurrently on different streams.
type Kernel struct {
	info     framework.KernelInfo
	params   paramSource
	getInput InputAccessor
	flatten  bool
}

var _ framework.OpKernel = (*Kernel)(nil)

// Option configures a Kernel at construction.
type Option func(k *Kernel)

// WithInputAccessor replaces the accessor of the tensor to slice, e.g. for kernels that slice a tensor they
// derive from their inputs.
func WithInputAccessor(accessor InputAccessor) Option {
	return func(k *Kernel) { k.getInput = accessor }
}

// WithoutFlattening disables the flattening of the innermost axes copied in full.
func WithoutFlattening() Option {
	return func(k *Kernel) { k.flatten = false }
}

// New creates a Slice kernel. If dynamic is false, the parameters are read from the node attributes "starts",
// "ends" and "axes" and validated immediately, failing with status.InvalidGraph. Otherwise, they are read from
// inputs 1 to 4 on every invocation.
func New(info *framework.KernelInfo, dynamic bool, options ...Option) (*Kernel, error) {
	k := &Kernel{info: info.Clone(), getInput: DefaultInputAccessor, flatten: true}
	if dynamic {
		k.params = &dynamicParams{info: &k.info}
	} else {
		params, err := newStaticParams(info)
		if err != nil {
			return nil, err
		}
		k.params = params
	}
	for _, option := range options {
		option(k)
	}
	klog.V(1).Infof("Slice kernel for %s: dynamic=%v, device %d", info.Node(), dynamic, info.GetDeviceNum())
	return k, nil
}

// maxOutputSize is the largest output the gather can address: output indices are decomposed on the device
// with fastdivmod, exact only for 31-bit dividends.
const maxOutputSize = int64(fastdivmod.MaxDividend)

func checkOutputSize(spec *Spec) error {
	if spec.OutputSize() > maxOutputSize {
		return status.Errorf(status.InvalidArgument, "output with %d elements is larger than the maximum of %d",
			spec.OutputSize(), maxOutputSize)
	}
	return nil
}

// Compute implements framework.OpKernel.
func (k *Kernel) Compute(ctx *framework.KernelContext) error {
	input := k.getInput(ctx)
	if input == nil {
		return status.Errorf(status.InvalidArgument, "Slice %s: missing input tensor", k.info.Node())
	}
	starts, ends, axes, steps, err := k.params.get(ctx)
	if err != nil {
		return err
	}
	inputDims := input.Shape().Dimensions
	spec, err := prepare(starts, ends, axes, steps, inputDims, k.flatten)
	if err != nil {
		return errors.WithMessagef(err, "Slice %s of input %s", k.info.Node(), input.Shape())
	}
	if err := checkOutputSize(spec); err != nil {
		return errors.WithMessagef(err, "Slice %s", k.info.Node())
	}
	stream := ctx.Stream()
	if stream == nil {
		return status.Errorf(status.InvalidArgument, "Slice %s: invocation requires a stream", k.info.Node())
	}
	if klog.V(2).Enabled() {
		klog.Infof("Slice %s: input %s, %s", k.info.Node(), input.Shape(), spec)
	}

	output, err := ctx.Output(0, shapes.Make(input.DType(), spec.OutputShapeDims()...))
	if err != nil {
		return err
	}
	if output.Size() == 0 {
		return nil
	}

	startsBuffer, err := staging.FromSlice(&k.info, stream, spec.Starts)
	if err != nil {
		return err
	}
	defer startsBuffer.Release(stream)
	stepsBuffer, err := staging.FromSlice(&k.info, stream, spec.Steps)
	if err != nil {
		return err
	}
	defer stepsBuffer.Release(stream)
	inputPitches, err := staging.FromSlice(&k.info, stream, spec.InputPitches(inputDims))
	if err != nil {
		return err
	}
	defer inputPitches.Release(stream)
	outputPitches, err := staging.FromSlice(&k.info, stream, spec.OutputPitches())
	if err != nil {
		return err
	}
	defer outputPitches.Release(stream)

	gather := newGather(input.DType().Size(), input.Chunk().Bytes(), output.Chunk().Bytes(),
		startsBuffer, stepsBuffer, inputPitches, outputPitches)
	return stream.Launch("Slice", output.Size(), gather)
}

// paramSource provides the raw slicing parameters of an invocation. axes and steps are nil when not given.
type paramSource interface {
	get(ctx *framework.KernelContext) (starts, ends, axes, steps []int64, err error)
}

// staticParams are read from the node attributes once, at construction.
type staticParams struct {
	starts, ends, axes []int64
}

func newStaticParams(info *framework.KernelInfo) (*staticParams, error) {
	p := &staticParams{}
	var err error
	if p.starts, err = info.GetAttrInts("starts"); err != nil {
		return nil, status.Wrapf(status.InvalidGraph, err, "Slice %s: invalid attribute \"starts\"", info.Node())
	}
	if p.ends, err = info.GetAttrInts("ends"); err != nil {
		return nil, status.Wrapf(status.InvalidGraph, err, "Slice %s: invalid attribute \"ends\"", info.Node())
	}
	p.axes = info.GetAttrIntsOr("axes", nil)
	if len(p.starts) != len(p.ends) {
		return nil, status.Errorf(status.InvalidGraph, "Slice %s: attributes starts (%d elements) and ends (%d elements) must have the same length",
			info.Node(), len(p.starts), len(p.ends))
	}
	if p.axes != nil {
		if len(p.axes) != len(p.starts) {
			return nil, status.Errorf(status.InvalidGraph, "Slice %s: attribute axes (%d elements) must have the same length as starts (%d elements)",
				info.Node(), len(p.axes), len(p.starts))
		}
		sorted := slices.Clone(p.axes)
		slices.Sort(sorted)
		if len(slices.Compact(sorted)) != len(sorted) {
			return nil, status.Errorf(status.InvalidGraph, "Slice %s: attribute axes %v has repeated values", info.Node(), p.axes)
		}
	}
	return p, nil
}

func (p *staticParams) get(*framework.KernelContext) (starts, ends, axes, steps []int64, err error) {
	return p.starts, p.ends, p.axes, nil, nil
}

// dynamicParams are read from the inputs 1 (starts), 2 (ends), 3 (axes, optional) and 4 (steps, optional) on
// each invocation. Inputs resolved to constants at session build time may be omitted from the invocation.
type dynamicParams struct {
	info *framework.KernelInfo
}

func (p *dynamicParams) get(ctx *framework.KernelContext) (starts, ends, axes, steps []int64, err error) {
	if starts, err = p.read(ctx, 1, "starts", true); err != nil {
		return
	}
	if ends, err = p.read(ctx, 2, "ends", true); err != nil {
		return
	}
	if axes, err = p.read(ctx, 3, "axes", false); err != nil {
		return
	}
	steps, err = p.read(ctx, 4, "steps", false)
	return
}

// read the index input at position idx, which must be a 1D tensor of int32 or int64 in host accessible memory.
func (p *dynamicParams) read(ctx *framework.KernelContext, idx int, name string, required bool) ([]int64, error) {
	t := ctx.Input(idx)
	if t == nil {
		var found bool
		t, found = p.info.TryGetConstantInput(idx)
		if !found {
			if required {
				return nil, status.Errorf(status.InvalidArgument, "Slice %s: missing required input %d (%s)", p.info.Node(), idx, name)
			}
			return nil, nil
		}
	}
	if t.Rank() != 1 {
		return nil, status.Errorf(status.InvalidArgument, "Slice %s: input %d (%s) must be a 1D tensor, got shape %s",
			p.info.Node(), idx, name, t.Shape())
	}
	if !t.Location().IsHostAccessible() {
		return nil, status.Errorf(status.InvalidArgument, "Slice %s: input %d (%s) must be in host accessible memory, got %s",
			p.info.Node(), idx, name, t.Location())
	}
	switch t.DType() {
	case dtypes.Int64:
		return slices.Clone(tensors.Flat[int64](t)), nil
	case dtypes.Int32:
		values := tensors.Flat[int32](t)
		result := make([]int64, len(values))
		for i, v := range values {
			result[i] = int64(v)
		}
		return result, nil
	default:
		return nil, status.Errorf(status.InvalidArgument, "Slice %s: input %d (%s) must be Int32 or Int64, got %s",
			p.info.Node(), idx, name, t.DType())
	}
}
