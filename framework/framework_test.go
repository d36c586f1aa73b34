// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"testing"

	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/backends/simdevice"
	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/shapes"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// newSimSession creates a simulated backend and session tables with its allocators and data transfer registered.
func newSimSession(t *testing.T, config string) (*simdevice.Backend, *SessionTables) {
	backend := must.M1(simdevice.New(config))
	t.Cleanup(backend.Finalize)
	tables := NewSessionTables()
	require.NoError(t, backends.RegisterAllocators(backend, tables.Allocators))
	require.NoError(t, tables.DataTransfers.Register(backend.DataTransfer()))
	return backend, tables
}

func TestKernelDefBuilder(t *testing.T) {
	def, err := NewKernelDefBuilder().
		SetName("Slice").
		SinceVersion(10, 10).
		Provider(simdevice.BackendName).
		TypeConstraint("T", dtypes.AllFixedSize()...).
		TypeConstraint("Tind", dtypes.Int32).
		TypeConstraintInputs("Tind", 1, 2, 3, 4).
		InputMemoryType(memory.MemTypeCPUInput, 1, 2, 3, 4).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "Slice", def.OpName())
	assert.Equal(t, "", def.Domain())
	start, end := def.SinceVersion()
	assert.Equal(t, []int{10, 10}, []int{start, end})
	assert.True(t, def.MatchesVersion(10))
	assert.False(t, def.MatchesVersion(11))
	assert.Equal(t, memory.MemTypeDefault, def.InputMemoryType(0))
	assert.Equal(t, memory.MemTypeCPUInput, def.InputMemoryType(3))
	assert.Equal(t, memory.MemTypeDefault, def.OutputMemoryType(0))
	assert.Equal(t, []string{"T", "Tind"}, def.TypeConstraintNames())
	assert.Equal(t, []dtypes.DType{dtypes.Int32}, def.TypeConstraint("Tind"))
	assert.Equal(t, "ai.onnx:Slice(10-10)@sim T=[Bool Int8 Int16 Int32 Int64 Uint8 Uint16 Uint32 Uint64 Float16 Float32 Float64 BFloat16 Complex64 Complex128] Tind=[Int32]", def.String())

	assert.True(t, def.MatchesInputTypes([]dtypes.DType{dtypes.Float32, dtypes.Int32, dtypes.Int32}))
	assert.True(t, def.MatchesInputTypes([]dtypes.DType{dtypes.Float32, dtypes.InvalidDType}))
	assert.True(t, def.MatchesInputTypes(nil))
	assert.False(t, def.MatchesInputTypes([]dtypes.DType{dtypes.Float32, dtypes.Int64, dtypes.Int64}))

	_, err = NewKernelDefBuilder().Provider("sim").Build()
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
	_, err = NewKernelDefBuilder().SetName("Slice").Build()
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
	_, err = NewKernelDefBuilder().SetName("Slice").Provider("sim").SinceVersion(5, 4).Build()
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
	_, err = NewKernelDefBuilder().SetName("Slice").Provider("sim").TypeConstraintInputs("T", 0).Build()
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestNodeAttributes(t *testing.T) {
	node := NewNode("slice_1", "Slice", "", 1, []string{"x"}, []string{"y"},
		IntsAttr("starts", 1, 2), IntsAttr("ends", 3, 4), IntAttr("count", 7),
		FloatAttr("alpha", 0.5), StringAttr("mode", "constant"))
	assert.Equal(t, "slice_1(Slice v1)", node.String())
	assert.True(t, node.InputExists(0))
	assert.False(t, node.InputExists(1))

	starts, err := node.GetAttrInts("starts")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, starts)
	count, err := node.GetAttrInt("count")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	alpha, err := node.GetAttrFloat("alpha")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), alpha)
	mode, err := node.GetAttrString("mode")
	require.NoError(t, err)
	assert.Equal(t, "constant", mode)

	_, err = node.GetAttrInts("axes")
	assert.Equal(t, status.NotFound, status.CodeOf(err))
	_, err = node.GetAttrInts("count")
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
	assert.Equal(t, []int64{0}, node.GetAttrIntsOr("axes", []int64{0}))
	assert.Equal(t, []int64{3, 4}, node.GetAttrIntsOr("ends", nil))

	// Returned slices are copies.
	starts[0] = 100
	assert.Equal(t, []int64{1, 2}, must.M1(node.GetAttrInts("starts")))
}

func TestKernelInfo(t *testing.T) {
	_, tables := newSimSession(t, "devices=2")
	constant := tensors.FromFlatData([]int64{1, 2})
	tables.ValueNames.Add("x")
	tables.AddConstant("starts", constant)
	require.NoError(t, tables.Funcs.Add("fused", FusedFuncs{
		Compute: func(state FunctionState, ctx *KernelContext) error { return nil },
	}))

	node := NewNode("slice", "Slice", "", 10, []string{"x", "starts", "ends", "", "steps"}, []string{"y"})
	def := must.M1(NewKernelDefBuilder().SetName("Slice").Provider("sim").Build())
	info := NewKernelInfo(node, def, 1, tables)

	assert.Equal(t, 1, info.GetDeviceNum())
	assert.Same(t, node, info.Node())
	assert.Same(t, def, info.GetKernelDef())
	assert.Same(t, tables.DataTransfers, info.GetDataTransferManager())

	memInfo, err := info.GetMemoryInfo(1, memory.MemTypeCPUInput)
	require.NoError(t, err)
	assert.Equal(t, "SimPinned(Accelerator:1, CPUInput)", memInfo.String())
	allocator, err := info.GetAllocator(0, memory.MemTypeDefault)
	require.NoError(t, err)
	assert.Equal(t, 0, allocator.Info().DeviceNum)
	_, err = info.GetAllocator(2, memory.MemTypeDefault)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
	_, err = info.GetMemoryInfo(0, memory.MemType(5))
	assert.Equal(t, status.NotFound, status.CodeOf(err))

	value, found := info.TryGetConstantInput(1)
	require.True(t, found)
	assert.Same(t, constant, value)
	for _, idx := range []int{0, 2, 3, 5, -1} {
		_, found = info.TryGetConstantInput(idx)
		assert.Falsef(t, found, "input %d should not be a constant", idx)
	}

	_, err = info.GetFusedFuncs()
	assert.Equal(t, status.NotFound, status.CodeOf(err))
	fusedInfo := NewKernelInfo(NewNode("fused", "Fused", "custom", 1, nil, nil), def, 0, tables)
	funcs, err := fusedInfo.GetFusedFuncs()
	require.NoError(t, err)
	assert.NotNil(t, funcs.Compute)

	clone := info.Clone()
	assert.Same(t, node, clone.Node())
	assert.Same(t, def, clone.GetKernelDef())
	value, found = clone.TryGetConstantInput(1)
	assert.True(t, found)
	assert.Same(t, constant, value)
	assert.Zero(t, testing.AllocsPerRun(10, func() { _ = info.Clone() }))
}

func TestDataTransferManager(t *testing.T) {
	backend, tables := newSimSession(t, "devices=1")
	manager := tables.DataTransfers
	deviceMem := must.M1(backend.DeviceAllocator(0, memory.MemTypeDefault))

	shape := shapes.Make(dtypes.Float32, 4)
	var sources, onDevice, results []*tensors.Tensor
	var toDevice, toHost []TensorPair
	for i := range 8 {
		src := tensors.FromFlatData([]float32{float32(i), 1, 2, 3})
		dev := must.M1(tensors.New(deviceMem, shape))
		res := tensors.FromFlatData(make([]float32, 4))
		sources, onDevice, results = append(sources, src), append(onDevice, dev), append(results, res)
		toDevice = append(toDevice, TensorPair{Src: src, Dst: dev})
		toHost = append(toHost, TensorPair{Src: dev, Dst: res})
	}
	stream := must.M1(backend.NewStream(0))
	require.NoError(t, manager.CopyTensors(toDevice, stream))
	require.NoError(t, stream.Synchronize())
	require.NoError(t, manager.CopyTensors(toHost, nil))
	for i, res := range results {
		assert.Equal(t, []float32{float32(i), 1, 2, 3}, tensors.Flat[float32](res))
		onDevice[i].Release()
	}
	require.NoError(t, stream.Close())

	// Host to host is done directly.
	dst := tensors.FromFlatData(make([]float32, 4))
	require.NoError(t, manager.CopyTensor(sources[3], dst, nil))
	assert.Equal(t, []float32{3, 1, 2, 3}, tensors.Flat[float32](dst))

	// Errors.
	err := manager.CopyTensor(sources[0], tensors.FromFlatData(make([]float32, 2)), nil)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
	empty := NewDataTransferManager()
	dev := must.M1(tensors.New(deviceMem, shape))
	defer dev.Release()
	err = empty.CopyTensor(sources[0], dev, nil)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
	err = manager.CopyTensors([]TensorPair{{Src: sources[0], Dst: dev}, {Src: sources[1], Dst: nil}}, nil)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

// fillKernel writes its "value" attribute to an int32 output with the shape of its input, and fails if the
// attribute "fail" is set.
type fillKernel struct {
	value int64
	fail  bool
}

func (k *fillKernel) Compute(ctx *KernelContext) error {
	input := ctx.Input(0)
	if input == nil {
		return status.Errorf(status.InvalidArgument, "missing input")
	}
	output, err := ctx.Output(0, shapes.Make(dtypes.Int32, input.Shape().Dimensions...))
	if err != nil {
		return err
	}
	if k.fail {
		return status.RuntimeErrorf(simdevice.ErrorLaunchFailure, "failed on purpose")
	}
	data := output.Bytes()
	value := int32(k.value)
	return ctx.Stream().Launch("fill", input.Size(), func(start, end int) {
		for i := start; i < end; i++ {
			data[4*i] = byte(value)
		}
	})
}

func createFillKernel(info *KernelInfo) (OpKernel, error) {
	value, err := info.GetAttrInt("value")
	if err != nil {
		return nil, status.Wrapf(status.InvalidGraph, err, "Fill")
	}
	return &fillKernel{value: value, fail: info.Node().HasAttr("fail")}, nil
}

func TestKernelRegistryAndRun(t *testing.T) {
	backend, tables := newSimSession(t, "devices=1")
	registry := NewKernelRegistry()
	for _, version := range [][2]int{{1, 9}, {10, LatestVersion}} {
		def := must.M1(NewKernelDefBuilder().SetName("Fill").SetDomain("test").
			SinceVersion(version[0], version[1]).Provider(simdevice.BackendName).
			TypeConstraint("T", dtypes.Float32).TypeConstraintInputs("T", 0).Build())
		require.NoError(t, registry.Register(def, createFillKernel))
	}
	require.Error(t, registry.Register(nil, createFillKernel))

	node := NewNode("fill", "Fill", "test", 12, []string{"x"}, []string{"y"}, IntAttr("value", 3)).
		WithInputTypes(dtypes.Float32)
	createInfo, err := registry.Lookup(node, simdevice.BackendName)
	require.NoError(t, err)
	start, _ := createInfo.Def.SinceVersion()
	assert.Equal(t, 10, start)

	_, err = registry.Lookup(node, "other")
	assert.Equal(t, status.NotFound, status.CodeOf(err))
	_, err = registry.Lookup(NewNode("fill", "Fill", "test", 12, []string{"x"}, nil).WithInputTypes(dtypes.Int8), simdevice.BackendName)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
	_, err = registry.Create(NewNode("fill", "Fill", "test", 1, []string{"x"}, nil), simdevice.BackendName, tables, 0)
	assert.Equal(t, status.InvalidGraph, status.CodeOf(err))

	kernel, err := registry.Create(node, simdevice.BackendName, tables, 0)
	require.NoError(t, err)
	stream := must.M1(backend.NewStream(0))
	defer func() { require.NoError(t, stream.Close()) }()
	info := NewKernelInfo(node, createInfo.Def, 0, tables)
	ctx := NewKernelContext(info, stream, tensors.FromFlatData([]float32{0, 0, 0}))
	require.NoError(t, Run(kernel, ctx))
	require.NoError(t, stream.Synchronize())
	require.Len(t, ctx.Outputs(), 1)
	output := ctx.Outputs()[0]
	assert.Equal(t, shapes.Make(dtypes.Int32, 3), output.Shape())
	assert.Equal(t, memory.DeviceAccelerator, output.Location().DeviceType)
	_, err = ctx.Output(0, output.Shape())
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
	output.Release()

	// Failing kernels leave no outputs.
	deviceMem := must.M1(backend.DeviceAllocator(0, memory.MemTypeDefault))
	inUse := deviceMem.Stats().BytesInUse
	failNode := NewNode("fill", "Fill", "test", 12, []string{"x"}, []string{"y"}, IntAttr("value", 3), IntAttr("fail", 1))
	failKernel := must.M1(registry.Create(failNode, simdevice.BackendName, tables, 0))
	ctx = NewKernelContext(NewKernelInfo(failNode, createInfo.Def, 0, tables), stream, tensors.FromFlatData([]float32{0, 0, 0}))
	err = Run(failKernel, ctx)
	require.Error(t, err)
	assert.Equal(t, simdevice.ErrorLaunchFailure, status.NativeCodeOf(err))
	assert.Empty(t, ctx.Outputs())
	assert.Equal(t, inUse, deviceMem.Stats().BytesInUse)

	err = Run(kernel, NewKernelContext(info, stream))
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}
