// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// kernelrt_slice invokes the Slice kernel repeatedly on a backend device, and reports its timing and the
// memory used.
//
// Example:
//
//	kernelrt_slice -backend="sim:devices=1,memory=256MiB" -shape=64,128,256 -starts=0,10 -ends=64,-10 -axes=0,2 -steps=2,1
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/kernelrt/backends"
	_ "github.com/gomlx/kernelrt/backends/default"
	"github.com/gomlx/kernelrt/framework"
	"github.com/gomlx/kernelrt/kernels/slice"
	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/shapes"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend configuration, formatted as \"<name>:<config>\". If empty, $%s or the default backend is used.",
			backends.ConfigEnvVar))
	flagShape   = flag.String("shape", "64,128,256", "Comma-separated dimensions of the input tensor.")
	flagDType   = flag.String("dtype", "float32", "DType of the input tensor.")
	flagStarts  = flag.String("starts", "0", "Comma-separated start of each sliced axis.")
	flagEnds    = flag.String("ends", "-1", "Comma-separated end (exclusive) of each sliced axis.")
	flagAxes    = flag.String("axes", "", "Comma-separated axes sliced. If empty, the first len(starts) axes.")
	flagSteps   = flag.String("steps", "", "Comma-separated step of each sliced axis. If empty, all ones.")
	flagOpset   = flag.Int("opset", 13, "Operator set version of the Slice node: before 10 the parameters are attributes, and steps are not supported.")
	flagN       = flag.Int("n", 100, "Number of invocations.")
	flagStreams = flag.Int("streams", 1, "Number of streams invoking the kernel concurrently.")
	flagDevice  = flag.Int("device", 0, "Device where to run.")
	flagBar     = flag.Bool("progress", true, "Display a progress bar.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'kernelrt_slice -help'.", flag.Args())
		os.Exit(1)
	}
	config, err := configFromFlags()
	if err != nil {
		klog.Errorf("Invalid flags: %v", err)
		os.Exit(1)
	}

	var backend backends.Backend
	if *flagBackend == "" {
		backend = must.M1(backends.New())
	} else {
		backend = must.M1(backends.NewWithConfig(*flagBackend))
	}
	defer backend.Finalize()

	var bar *progressbar.ProgressBar
	output := termenv.NewOutput(os.Stdout)
	if *flagBar {
		output.HideCursor()
		bar = progressbar.NewOptions(config.numInvocations,
			progressbar.OptionSetDescription("Slice"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("calls"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish())
	}
	result, err := runSlice(backend, config, bar)
	if bar != nil {
		output.ShowCursor()
	}
	if err != nil {
		klog.Errorf("Slice failed: %+v", err)
		os.Exit(1)
	}
	report(backend, config, result)
}

// sliceConfig describes the Slice node and how many times to invoke it.
type sliceConfig struct {
	inputShape                shapes.Shape
	starts, ends, axes, steps []int64
	version                   int
	numInvocations            int
	numStreams                int
	deviceNum                 int
}

func configFromFlags() (*sliceConfig, error) {
	c := &sliceConfig{version: *flagOpset, numInvocations: *flagN, numStreams: *flagStreams, deviceNum: *flagDevice}
	dtype, found := dtypes.MapOfNames[*flagDType]
	if !found || !dtype.IsSupported() {
		return nil, errors.Errorf("unknown -dtype=%q", *flagDType)
	}
	dims, err := parseInts(*flagShape)
	if err != nil {
		return nil, errors.WithMessage(err, "-shape")
	}
	intDims := make([]int, len(dims))
	for i, dim := range dims {
		if dim < 0 {
			return nil, errors.Errorf("-shape=%q has negative dimensions", *flagShape)
		}
		intDims[i] = int(dim)
	}
	c.inputShape = shapes.Make(dtype, intDims...)
	for _, param := range []struct {
		name  string
		value string
		dst   *[]int64
	}{
		{"-starts", *flagStarts, &c.starts},
		{"-ends", *flagEnds, &c.ends},
		{"-axes", *flagAxes, &c.axes},
		{"-steps", *flagSteps, &c.steps},
	} {
		if *param.dst, err = parseInts(param.value); err != nil {
			return nil, errors.WithMessage(err, param.name)
		}
	}
	if c.version < 10 && c.steps != nil {
		return nil, errors.Errorf("-steps not supported with -opset=%d, it requires version 10 or above", c.version)
	}
	if c.numInvocations < 1 || c.numStreams < 1 {
		return nil, errors.Errorf("-n=%d and -streams=%d must be positive", c.numInvocations, c.numStreams)
	}
	return c, nil
}

// parseInts parses a comma-separated list of integers. An empty string returns nil.
func parseInts(list string) ([]int64, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	values := make([]int64, len(parts))
	for i, part := range parts {
		var err error
		values[i], err = strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid list of integers %q", list)
		}
	}
	return values, nil
}

// node creates the Slice node: for versions before 10 the parameters are attributes, otherwise they are given
// as inputs.
func (c *sliceConfig) node() *framework.Node {
	if c.version < 10 {
		attrs := []framework.Attribute{framework.IntsAttr("starts", c.starts...), framework.IntsAttr("ends", c.ends...)}
		if c.axes != nil {
			attrs = append(attrs, framework.IntsAttr("axes", c.axes...))
		}
		return framework.NewNode("slice", slice.OpName, "", c.version, []string{"data"}, []string{"output"}, attrs...).
			WithInputTypes(c.inputShape.DType)
	}
	return framework.NewNode("slice", slice.OpName, "", c.version,
		[]string{"data", "starts", "ends", "axes", "steps"}, []string{"output"}).
		WithInputTypes(c.inputShape.DType, dtypes.Int64, dtypes.Int64, dtypes.Int64, dtypes.Int64)
}

// indexInputs returns the parameters as host tensors, for versions 10 and above.
func (c *sliceConfig) indexInputs() []*tensors.Tensor {
	if c.version < 10 {
		return nil
	}
	optional := func(values []int64) *tensors.Tensor {
		if values == nil {
			return nil
		}
		return tensors.FromFlatData(values)
	}
	return []*tensors.Tensor{tensors.FromFlatData(c.starts), tensors.FromFlatData(c.ends), optional(c.axes), optional(c.steps)}
}

type allocatorUsage struct {
	info  memory.Info
	stats memory.Stats
}

type sliceResult struct {
	spec        *slice.Spec
	outputShape shapes.Shape
	elapsed     time.Duration
	invocations int64
	usage       []allocatorUsage
}

// runSlice creates the Slice kernel for the backend, and invokes it config.numInvocations times split among
// config.numStreams concurrent streams. The bar is optional.
func runSlice(backend backends.Backend, config *sliceConfig, bar *progressbar.ProgressBar) (*sliceResult, error) {
	tables := framework.NewSessionTables()
	if err := backends.RegisterAllocators(backend, tables.Allocators); err != nil {
		return nil, err
	}
	if err := tables.DataTransfers.Register(backend.DataTransfer()); err != nil {
		return nil, err
	}
	registry := framework.NewKernelRegistry()
	if err := slice.Register(registry, backend.Name()); err != nil {
		return nil, err
	}
	node := config.node()
	createInfo, err := registry.Lookup(node, backend.Name())
	if err != nil {
		return nil, err
	}
	info := framework.NewKernelInfo(node, createInfo.Def, config.deviceNum, tables)
	kernel, err := createInfo.Create(info)
	if err != nil {
		return nil, err
	}

	result := &sliceResult{}
	result.spec, err = slice.PrepareForCompute(config.starts, config.ends, config.axes, config.steps, config.inputShape.Dimensions)
	if err != nil {
		return nil, err
	}
	input, err := uploadInput(backend, info, config)
	if err != nil {
		return nil, err
	}
	defer input.Release()
	inputs := append([]*tensors.Tensor{input}, config.indexInputs()...)

	var once sync.Once
	var next atomic.Int64
	var g errgroup.Group
	start := time.Now()
	for range config.numStreams {
		g.Go(func() error {
			stream, err := backend.NewStream(config.deviceNum)
			if err != nil {
				return err
			}
			defer func() { _ = stream.Close() }()
			count := 0
			for next.Add(1) <= int64(config.numInvocations) {
				ctx := framework.NewKernelContext(info, stream, inputs...)
				if err := framework.Run(kernel, ctx); err != nil {
					return err
				}
				output := ctx.Outputs()[0]
				err := stream.Synchronize()
				once.Do(func() { result.outputShape = output.Shape().Clone() })
				output.Release()
				if err != nil {
					return err
				}
				count++
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			klog.V(1).Infof("stream %s: %d invocations", stream.ID(), count)
			return nil
		})
	}
	err = g.Wait()
	result.elapsed = time.Since(start)
	result.invocations = min(next.Load(), int64(config.numInvocations))
	if err != nil {
		return nil, err
	}
	for _, allocator := range tables.Allocators.All() {
		result.usage = append(result.usage, allocatorUsage{info: allocator.Info(), stats: allocator.Stats()})
	}
	return result, nil
}

// uploadInput creates the input tensor on the host, filled with a byte pattern, and copies it to the device.
func uploadInput(backend backends.Backend, info *framework.KernelInfo, config *sliceConfig) (*tensors.Tensor, error) {
	host, err := tensors.New(memory.NewHostAllocator(), config.inputShape)
	if err != nil {
		return nil, err
	}
	defer host.Release()
	for i := range host.Bytes() {
		host.Bytes()[i] = byte(i % 251)
	}
	allocator, err := info.GetAllocator(config.deviceNum, info.GetKernelDef().InputMemoryType(0))
	if err != nil {
		return nil, err
	}
	input, err := tensors.New(allocator, config.inputShape)
	if err != nil {
		return nil, err
	}
	stream, err := backend.NewStream(config.deviceNum)
	if err != nil {
		input.Release()
		return nil, err
	}
	err = info.GetDataTransferManager().CopyTensor(host, input, stream)
	if closeErr := stream.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		input.Release()
		return nil, errors.WithMessage(err, "uploading input")
	}
	return input, nil
}

func report(backend backends.Backend, config *sliceConfig, result *sliceResult) {
	fmt.Println(titleStyle.Render("Slice"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("backend", backend.Description())
	table.Row("device", strconv.Itoa(config.deviceNum))
	table.Row("input", fmt.Sprintf("%s (%s)", config.inputShape, humanize.IBytes(uint64(config.inputShape.Memory()))))
	table.Row("output", fmt.Sprintf("%s (%s)", result.outputShape, humanize.IBytes(uint64(result.outputShape.Memory()))))
	table.Row("slicing", result.spec.String())
	table.Row("invocations", fmt.Sprintf("%s on %d streams", humanize.Comma(result.invocations), config.numStreams))
	table.Row("elapsed", result.elapsed.String())
	if result.invocations > 0 {
		table.Row("per invocation", (result.elapsed / time.Duration(result.invocations)).String())
	}
	if seconds := result.elapsed.Seconds(); seconds > 0 {
		copied := float64(result.outputShape.Memory()) * float64(result.invocations)
		table.Row("throughput", humanize.IBytes(uint64(copied/seconds))+"/s")
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Memory"))
	table = newPlainTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Allocator", "Allocations", "In use", "Peak", "Total", "Limit")
	for _, usage := range result.usage {
		limit := "unlimited"
		if usage.stats.Limit > 0 {
			limit = humanize.IBytes(uint64(usage.stats.Limit))
		}
		table.Row(usage.info.String(),
			humanize.Comma(usage.stats.NumAllocs),
			humanize.IBytes(uint64(usage.stats.BytesInUse)),
			humanize.IBytes(uint64(usage.stats.PeakBytes)),
			humanize.IBytes(uint64(usage.stats.TotalAllocatedBytes)),
			limit)
	}
	fmt.Println(table.Render())
}
