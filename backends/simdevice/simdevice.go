// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simdevice implements a simulated accelerator backend, registered as "sim".
//
// Device memory is Go memory behind a capacity-limited allocator, and each stream executes its work in
// order in its own goroutine. Kernel launches are split in blocks run in parallel by a pool of workers.
// It allows exercising the full kernel execution path (host resolution, staging, asynchronous transfers,
// launch and failure modes) without a real device.
//
// Configuration (see backends.NewWithConfig) is a comma-separated list of key=value pairs:
//
//   - devices: number of devices, default 1.
//   - memory: capacity of each device memory, e.g. "256MiB". Default 1GiB.
//   - pinned: capacity of the pinned host memory of each device. Default 0, meaning unlimited.
//   - parallelism: max number of parallel blocks per launch. Default runtime.NumCPU(); 0 disables parallelism.
//   - block: number of elements per block in a kernel launch, default 4096.
//
// Example: KERNELRT_BACKEND="sim:devices=2,memory=256MiB,parallelism=8".
package simdevice

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/internal/workerspool"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in KERNELRT_BACKEND to select this backend.
const BackendName = "sim"

func init() {
	backends.Register(BackendName, func(config string) (backends.Backend, error) {
		return New(config)
	})
}

// Config of the simulated device.
type Config struct {
	NumDevices  int
	MemoryLimit int64
	PinnedLimit int64
	Parallelism int
	BlockSize   int
}

// DefaultMemoryLimit is the default capacity of each simulated device.
const DefaultMemoryLimit = 1 << 30

// DefaultBlockSize is the default number of elements per block in a kernel launch.
const DefaultBlockSize = 4096

// DefaultConfig returns the configuration used for keys not given.
func DefaultConfig() Config {
	return Config{
		NumDevices:  1,
		MemoryLimit: DefaultMemoryLimit,
		Parallelism: runtime.NumCPU(),
		BlockSize:   DefaultBlockSize,
	}
}

// ParseConfig parses a configuration string like "devices=2,memory=256MiB".
func ParseConfig(config string) (Config, error) {
	c := DefaultConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return c, status.Errorf(status.InvalidArgument, "sim backend: invalid configuration %q: missing \"=\" in %q", config, part)
		}
		var err error
		switch key {
		case "devices":
			c.NumDevices, err = strconv.Atoi(value)
			if err == nil && c.NumDevices < 1 {
				err = errors.New("at least one device is required")
			}
		case "memory":
			c.MemoryLimit, err = parseBytes(value)
		case "pinned":
			c.PinnedLimit, err = parseBytes(value)
		case "parallelism":
			c.Parallelism, err = strconv.Atoi(value)
		case "block":
			c.BlockSize, err = strconv.Atoi(value)
			if err == nil && c.BlockSize < 1 {
				err = errors.New("block size must be positive")
			}
		default:
			err = errors.New("unknown key")
		}
		if err != nil {
			return c, status.Wrapf(status.InvalidArgument, err, "sim backend: invalid configuration %q for key %q", config, key)
		}
	}
	return c, nil
}

func parseBytes(value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// String implements fmt.Stringer, in the format accepted by ParseConfig.
func (c Config) String() string {
	parts := []string{
		fmt.Sprintf("devices=%d", c.NumDevices),
		"memory=" + strings.ReplaceAll(humanize.IBytes(uint64(c.MemoryLimit)), " ", ""),
	}
	if c.PinnedLimit > 0 {
		parts = append(parts, "pinned="+strings.ReplaceAll(humanize.IBytes(uint64(c.PinnedLimit)), " ", ""))
	}
	parts = append(parts, fmt.Sprintf("parallelism=%d", c.Parallelism), fmt.Sprintf("block=%d", c.BlockSize))
	return strings.Join(parts, ",")
}

// device holds the allocators of one simulated device.
type device struct {
	num                    int
	deviceMem              *memory.PoolAllocator
	pinnedIn, pinnedOut    *memory.PoolAllocator
	launchFault, copyFault atomic.Int32
	numLaunches, numCopies atomic.Int64
}

// Backend implements backends.Backend for the simulated device.
type Backend struct {
	config   Config
	devices  []*device
	workers  *workerspool.Pool
	transfer *dataTransfer

	mu        sync.Mutex
	streams   map[uuid.UUID]*Stream
	finalized bool
}

var _ backends.Backend = (*Backend)(nil)

// New creates a simulated device backend from the configuration string. See package documentation.
func New(config string) (*Backend, error) {
	c, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(c), nil
}

// NewWithConfig creates a simulated device backend from a Config.
func NewWithConfig(c Config) *Backend {
	b := &Backend{
		config:  c,
		workers: workerspool.NewWithParallelism(c.Parallelism),
		streams: make(map[uuid.UUID]*Stream),
	}
	for num := range c.NumDevices {
		d := &device{num: num}
		d.deviceMem = memory.NewPoolAllocator(memory.Info{Name: "Sim", DeviceType: memory.DeviceAccelerator,
			DeviceNum: num, MemType: memory.MemTypeDefault}, c.MemoryLimit)
		d.pinnedIn = memory.NewPoolAllocator(memory.Info{Name: "SimPinned", DeviceType: memory.DeviceAccelerator,
			DeviceNum: num, MemType: memory.MemTypeCPUInput}, c.PinnedLimit)
		d.pinnedOut = memory.NewPoolAllocator(memory.Info{Name: "SimPinned", DeviceType: memory.DeviceAccelerator,
			DeviceNum: num, MemType: memory.MemTypeCPUOutput}, c.PinnedLimit)
		b.devices = append(b.devices, d)
	}
	b.transfer = &dataTransfer{backend: b}
	klog.V(1).Infof("simulated device backend created: %s", c)
	return b
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return fmt.Sprintf("Simulated accelerator (%s)", b.config)
}

// Config returns the backend configuration.
func (b *Backend) Config() Config { return b.config }

// NumDevices implements backends.Backend.
func (b *Backend) NumDevices() int { return len(b.devices) }

// Allocators implements backends.Backend.
func (b *Backend) Allocators() []memory.Allocator {
	allocators := make([]memory.Allocator, 0, 3*len(b.devices))
	for _, d := range b.devices {
		allocators = append(allocators, d.deviceMem, d.pinnedIn, d.pinnedOut)
	}
	return allocators
}

// DeviceAllocator returns the allocator of the given memory type of a device.
func (b *Backend) DeviceAllocator(deviceNum int, memType memory.MemType) (*memory.PoolAllocator, error) {
	d, err := b.device(deviceNum)
	if err != nil {
		return nil, err
	}
	switch memType {
	case memory.MemTypeDefault:
		return d.deviceMem, nil
	case memory.MemTypeCPUInput:
		return d.pinnedIn, nil
	case memory.MemTypeCPUOutput:
		return d.pinnedOut, nil
	}
	return nil, status.Errorf(status.NotFound, "sim device %d has no memory of type %s", deviceNum, memType)
}

// DataTransfer implements backends.Backend.
func (b *Backend) DataTransfer() backends.DataTransfer { return b.transfer }

func (b *Backend) device(deviceNum int) (*device, error) {
	if deviceNum < 0 || deviceNum >= len(b.devices) {
		return nil, status.Errorf(status.InvalidArgument, "invalid sim device %d, backend has %d devices", deviceNum, len(b.devices))
	}
	return b.devices[deviceNum], nil
}

// NewStream implements backends.Backend.
func (b *Backend) NewStream(deviceNum int) (backends.Stream, error) {
	d, err := b.device(deviceNum)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return nil, status.RuntimeErrorf(ErrorDeinitialized, "sim backend already finalized")
	}
	s := newStream(b, d)
	b.streams[s.id] = s
	klog.V(2).Infof("sim device %d: created stream %s", deviceNum, s.id)
	return s, nil
}

func (b *Backend) removeStream(s *Stream) {
	b.mu.Lock()
	delete(b.streams, s.id)
	b.mu.Unlock()
}

// InjectFault makes the next kernel launch (if launch is true) or the next memory copy (if launch is false)
// on the device fail with the given native error code. Used for testing failure paths.
func (b *Backend) InjectFault(deviceNum int, launch bool, nativeCode int) error {
	d, err := b.device(deviceNum)
	if err != nil {
		return err
	}
	if launch {
		d.launchFault.Store(int32(nativeCode))
	} else {
		d.copyFault.Store(int32(nativeCode))
	}
	return nil
}

// NumLaunches returns the number of kernels executed on the device so far.
func (b *Backend) NumLaunches(deviceNum int) int64 {
	return b.devices[deviceNum].numLaunches.Load()
}

// NumCopies returns the number of memory copies executed on the device streams so far.
func (b *Backend) NumCopies(deviceNum int) int64 {
	return b.devices[deviceNum].numCopies.Load()
}

// Finalize implements backends.Backend. It closes all streams still open, and warns about leaked memory.
func (b *Backend) Finalize() {
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return
	}
	b.finalized = true
	streams := make([]*Stream, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	for _, s := range streams {
		if err := s.Close(); err != nil {
			klog.Warningf("sim backend: stream %s finished with error: %v", s.id, err)
		}
	}
	for _, allocator := range b.Allocators() {
		stats := allocator.Stats()
		if stats.BytesInUse > 0 {
			klog.Warningf("sim backend: %s finalized with %s still in use (%d allocations not freed)",
				allocator.Info(), humanize.IBytes(uint64(stats.BytesInUse)), stats.NumAllocs-stats.NumFrees)
		}
	}
}
