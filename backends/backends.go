// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a device runtime needs to implement to execute kernels:
// memory allocators per device and memory type, in-order asynchronous streams and data transfers.
//
// Backends register themselves (usually in an init function) with Register, and are created with New or
// NewWithConfig.
//
// Errors returned by backends carry a status.Code (see package status). Device failures are reported as
// status.RuntimeError with the device's native error code.
package backends

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/gomlx/kernelrt/pkg/core/tensors"
	"github.com/google/uuid"
)

// Backend is the API that needs to be implemented by a device runtime.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "sim" for the simulated accelerator.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices returns the number of devices available for this Backend.
	NumDevices() int

	// Allocators returns the allocators of all devices, for all memory types they support.
	// Usually they are registered in a memory.Registry owned by the session.
	Allocators() []memory.Allocator

	// DataTransfer returns the object that copies tensors between the memory spaces of this backend and the host.
	DataTransfer() DataTransfer

	// NewStream creates a new stream (queue of work) on the given device.
	NewStream(deviceNum int) (Stream, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Stream is an in-order queue of asynchronous work on one device.
//
// Work enqueued on a stream executes in FIFO order, but asynchronously with respect to the caller,
// and possibly concurrently with work in other streams. The first failure is sticky: work enqueued after a
// failure is skipped, and the error is returned by Synchronize and Err.
//
// Streams are safe for concurrent use.
type Stream interface {
	// ID uniquely identifies the stream, for logging.
	ID() uuid.UUID

	// DeviceNum of the device executing the stream.
	DeviceNum() int

	// MemcpyAsync enqueues the copy of src into dst. Both chunks must have the same length, and belong to
	// memory spaces this device can access.
	MemcpyAsync(dst, src *memory.Chunk) error

	// Launch enqueues a kernel over numElements elements. The device splits the range in blocks and calls
	// kernel(start, end) for each block, possibly in parallel.
	//
	// The kernel function is only called from the device, and it can access device memory.
	Launch(name string, numElements int, kernel func(start, end int)) error

	// FreeAsync enqueues the release of chunk to allocator: it is freed after all previously enqueued work
	// completes.
	FreeAsync(allocator memory.Allocator, chunk *memory.Chunk)

	// Synchronize blocks until all enqueued work is done, and returns the first error, if any.
	Synchronize() error

	// Err returns the first error that happened in the stream so far, without blocking.
	Err() error

	// Close synchronizes and releases the stream. It must not be used afterward.
	Close() error
}

// DataTransfer copies tensors between memory spaces of one backend and the host.
type DataTransfer interface {
	// CanCopy returns whether it can copy from memory space src to dst.
	CanCopy(src, dst memory.Info) bool

	// CopyTensor copies src into dst: they must have the same shape. If stream is nil, the copy is
	// synchronous, otherwise it is enqueued on stream.
	CopyTensor(src, dst *tensors.Tensor, stream Stream) error
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "sim") and
// "<backend_configuration>" is backend specific (e.g.: for the sim backend, "devices=2,memory=1GiB").
const ConfigEnvVar = "KERNELRT_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment KERNELRT_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "sim") and
// "<backend_configuration>" is backend specific. If there is no ":" separator, the whole config is taken
// as the backend name, or if empty the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, status.Errorf(status.NotFound,
			`no registered backends -- maybe import the default one with import _ "github.com/gomlx/kernelrt/backends/default"?`)
	}
	backendName := firstRegistered
	var backendConfig string
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
	}
	constructor, found := registeredConstructors[backendName]
	muRegistry.Unlock()
	if !found {
		return nil, status.Errorf(status.NotFound, "can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}

// RegisterAllocators registers all allocators of backend in registry.
func RegisterAllocators(backend Backend, registry *memory.Registry) error {
	for _, allocator := range backend.Allocators() {
		if err := registry.Register(allocator); err != nil {
			return err
		}
	}
	return nil
}
