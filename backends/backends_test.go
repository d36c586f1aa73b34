// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	name, config string
	allocators   []memory.Allocator
}

func (b *fakeBackend) Name() string                            { return b.name }
func (b *fakeBackend) Description() string                     { return b.name + ":" + b.config }
func (b *fakeBackend) NumDevices() int                         { return 1 }
func (b *fakeBackend) Allocators() []memory.Allocator          { return b.allocators }
func (b *fakeBackend) DataTransfer() DataTransfer              { return nil }
func (b *fakeBackend) NewStream(deviceNum int) (Stream, error) { return nil, nil }
func (b *fakeBackend) Finalize()                               {}

func TestNewWithConfig(t *testing.T) {
	Register("fake", func(config string) (Backend, error) {
		return &fakeBackend{name: "fake", config: config}, nil
	})
	Register("other", func(config string) (Backend, error) {
		return &fakeBackend{name: "other", config: config}, nil
	})
	assert.Equal(t, []string{"fake", "other"}, List())

	backend, err := NewWithConfig("other:a=1,b=2")
	require.NoError(t, err)
	assert.Equal(t, "other:a=1,b=2", backend.Description())

	backend, err = NewWithConfig("other")
	require.NoError(t, err)
	assert.Equal(t, "other", backend.Name())

	backend, err = NewWithConfig("")
	require.NoError(t, err)
	assert.Equal(t, "fake", backend.Name())

	_, err = NewWithConfig("missing:x")
	require.Error(t, err)
	assert.Equal(t, status.NotFound, status.CodeOf(err))

	t.Setenv(ConfigEnvVar, "other:from_env")
	backend, err = New()
	require.NoError(t, err)
	assert.Equal(t, "other:from_env", backend.Description())
}

func TestRegisterAllocators(t *testing.T) {
	device := memory.NewPoolAllocator(memory.Info{Name: "Fake", DeviceType: memory.DeviceAccelerator}, 0)
	pinned := memory.NewPoolAllocator(memory.Info{Name: "FakePinned", DeviceType: memory.DeviceAccelerator,
		MemType: memory.MemTypeCPUInput}, 0)
	backend := &fakeBackend{name: "fake", allocators: []memory.Allocator{device, pinned}}
	registry := memory.NewRegistry()
	require.NoError(t, RegisterAllocators(backend, registry))
	got, err := registry.Get(0, memory.MemTypeCPUInput)
	require.NoError(t, err)
	assert.Equal(t, pinned.Info(), got.Info())

	// Registering twice fails.
	require.Error(t, RegisterAllocators(backend, registry))
}
