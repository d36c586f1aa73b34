// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/kernelrt/backends"
	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/shapes"
	"github.com/gomlx/kernelrt/pkg/core/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInts(t *testing.T) {
	values, err := parseInts(" 1, -2,3 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, -2, 3}, values)

	values, err = parseInts("")
	require.NoError(t, err)
	assert.Nil(t, values)

	_, err = parseInts("1,x")
	require.Error(t, err)
}

func TestRunSlice(t *testing.T) {
	backend := must.M1(backends.NewWithConfig("sim:devices=2,parallelism=2,block=16"))
	defer backend.Finalize()

	for _, version := range []int{9, 13} {
		config := &sliceConfig{
			inputShape:     shapes.Make(dtypes.Float32, 8, 6, 5),
			starts:         []int64{1, -1},
			ends:           []int64{7, 0},
			axes:           []int64{0, -2},
			version:        version,
			numInvocations: 10,
			numStreams:     3,
			deviceNum:      1,
		}
		if version >= 10 {
			config.steps = []int64{2, -1}
		}
		result, err := runSlice(backend, config, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(10), result.invocations)
		if version >= 10 {
			assert.Equal(t, []int{3, 5, 5}, result.outputShape.Dimensions)
		} else {
			// Without steps, an end before the start selects nothing.
			assert.Equal(t, []int{6, 0, 5}, result.outputShape.Dimensions)
		}

		var found bool
		for _, usage := range result.usage {
			if usage.info.DeviceNum == 1 && usage.info.MemType == memory.MemTypeDefault {
				found = true
				assert.Equal(t, int64(config.inputShape.Memory()), usage.stats.BytesInUse)
			}
		}
		assert.True(t, found)
	}

	// Device 2 has no memory registered.
	config := &sliceConfig{inputShape: shapes.Make(dtypes.Int8, 4), starts: []int64{0}, ends: []int64{2},
		version: 13, numInvocations: 1, numStreams: 1, deviceNum: 2}
	_, err := runSlice(backend, config, nil)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}
