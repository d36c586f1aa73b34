// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package slice

import (
	"github.com/gomlx/kernelrt/framework"
	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/pkg/errors"
)

// OpName is the operator implemented by this package, in the default domain.
const OpName = "Slice"

// IndexTypes are the types accepted for the starts, ends, axes and steps inputs ("Tind").
var IndexTypes = []dtypes.DType{dtypes.Int32, dtypes.Int64}

// Register the Slice kernels for the given provider:
//
//   - versions 1 to 9: parameters from attributes;
//   - version 10, and versions 11 and above: parameters from inputs 1 to 4, pinned to host memory.
//
// One kernel is registered per index type of each version range.
func Register(registry *framework.KernelRegistry, provider string) error {
	for _, tind := range IndexTypes {
		ranges := []struct {
			start, end int
			dynamic    bool
		}{
			{1, 9, false},
			{10, 10, true},
			{11, framework.LatestVersion, true},
		}
		for _, r := range ranges {
			builder := framework.NewKernelDefBuilder().
				SetName(OpName).
				SinceVersion(r.start, r.end).
				Provider(provider).
				TypeConstraint("T", dtypes.AllFixedSize()...).
				TypeConstraint("Tind", tind)
			if r.dynamic {
				builder = builder.
					TypeConstraintInputs("Tind", 1, 2, 3, 4).
					InputMemoryType(memory.MemTypeCPUInput, 1, 2, 3, 4)
			}
			def, err := builder.Build()
			if err != nil {
				return errors.WithMessagef(err, "registering %s for provider %q", OpName, provider)
			}
			dynamic := r.dynamic
			err = registry.Register(def, func(info *framework.KernelInfo) (framework.OpKernel, error) {
				return New(info, dynamic)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
