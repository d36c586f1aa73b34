// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/memory"
	"github.com/gomlx/kernelrt/pkg/core/status"
)

// LatestVersion is used as the end of a version range that is still open.
const LatestVersion = math.MaxInt32

// KernelDef is the static metadata of a kernel implementation: which operator (name, domain and version range)
// and provider it implements, the types it accepts, and the memory types of its inputs and outputs.
//
// It is immutable once built by a KernelDefBuilder.
type KernelDef struct {
	opName, domain, provider string
	versionStart, versionEnd int

	typeConstraints   map[string][]dtypes.DType
	constrainedInputs map[string][]int

	inputMemTypes, outputMemTypes map[int]memory.MemType
}

// OpName returns the name of the operator implemented.
func (def *KernelDef) OpName() string { return def.opName }

// Domain of the operator, "" for the default domain.
func (def *KernelDef) Domain() string { return def.domain }

// Provider returns the name of the execution provider (the backend) this kernel runs on.
func (def *KernelDef) Provider() string { return def.provider }

// SinceVersion returns the range of operator versions implemented, inclusive.
// The end is LatestVersion if the range is open.
func (def *KernelDef) SinceVersion() (start, end int) { return def.versionStart, def.versionEnd }

// MatchesVersion returns whether the kernel implements the given version of the operator.
func (def *KernelDef) MatchesVersion(version int) bool {
	return version >= def.versionStart && version <= def.versionEnd
}

// TypeConstraint returns the types accepted for the named type parameter, or nil if there is no constraint.
func (def *KernelDef) TypeConstraint(name string) []dtypes.DType {
	return slices.Clone(def.typeConstraints[name])
}

// TypeConstraintNames returns the names of the type parameters constrained, sorted.
func (def *KernelDef) TypeConstraintNames() []string {
	return slices.Sorted(maps.Keys(def.typeConstraints))
}

// MatchesInputTypes returns whether the given input types satisfy the type constraints bound to inputs.
// Inputs with unknown type (dtypes.InvalidDType) or beyond inputTypes length match anything.
func (def *KernelDef) MatchesInputTypes(inputTypes []dtypes.DType) bool {
	for name, indices := range def.constrainedInputs {
		allowed := def.typeConstraints[name]
		for _, idx := range indices {
			if idx >= len(inputTypes) || inputTypes[idx] == dtypes.InvalidDType {
				continue
			}
			if !slices.Contains(allowed, inputTypes[idx]) {
				return false
			}
		}
	}
	return true
}

// InputMemoryType returns the memory type where input i must reside.
// It defaults to memory.MemTypeDefault (the kernel's device memory).
func (def *KernelDef) InputMemoryType(i int) memory.MemType {
	if memType, found := def.inputMemTypes[i]; found {
		return memType
	}
	return memory.MemTypeDefault
}

// OutputMemoryType returns the memory type where output i is allocated.
// It defaults to memory.MemTypeDefault (the kernel's device memory).
func (def *KernelDef) OutputMemoryType(i int) memory.MemType {
	if memType, found := def.outputMemTypes[i]; found {
		return memType
	}
	return memory.MemTypeDefault
}

// String implements fmt.Stringer.
func (def *KernelDef) String() string {
	var sb strings.Builder
	domain := def.domain
	if domain == "" {
		domain = "ai.onnx"
	}
	_, _ = fmt.Fprintf(&sb, "%s:%s(", domain, def.opName)
	if def.versionEnd == LatestVersion {
		_, _ = fmt.Fprintf(&sb, "%d+", def.versionStart)
	} else {
		_, _ = fmt.Fprintf(&sb, "%d-%d", def.versionStart, def.versionEnd)
	}
	_, _ = fmt.Fprintf(&sb, ")@%s", def.provider)
	for _, name := range def.TypeConstraintNames() {
		_, _ = fmt.Fprintf(&sb, " %s=%v", name, def.typeConstraints[name])
	}
	return sb.String()
}

// KernelDefBuilder builds a KernelDef with a fluent API:
//
//	def, err := framework.NewKernelDefBuilder().
//		SetName("Slice").
//		SinceVersion(11, framework.LatestVersion).
//		Provider("sim").
//		TypeConstraint("T", dtypes.AllFixedSize()...).
//		TypeConstraint("Tind", dtypes.Int32).
//		TypeConstraintInputs("Tind", 1, 2, 3, 4).
//		InputMemoryType(memory.MemTypeCPUInput, 1, 2, 3, 4).
//		Build()
type KernelDefBuilder struct {
	def *KernelDef
}

// NewKernelDefBuilder creates a builder for a KernelDef that implements version 1 and above of the operator.
func NewKernelDefBuilder() *KernelDefBuilder {
	return &KernelDefBuilder{def: &KernelDef{
		versionStart:      1,
		versionEnd:        LatestVersion,
		typeConstraints:   make(map[string][]dtypes.DType),
		constrainedInputs: make(map[string][]int),
		inputMemTypes:     make(map[int]memory.MemType),
		outputMemTypes:    make(map[int]memory.MemType),
	}}
}

// SetName of the operator.
func (b *KernelDefBuilder) SetName(opName string) *KernelDefBuilder {
	b.def.opName = opName
	return b
}

// SetDomain of the operator.
func (b *KernelDefBuilder) SetDomain(domain string) *KernelDefBuilder {
	b.def.domain = domain
	return b
}

// SinceVersion sets the range of operator versions implemented, inclusive.
// Use LatestVersion as end for an open range.
func (b *KernelDefBuilder) SinceVersion(start, end int) *KernelDefBuilder {
	b.def.versionStart, b.def.versionEnd = start, end
	return b
}

// Provider sets the name of the execution provider.
func (b *KernelDefBuilder) Provider(provider string) *KernelDefBuilder {
	b.def.provider = provider
	return b
}

// TypeConstraint sets the types accepted for the named type parameter.
func (b *KernelDefBuilder) TypeConstraint(name string, types ...dtypes.DType) *KernelDefBuilder {
	b.def.typeConstraints[name] = slices.Clone(types)
	return b
}

// TypeConstraintInputs binds the named type parameter to the given input indices: used when looking up a kernel
// for a node with known input types.
func (b *KernelDefBuilder) TypeConstraintInputs(name string, indices ...int) *KernelDefBuilder {
	b.def.constrainedInputs[name] = append(b.def.constrainedInputs[name], indices...)
	return b
}

// InputMemoryType sets the memory type of the given inputs. Typically used to pin small index inputs to host
// memory (memory.MemTypeCPUInput), when they are read by the host side of the kernel.
func (b *KernelDefBuilder) InputMemoryType(memType memory.MemType, indices ...int) *KernelDefBuilder {
	for _, idx := range indices {
		b.def.inputMemTypes[idx] = memType
	}
	return b
}

// OutputMemoryType sets the memory type of the given outputs.
func (b *KernelDefBuilder) OutputMemoryType(memType memory.MemType, indices ...int) *KernelDefBuilder {
	for _, idx := range indices {
		b.def.outputMemTypes[idx] = memType
	}
	return b
}

// Build validates and returns the KernelDef. The builder must not be used afterward.
func (b *KernelDefBuilder) Build() (*KernelDef, error) {
	def := b.def
	b.def = nil
	if def == nil {
		return nil, status.Errorf(status.InvalidArgument, "KernelDefBuilder.Build() called twice")
	}
	if def.opName == "" {
		return nil, status.Errorf(status.InvalidArgument, "KernelDef requires an operator name")
	}
	if def.provider == "" {
		return nil, status.Errorf(status.InvalidArgument, "KernelDef for %q requires a provider", def.opName)
	}
	if def.versionStart < 1 || def.versionEnd < def.versionStart {
		return nil, status.Errorf(status.InvalidArgument, "KernelDef for %q has invalid version range [%d, %d]",
			def.opName, def.versionStart, def.versionEnd)
	}
	for name, indices := range def.constrainedInputs {
		if _, found := def.typeConstraints[name]; !found {
			return nil, status.Errorf(status.InvalidArgument, "KernelDef for %q binds inputs %v to undefined type constraint %q",
				def.opName, indices, name)
		}
	}
	return def, nil
}
