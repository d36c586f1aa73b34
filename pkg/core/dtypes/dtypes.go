// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types a kernel can move around.
//
// Kernels in this module only care about the byte width of an element (see DType.Size): the slicing
// gather, for instance, copies elements as opaque fixed-size values. The package also includes
// converters to/from Go native types (and reflect.Type) and generics constraints.
package dtypes

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

func init() {
	if strconv.IntSize != 32 && strconv.IntSize != 64 {
		exceptions.Panicf("cannot use int of %d bits -- only platforms with int32 or int64 are supported", strconv.IntSize)
	}

	// Add a mapping to the lower-case version of dtypes.
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || int(dtype) >= len(dtypeNames) || dtypeNames[dtype] == "" {
		return "DType(" + strconv.Itoa(int(dtype)) + ")"
	}
	return dtypeNames[dtype]
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromGoType(reflect.TypeOf(t))
}

// FromGoType returns the DType for the given "reflect.Type".
// It returns InvalidDType for unknown types.
func FromGoType(t reflect.Type) DType {
	if t == nil {
		return InvalidDType
	}
	if t.Kind() == reflect.Int {
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	}
	for dtype, goType := range goTypes {
		if goType == t {
			return DType(dtype)
		}
	}
	return InvalidDType
}

// FromAny introspects the underlying type of any and returns the corresponding DType.
// Non-scalar types, or unsupported types return InvalidDType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// Size returns the number of bytes for one element of the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// SizeForDimensions returns the size in bytes used for the given dimensions.
//
// It works also for scalar (one element) shapes where the list of dimensions is empty.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("dim cannot be negative for SizeForDimensions, got %v", dimensions)
		}
		numElements *= dim
	}
	return numElements * dtype.Size()
}

// goTypes is indexed by DType. Only the supported (fixed-size) types are set.
var goTypes = [...]reflect.Type{
	Bool:       reflect.TypeFor[bool](),
	Int8:       reflect.TypeFor[int8](),
	Int16:      reflect.TypeFor[int16](),
	Int32:      reflect.TypeFor[int32](),
	Int64:      reflect.TypeFor[int64](),
	Uint8:      reflect.TypeFor[uint8](),
	Uint16:     reflect.TypeFor[uint16](),
	Uint32:     reflect.TypeFor[uint32](),
	Uint64:     reflect.TypeFor[uint64](),
	Float16:    reflect.TypeFor[float16.Float16](),
	Float32:    reflect.TypeFor[float32](),
	Float64:    reflect.TypeFor[float64](),
	BFloat16:   reflect.TypeFor[bfloat16.BFloat16](),
	Complex64:  reflect.TypeFor[complex64](),
	Complex128: reflect.TypeFor[complex128](),
}

// GoType returns the Go `reflect.Type` corresponding to the DType. It panics for unsupported dtypes.
func (dtype DType) GoType() reflect.Type {
	if !dtype.IsSupported() || goTypes[dtype] == nil {
		exceptions.Panicf("unknown dtype %q (%d) in DType.GoType", dtype, int(dtype))
	}
	return goTypes[dtype]
}

// IsSupported returns whether dtype is one of the fixed-size types listed in this package.
func (dtype DType) IsSupported() bool {
	return dtype > InvalidDType && dtype <= Complex128
}

// AllFixedSize lists every supported DType: all of them have a fixed byte width.
func AllFixedSize() []DType {
	all := make([]DType, 0, int(Complex128))
	for dtype := Bool; dtype <= Complex128; dtype++ {
		all = append(all, dtype)
	}
	return all
}

// Supported lists the Go types this package knows how to convert.
// Used as traits for generics.
//
// Notice Go's `int` type is not portable, since it may translate to dtypes Int32 or Int64 depending
// on the platform.
type Supported interface {
	bool | float16.Float16 | bfloat16.BFloat16 |
		float32 | float64 | int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		complex64 | complex128
}

// Integer represents the Go integer types usable as slicing indices.
type Integer interface {
	int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Number represents the Go real numeric types, all of them convertible from an int.
type Number interface {
	constraints.Integer | constraints.Float
}
