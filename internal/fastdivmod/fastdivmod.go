// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fastdivmod implements division and modulo by a fixed divisor using a precomputed
// multiplier and shift, so a device kernel can decompose flat indices into per-axis coordinates
// without issuing a division instruction per element.
//
// The method is the one from Granlund and Montgomery, "Division by Invariant Integers using
// Multiplication": for a divisor d, with l = ceil(log2(d)) and M = floor(2^32 * (2^l - d) / d) + 1,
// the quotient of n by d is (umulhi(M, n) + n) >> l, for any 0 <= n < 2^31.
package fastdivmod

import (
	"math"

	"github.com/gomlx/exceptions"
)

// MaxDividend is the largest value that can be divided with a DivMod.
const MaxDividend = math.MaxInt32

// DivMod holds a divisor and its precomputed (multiplier, shift) pair.
//
// It is a plain value with a fixed layout (12 bytes), meant to be staged as-is into device memory.
type DivMod struct {
	Divisor    int32
	Multiplier uint32
	Shift      uint32
}

// New precomputes the DivMod for the divisor d.
//
// A zero divisor is treated as 1, since it is only used for zero-sized axes, which are never iterated.
// It panics if d is negative or larger than MaxDividend.
func New(d int) DivMod {
	if d < 0 || d > MaxDividend {
		exceptions.Panicf("fastdivmod.New(%d): divisor must be in the range [0, %d]", d, MaxDividend)
	}
	if d == 0 {
		d = 1
	}
	var shift uint32
	for shift = 0; shift < 32; shift++ {
		if uint64(1)<<shift >= uint64(d) {
			break
		}
	}
	multiplier := ((uint64(1)<<32)*((uint64(1)<<shift)-uint64(d)))/uint64(d) + 1
	return DivMod{Divisor: int32(d), Multiplier: uint32(multiplier), Shift: shift}
}

// Div returns n / d, for 0 <= n <= MaxDividend.
func (dm DivMod) Div(n int) int {
	un := uint64(uint32(n))
	t := (uint64(dm.Multiplier) * un) >> 32
	return int((t + un) >> dm.Shift)
}

// Mod returns n % d, for 0 <= n <= MaxDividend.
func (dm DivMod) Mod(n int) int {
	return n - dm.Div(n)*int(dm.Divisor)
}

// DivMod returns both quotient and remainder of n by d, for 0 <= n <= MaxDividend.
func (dm DivMod) DivMod(n int) (quotient, remainder int) {
	quotient = dm.Div(n)
	remainder = n - quotient*int(dm.Divisor)
	return
}

// FromPitches converts a list of pitches to DivMod values.
func FromPitches[D ~int | ~int64](pitches []D) []DivMod {
	divMods := make([]DivMod, len(pitches))
	for ii, pitch := range pitches {
		divMods[ii] = New(int(pitch))
	}
	return divMods
}
