// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fastdivmod

import (
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestDivMod(t *testing.T) {
	divisors := []int{1, 2, 3, 5, 7, 10, 12, 64, 100, 255, 256, 1000, 4099, 65535, 65536, 1 << 20, 1<<30 + 3, MaxDividend}
	rng := rand.New(rand.NewPCG(42, 7))
	for _, d := range divisors {
		dm := New(d)
		values := []int{0, 1, d - 1, d, d + 1, 2*d - 1, MaxDividend, MaxDividend - 1}
		for range 2000 {
			values = append(values, rng.IntN(MaxDividend+1))
		}
		for _, n := range values {
			if n < 0 || n > MaxDividend {
				continue
			}
			q, r := dm.DivMod(n)
			require.Equalf(t, n/d, q, "%d / %d", n, d)
			require.Equalf(t, n%d, r, "%d %% %d", n, d)
			require.Equal(t, n/d, dm.Div(n))
			require.Equal(t, n%d, dm.Mod(n))
		}
	}
}

func TestZeroDivisor(t *testing.T) {
	dm := New(0)
	require.Equal(t, int32(1), dm.Divisor)
	require.Equal(t, 17, dm.Div(17))
	require.Panics(t, func() { New(-1) })
}

func TestFromPitches(t *testing.T) {
	divMods := FromPitches([]int64{12, 4, 1})
	require.Len(t, divMods, 3)
	q, r := divMods[0].DivMod(23)
	require.Equal(t, 1, q)
	require.Equal(t, 11, r)
	require.Equal(t, uintptr(12), unsafe.Sizeof(DivMod{}))
}
