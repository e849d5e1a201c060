// Copyright (C) 2026 The tomopick Authors
// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package qsort

import (
	"testing"

	"github.com/valyala/fastrand"
)

// random permutation of 1..n
func permutation(rng *fastrand.RNG, n int) []float32 {
	arr := make([]float32, n)
	for j := range arr {
		arr[j] = float32(j + 1)
	}
	for j := range arr {
		k := rng.Uint32n(uint32(len(arr)))
		arr[j], arr[k] = arr[k], arr[j]
	}
	return arr
}

func TestMedian(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(42)
	for n := 1; n < 500; n++ {
		arr := permutation(&rng, n)

		var expect float32
		if (n & 1) != 0 {
			expect = float32((n + 1) / 2)
		} else {
			expect = 0.5 * (float32(n/2) + float32(n/2+1))
		}

		if res := QSelectMedianFloat32(arr); res != expect {
			t.Errorf("median(1..%d) got %f expect %f", n, res, expect)
		}
	}
}

func TestSelect(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(7)
	for _, n := range []int{1, 2, 17, 128} {
		for k := 1; k <= n; k++ {
			arr := permutation(&rng, n)
			if res := QSelectFloat32(arr, k); res != float32(k) {
				t.Errorf("select(1..%d, %d) got %f", n, k, res)
			}
		}
	}
}

func TestMedianEmpty(t *testing.T) {
	if res := QSelectMedianFloat32(nil); res != 0 {
		t.Errorf("median of empty slice got %f", res)
	}
}
