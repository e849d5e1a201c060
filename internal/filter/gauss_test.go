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

package filter

import (
	"math"
	"testing"
)

type gaussianKernel1DTestCase struct {
	Sigma  float32
	Kernel []float32
}

func TestGaussianKernel1D(t *testing.T) {
	epsilon := 1e-5
	tcs := []gaussianKernel1DTestCase{
		{1.0, []float32{0.27901, 0.44198, 0.27901}},
		{2.0, []float32{0.028532, 0.067234, 0.124009, 0.179044, 0.20236, 0.179044, 0.124009, 0.067234, 0.028532}},
		{3.0, []float32{0.018816, 0.034474, 0.056577, 0.083173, 0.109523, 0.129188, 0.136498, 0.129188, 0.109523,
			0.083173, 0.056577, 0.034474, 0.018816}},
	}

	for _, tc := range tcs {
		kernel := GaussianKernel1D(tc.Sigma)
		if len(kernel) != len(tc.Kernel) {
			t.Fatalf("sigma=%f len=%d; want %d", tc.Sigma, len(kernel), len(tc.Kernel))
		}
		sum := float32(0)
		for i, k := range kernel {
			if math.Abs(float64(k-tc.Kernel[i])) > epsilon {
				t.Errorf("sigma=%f k[%d]=%f; want %f", tc.Sigma, i, k, tc.Kernel[i])
			}
			sum += k
		}
		if math.Abs(float64(sum-1)) > epsilon {
			t.Errorf("sigma=%f sum=%f; want 1", tc.Sigma, sum)
		}
	}
}

func TestReflect(t *testing.T) {
	tcs := []struct{ size, x, want int }{
		{5, -1, 0}, {5, -2, 1}, {5, 5, 4}, {5, 6, 3}, {5, 2, 2}, {1, -3, 0}, {2, -4, 0}, {2, 3, 0},
	}
	for _, tc := range tcs {
		if got := reflect(tc.size, tc.x); got != tc.want {
			t.Errorf("reflect(%d,%d)=%d; want %d", tc.size, tc.x, got, tc.want)
		}
	}
}

func TestGaussFilterPreservesMass(t *testing.T) {
	for _, naxisn := range [][]int32{{16, 16}, {12, 12, 12}, {9, 1, 7}} {
		pixels := 1
		for _, n := range naxisn {
			pixels *= int(n)
		}
		data := make([]float32, pixels)
		data[pixels/2] = 100
		res, tmp := make([]float32, pixels), make([]float32, pixels)
		GaussFilter(res, tmp, data, naxisn, 1)

		sum := float32(0)
		for _, v := range res {
			sum += v
		}
		if math.Abs(float64(sum-100)) > 1e-3 {
			t.Errorf("naxisn=%v sum=%f; want 100", naxisn, sum)
		}
		if res[pixels/2] >= 100 || res[pixels/2] <= 0 {
			t.Errorf("naxisn=%v center=%f not smoothed", naxisn, res[pixels/2])
		}
	}
}

func TestGaussFilterConstant(t *testing.T) {
	naxisn := []int32{7, 5, 3}
	data := make([]float32, 7*5*3)
	for i := range data {
		data[i] = 2
	}
	res, tmp := make([]float32, len(data)), make([]float32, len(data))
	GaussFilter(res, tmp, data, naxisn, 2)
	for i, v := range res {
		if math.Abs(float64(v-2)) > 1e-5 {
			t.Fatalf("res[%d]=%f; want 2", i, v)
		}
	}
}
