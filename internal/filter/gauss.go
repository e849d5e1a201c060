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

// Package filter provides separable smoothing filters on flat N-dimensional density grids.
package filter

import (
	"math"
)

const sqrt2 = 1.4142135623730951

// Check if coordinate is within [0, size-1], and if not, reflect out of bounds coordinates back into the value range.
// Repeats the reflection for kernels wider than the axis
func reflect(size, x int) int {
	if size == 1 {
		return 0
	}
	for x < 0 || x >= size {
		if x < 0 {
			x = -x - 1
		}
		if x >= size {
			x = 2*size - x - 1
		}
	}
	return x
}

// Returns the definite integral of the gaussian function with midpoint mu and standard deviation sigma for input x
func GaussianDefiniteIntegral(mu, sigma, x float32) float32 {
	return 0.5 * (1 + float32(math.Erf(float64((x-mu)/(sqrt2*sigma)))))
}

// Generates a 1D gaussian kernel for the given sigma. Based on symbolic integration via error function
func GaussianKernel1D(sigma float32) (kernel []float32) {
	mu := float32(0)

	// Find minimal kernel width for which the area under the curve left of the kernel is below the acceptable error
	acceptOut := float32(0.01)
	radius := 0
	for {
		val := GaussianDefiniteIntegral(mu, sigma, float32(-0.5)-float32(radius))
		if val < acceptOut {
			radius--
			break
		}
		radius++
	}
	if radius < 0 {
		radius = 0
	}
	kernel = make([]float32, 2*radius+1)

	// Left half via symbolic integration
	sum := float32(0)
	lower := GaussianDefiniteIntegral(mu, sigma, float32(-0.5)-float32(radius))
	for i := 0; i <= radius; i++ {
		upper := GaussianDefiniteIntegral(mu, sigma, float32(-0.5)-float32(radius)+float32(i+1))
		kernel[i] = upper - lower
		sum += kernel[i]
		lower = upper
	}

	// Mirror right half to avoid numeric instability
	for i := 1; i <= radius; i++ {
		kernel[radius+i] = kernel[radius-i]
		sum += kernel[radius+i]
	}

	// Normalize the truncated distribution to 1
	factor := 1 / sum
	for i := range kernel {
		kernel[i] *= factor
	}
	return kernel
}

// Returns the stride of the given axis and the number of lines along it for a grid of the given shape
func strides(naxisn []int32, axis int) (stride, size, pixels int) {
	stride, pixels = 1, 1
	for i, n := range naxisn {
		if i < axis {
			stride *= int(n)
		}
		pixels *= int(n)
	}
	return stride, int(naxisn[axis]), pixels
}

// Convolve the grid given by data and naxisn with the 1D kernel along the given axis, storing the result in res.
// Borders are handled by reflection
func ConvolveAxis(res, data []float32, naxisn []int32, axis int, kernel []float32) {
	stride, size, pixels := strides(naxisn, axis)
	k := len(kernel) / 2
	block := stride * size
	for base := 0; base < pixels; base += block {
		for inner := 0; inner < stride; inner++ {
			line := base + inner
			for x := 0; x < size; x++ {
				sum := float32(0)
				for i := -k; i <= k; i++ {
					sum += data[line+reflect(size, x+i)*stride] * kernel[i+k]
				}
				res[line+x*stride] = sum
			}
		}
	}
}

// Applies a gaussian filter of given standard deviation to the grid given by data and naxisn,
// one separable pass per axis. Axes of size one are skipped. Overwrites tmp and returns the result in res,
// which must not alias data
func GaussFilter(res, tmp, data []float32, naxisn []int32, sigma float32) {
	kernel := GaussianKernel1D(sigma)
	src := data
	passes := 0
	for axis, n := range naxisn {
		if n <= 1 {
			continue
		}
		// alternate between buffers so the final pass lands in res
		dst := tmp
		if remainingPasses(naxisn, axis)%2 == 1 {
			dst = res
		}
		ConvolveAxis(dst, src, naxisn, axis, kernel)
		src = dst
		passes++
	}
	if passes == 0 {
		copy(res, data)
	}
}

// Number of passes from the given axis onwards, including it
func remainingPasses(naxisn []int32, from int) int {
	count := 0
	for _, n := range naxisn[from:] {
		if n > 1 {
			count++
		}
	}
	return count
}

// Returns the half width of the gaussian kernel for the given sigma
func KernelRadius(sigma float32) int {
	return len(GaussianKernel1D(sigma)) / 2
}
