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

	"github.com/tomopick/tomopick/internal/qsort"
)

// Applies a 3x3 median filter to each xy plane of the flat data with the given axis
// dimensions, and stores the result in res. Copies the outermost rows and columns of each plane unchanged
func MedianFilter3x3(res, data []float32, naxisn []int32) {
	width := int(naxisn[0])
	height := 1
	if len(naxisn) > 1 {
		height = int(naxisn[1])
	}
	plane := width * height
	if width < 3 || height < 3 {
		copy(res, data)
		return
	}
	for start := 0; start+plane <= len(data); start += plane {
		medianPlane3x3(res[start:start+plane], data[start:start+plane], width)
	}
}

func medianPlane3x3(output, data []float32, width int) {
	height := len(data) / width
	copy(output[:width], data[:width]) // copy first row

	for line := 0; line < height-2; line++ {
		start, end := line*width, (line+3)*width

		output[start+width] = data[start+width] // copy first column
		medianLine3x3(output[start:end], data[start:end], width)
		output[start+2*width-1] = data[start+2*width-1] // copy last column
	}
	copy(output[(height-1)*width:], data[(height-1)*width:]) // copy last row
}

// Input data is three lines of given width. Applies a 3x3 median filter to these.
// Stores results in the middle row of the output. Does not touch first and last column
func medianLine3x3(output, data []float32, width int) {
	var gathered [9]float32
	for i := width + 1; i < 2*width-1; i++ {
		o := i - width - 1
		copy(gathered[0:3], data[o:o+3])
		copy(gathered[3:6], data[o+width:o+width+3])
		copy(gathered[6:9], data[o+2*width:o+2*width+3])
		output[i] = MedianFloat32Slice9(gathered[:])
	}
}

// Calculates the median of a float32 slice of length nine with a min/max network.
// Modifies the elements in place. Array must not contain IEEE NaN
func MedianFloat32Slice9(a []float32) float32 {
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[1] > a[2] {
		a[1], a[2] = a[2], a[1]
	}
	if a[4] > a[5] {
		a[4], a[5] = a[5], a[4]
	}
	if a[7] > a[8] {
		a[7], a[8] = a[8], a[7]
	}
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[0] > a[3] {
		a[3] = a[0]
	}
	if a[3] > a[6] {
		a[6] = a[3]
	}
	if a[1] > a[4] {
		a[1], a[4] = a[4], a[1]
	}
	if a[4] > a[7] {
		a[4] = a[7]
	}
	if a[1] > a[4] {
		a[4] = a[1]
	}
	if a[5] > a[8] {
		a[5] = a[8]
	}
	if a[2] > a[5] {
		a[2] = a[5]
	}
	if a[2] > a[4] {
		a[2], a[4] = a[4], a[2]
	}
	if a[4] > a[6] {
		a[4] = a[6]
	}
	if a[2] > a[4] {
		a[4] = a[2]
	}
	return a[4]
}

// Calculates the median of a float32 slice. Modifies the elements in place.
// Array must not contain IEEE NaN
func MedianFloat32(a []float32) float32 {
	if len(a) == 0 {
		return float32(math.NaN())
	}
	if len(a) == 9 {
		return MedianFloat32Slice9(a)
	}
	return qsort.QSelectMedianFloat32(a)
}
