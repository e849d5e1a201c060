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

package stats

import (
	"fmt"
	"math"

	"github.com/tomopick/tomopick/internal/qsort"
	"github.com/valyala/fastrand"
)

// Number of samples used for approximate location and scale on large grids
const numSamples = 32 * 1024

// Basic statistics on a density grid
type Stats struct {
	Min    float32 // Minimum
	Max    float32 // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Standard deviation (norm 2, sigma)
	Sum    float64 // Total mass

	Location float32 // Sampled median
	Scale    float32 // Sampled median absolute deviation, normalized to a Gaussian std dev
	NonZero  int     // Number of cells with non-zero density
}

// Pretty print stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Sum %.6g Location %.6g Scale %.6g NonZero %d",
		s.Min, s.Max, s.Mean, s.StdDev, s.Sum, s.Location, s.Scale, s.NonZero)
}

// CSV header matching ToCSVLine
func (s *Stats) ToCSVHeader() string {
	return "Min,Max,Mean,StdDev,Sum,Location,Scale,NonZero"
}

// Stats as a CSV line item
func (s *Stats) ToCSVLine() string {
	return fmt.Sprintf("%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%d",
		s.Min, s.Max, s.Mean, s.StdDev, s.Sum, s.Location, s.Scale, s.NonZero)
}

// Calculates statistics for the given data. Grids with up to numSamples cells are
// evaluated exactly, larger ones via a fixed-seed random subsample
func NewStats(data []float32) *Stats {
	s := &Stats{}
	if len(data) == 0 {
		return s
	}
	s.Min, s.Mean, s.Max, s.Sum, s.NonZero = minMeanMax(data)
	s.StdDev = float32(math.Sqrt(variance(data, s.Mean)))

	var samples []float32
	if len(data) <= numSamples {
		samples = append([]float32(nil), data...)
	} else {
		samples = make([]float32, numSamples)
		sample(data, samples)
	}
	s.Location = qsort.QSelectMedianFloat32(samples)
	for i, v := range samples {
		samples[i] = float32(math.Abs(float64(v - s.Location)))
	}
	s.Scale = qsort.QSelectMedianFloat32(samples) * 1.4826 // normalize to Gaussian std dev
	return s
}

// Fills samples with randomly chosen data values. Uses a fixed seed so results are repeatable
func sample(data, samples []float32) {
	rng := fastrand.RNG{}
	rng.Seed(uint32(len(data)))
	max := uint32(len(data))
	for i := range samples {
		samples[i] = data[rng.Uint32n(max)]
	}
}

// Calculate minimum, mean, maximum, sum and count of non-zero values
func minMeanMax(data []float32) (min, mean, max float32, sum float64, nonZero int) {
	min, max = data[0], data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		if v != 0 {
			nonZero++
		}
		sum += float64(v)
	}
	return min, float32(sum / float64(len(data))), max, sum, nonZero
}

// Calculate variance of given data from provided mean
func variance(data []float32, mean float32) float64 {
	v := float64(0)
	for _, d := range data {
		diff := float64(d - mean)
		v += diff * diff
	}
	return v / float64(len(data))
}
