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
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Calculate histogram of data between min and max into given bins
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	if max <= min {
		bins[0] = int32(len(data))
		return
	}
	scale := float32(len(bins)-1) / (max - min)
	for _, d := range data {
		if d < min || d > max {
			continue
		}
		bins[int((d-min)*scale)]++
	}
}

// Returns the location and the value of the histogram peak
func GetPeak(bins []int32, min, max float32) (x, y float32) {
	maxIndex, maxValue := 0, int32(math.MinInt32)
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}
	x = binCenter(maxIndex, len(bins), min, max)
	if maxIndex+1 < len(bins) {
		y = 0.5 * float32(bins[maxIndex]+bins[maxIndex+1])
	} else {
		y = float32(bins[maxIndex])
	}
	return x, y
}

func binCenter(i, numBins int, min, max float32) float32 {
	return min + (float32(i)+0.5)*(max-min)/float32(numBins-1)
}

// Calculates the mode and the standard deviation of the given histogram,
// by fitting a normal distribution with Nelder-Mead
func GetModeStdDevFromHistogram(bins []int32, min, max float32) (mode, stdDev float32, err error) {
	if len(bins) < 3 || max <= min {
		return 0, 0, errors.New("histogram too small for mode fitting")
	}

	// initial guess from the histogram maximum and its full width at half maximum
	peak, peakVal := GetPeak(bins, min, max)
	binWidth := float64(max-min) / float64(len(bins)-1)
	sigma0 := math.Max(1, float64(halfMaxWidth(bins))/2.3548) * binWidth
	x0 := []float64{float64(peakVal) * sigma0 * math.Sqrt(2*math.Pi), float64(peak), sigma0}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], math.Abs(x[2])+1e-12
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := 0.0
			for i, y := range bins {
				xmusig := (float64(binCenter(i, len(bins), min, max)) - mu) / sigma
				diff := float64(y) - scaler*math.Exp(-0.5*xmusig*xmusig)
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / float64(len(bins)))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, 0, err
	}
	return float32(result.X[1]), float32(math.Abs(result.X[2])), nil
}

// Number of bins around the histogram maximum with at least half its count
func halfMaxWidth(bins []int32) int {
	peak := 0
	for i, v := range bins {
		if v > bins[peak] {
			peak = i
		}
	}
	half := bins[peak] / 2
	left, right := peak, peak
	for left > 0 && bins[left-1] >= half {
		left--
	}
	for right < len(bins)-1 && bins[right+1] >= half {
		right++
	}
	return right - left + 1
}
