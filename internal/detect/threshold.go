// Copyright (C) 2026 The tomopick Authors
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

package detect

import (
	"github.com/tomopick/tomopick/internal/stats"
	"github.com/tomopick/tomopick/internal/tomo"
)

const autoThresholdBins = 256

// Estimates a detection threshold as the mode of the saliency histogram plus the given
// number of standard deviations of a gaussian fitted around it. Falls back to the
// median and MAD if the fit fails
func AutoThreshold(g *tomo.Grid, sigmas float32) (float32, error) {
	if g.Stats == nil {
		g.UpdateStats()
	}
	s := g.Stats
	if s.Max <= s.Min {
		return s.Max, nil
	}
	bins := make([]int32, autoThresholdBins)
	stats.Histogram(g.Data, s.Min, s.Max, bins)
	mode, stdDev, err := stats.GetModeStdDevFromHistogram(bins, s.Min, s.Max)
	if err != nil || stdDev <= 0 || mode < s.Min || mode > s.Max {
		return s.Location + sigmas*s.Scale, nil
	}
	return mode + sigmas*stdDev, nil
}
