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

package evaluate

import (
	"fmt"
	"math"
	"sort"

	"github.com/tomopick/tomopick/internal/tomo"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Detection quality against ground truth
type Report struct {
	Detections     int     `json:"detections"`
	Truth          int     `json:"truth"`
	TruePositives  int     `json:"truePositives"`
	FalsePositives int     `json:"falsePositives"`
	Misses         int     `json:"misses"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	MeanError      float64 `json:"meanError"`   // mean distance of refined centres to matched truth
	StdDevError    float64 `json:"stdDevError"` // standard deviation of that distance
}

func (r Report) String() string {
	return fmt.Sprintf("TP %d FP %d FN %d of %d detections and %d truth, precision %.3f recall %.3f F1 %.3f, error %.3f+-%.3f",
		r.TruePositives, r.FalsePositives, r.Misses, r.Detections, r.Truth,
		r.Precision, r.Recall, r.F1, r.MeanError, r.StdDevError)
}

// CSV header matching ToCSVLine
func (r Report) ToCSVHeader() string {
	return "Detections,Truth,TP,FP,FN,Precision,Recall,F1,MeanError,StdDevError"
}

// Report as a CSV line item
func (r Report) ToCSVLine() string {
	return fmt.Sprintf("%d,%d,%d,%d,%d,%.6g,%.6g,%.6g,%.6g,%.6g",
		r.Detections, r.Truth, r.TruePositives, r.FalsePositives, r.Misses,
		r.Precision, r.Recall, r.F1, r.MeanError, r.StdDevError)
}

// Combines two reports over disjoint tomograms, pooling the centre error statistics
func (r Report) Add(o Report) Report {
	res := Report{
		Detections:     r.Detections + o.Detections,
		Truth:          r.Truth + o.Truth,
		TruePositives:  r.TruePositives + o.TruePositives,
		FalsePositives: r.FalsePositives + o.FalsePositives,
		Misses:         r.Misses + o.Misses,
	}
	res.summarize()
	n1, n2 := float64(r.TruePositives), float64(o.TruePositives)
	n := n1 + n2
	if n == 0 {
		return res
	}
	res.MeanError = (n1*r.MeanError + n2*o.MeanError) / n
	if n > 1 {
		ss := sumSquares(n1, r.MeanError, r.StdDevError) + sumSquares(n2, o.MeanError, o.StdDevError)
		res.StdDevError = math.Sqrt(math.Max(0, (ss-n*res.MeanError*res.MeanError)/(n-1)))
	}
	return res
}

// Sum of squared values of a sample with given size, mean and unbiased standard deviation
func sumSquares(n, mean, stdDev float64) float64 {
	if n == 0 {
		return 0
	}
	return (n-1)*stdDev*stdDev + n*mean*mean
}

// Derives precision, recall and F1 from the counts
func (r *Report) summarize() {
	r.Precision, r.Recall, r.F1 = 0, 0, 0
	if r.Detections > 0 {
		r.Precision = float64(r.TruePositives) / float64(r.Detections)
	}
	if r.Truth > 0 {
		r.Recall = float64(r.TruePositives) / float64(r.Truth)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
}

type match struct {
	det, truth int
	dsq        int64
}

// Matches detections to ground truth one-to-one, greedily by increasing distance
// up to maxDist voxels, and summarizes the result
func Evaluate(dets, truth []tomo.Candidate, maxDist float64) Report {
	maxDsq := int64(maxDist * maxDist)
	var matches []match
	for i, d := range dets {
		for j, t := range truth {
			if dsq := d.DistSquared(t.Position); dsq <= maxDsq {
				matches = append(matches, match{i, j, dsq})
			}
		}
	}
	sort.Slice(matches, func(a, b int) bool {
		ma, mb := matches[a], matches[b]
		if ma.dsq != mb.dsq {
			return ma.dsq < mb.dsq
		}
		if ma.det != mb.det {
			return ma.det < mb.det
		}
		return ma.truth < mb.truth
	})

	detUsed, truthUsed := make([]bool, len(dets)), make([]bool, len(truth))
	var errs []float64
	for _, m := range matches {
		if detUsed[m.det] || truthUsed[m.truth] {
			continue
		}
		detUsed[m.det], truthUsed[m.truth] = true, true
		errs = append(errs, r3.Norm(r3.Sub(dets[m.det].Refined, truth[m.truth].Position.Vec())))
	}

	r := Report{
		Detections:     len(dets),
		Truth:          len(truth),
		TruePositives:  len(errs),
		FalsePositives: len(dets) - len(errs),
		Misses:         len(truth) - len(errs),
	}
	r.summarize()
	switch len(errs) {
	case 0:
	case 1:
		r.MeanError = errs[0]
	default:
		r.MeanError, r.StdDevError = stat.MeanStdDev(errs, nil)
	}
	if math.IsNaN(r.StdDevError) {
		r.StdDevError = 0
	}
	return r
}
