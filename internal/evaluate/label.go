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

// Package evaluate compares detected candidates against the ground truth composition
// of a synthetic tomogram: labeling, label set checks and precision/recall reports.
package evaluate

import (
	"fmt"
	"sort"

	"github.com/tomopick/tomopick/internal/tomo"
)

// Returned when a candidate set carries fewer than two distinct labels,
// which leaves a downstream classifier nothing to separate
type DegenerateLabelSetError struct {
	Labels     []int
	Candidates int
}

func (e *DegenerateLabelSetError) Error() string {
	return fmt.Sprintf("degenerate label set %v over %d candidates, need at least two distinct labels", e.Labels, e.Candidates)
}

// Returns a copy of the detections where each one carries the label and tilt of the nearest
// ground truth instance within maxDist voxels. Detections without one are labeled junk
func Label(dets, truth []tomo.Candidate, maxDist float64) []tomo.Candidate {
	pos := make([]tomo.Position, len(truth))
	for i, t := range truth {
		pos[i] = t.Position
	}
	kdt := NewKDTree3(pos)
	maxDsq := int64(maxDist * maxDist)

	res := make([]tomo.Candidate, len(dets))
	for i, d := range dets {
		res[i] = d
		nn, dsq := kdt.NearestNeighbor(d.Position)
		if nn.Index < 0 || dsq > maxDsq {
			res[i].Label, res[i].Tilt = tomo.LabelJunk, tomo.TiltUnknown
			continue
		}
		res[i].Label, res[i].Tilt = truth[nn.Index].Label, truth[nn.Index].Tilt
	}
	return res
}

// Returns the distinct labels in ascending order
func Labels(cands []tomo.Candidate) []int {
	seen := map[int]bool{}
	var labels []int
	for _, c := range cands {
		if !seen[c.Label] {
			seen[c.Label] = true
			labels = append(labels, c.Label)
		}
	}
	sort.Ints(labels)
	return labels
}

// Fails with DegenerateLabelSetError unless the candidates carry at least two distinct labels
func CheckLabelSet(cands []tomo.Candidate) error {
	if labels := Labels(cands); len(labels) < 2 {
		return &DegenerateLabelSetError{Labels: labels, Candidates: len(cands)}
	}
	return nil
}
