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

package compose

import (
	"fmt"
	"math"

	"github.com/tomopick/tomopick/internal/sampler"
	"github.com/tomopick/tomopick/internal/templates"
	"github.com/tomopick/tomopick/internal/tomo"
	"github.com/valyala/fastrand"
)

// Selects the content of a random tomogram
type Criteria struct {
	Counts     []int   `json:"counts"`     // number of instances per label
	Separation float64 `json:"separation"` // minimum center distance, 0 selects the catalog edge
}

// Total number of instances
func (c Criteria) Total() int {
	n := 0
	for _, count := range c.Counts {
		n += count
	}
	return n
}

// Composes a tomogram with spaced random positions, shuffled labels and uniformly random tilts.
// Positions are drawn from the interior region where every template fits entirely.
// Seed 0 selects a time-based seed
func Random(naxisn []int32, catalog *templates.Catalog, criteria Criteria, seed uint32) (*tomo.Tomogram, error) {
	if len(criteria.Counts) > catalog.Len() {
		return nil, fmt.Errorf("criteria name %d labels, catalog has %d", len(criteria.Counts), catalog.Len())
	}
	c, err := NewComposer(naxisn, catalog)
	if err != nil {
		return nil, err
	}
	n := criteria.Total()
	if n == 0 {
		return c.Tomogram(), nil
	}

	edge := catalog.Edge()
	var extents [3]float64
	for i := range extents {
		extents[i] = 1
		if i < len(naxisn) {
			extents[i] = float64(int(naxisn[i]) - edge + 1)
		}
		if extents[i] < 1 {
			return nil, &OutOfBoundsPlacementError{
				Label: tomo.LabelUnknown, Tilt: tomo.TiltUnknown,
				Size:   []int32{int32(edge)},
				Naxisn: append([]int32(nil), naxisn...),
			}
		}
	}
	sep := criteria.Separation
	if sep <= 0 {
		sep = float64(edge)
	}
	points, err := sampler.Sample(extents[0], extents[1], extents[2], sep, n, seed)
	if err != nil {
		return nil, err
	}

	var rng fastrand.RNG
	if seed != 0 {
		rng.Seed(seed ^ 0x9e3779b9)
	}
	labels := make([]int, 0, n)
	for label, count := range criteria.Counts {
		for i := 0; i < count; i++ {
			labels = append(labels, label)
		}
	}
	for i := len(labels) - 1; i > 0; i-- {
		j := int(rng.Uint32n(uint32(i + 1)))
		labels[i], labels[j] = labels[j], labels[i]
	}

	half := int32(edge / 2)
	numTilts := uint32(catalog.Tilts().Len())
	for i, p := range points {
		pos := tomo.Position{
			X: int32(math.Floor(p.X)) + half,
			Y: int32(math.Floor(p.Y)) + half,
			Z: int32(math.Floor(p.Z)),
		}
		if len(naxisn) > 2 {
			pos.Z += half
		}
		tilt := int(rng.Uint32n(numTilts))
		if err := c.Add(tomo.NewCandidate(labels[i], pos, tilt)); err != nil {
			return nil, err
		}
	}
	return c.Tomogram(), nil
}
