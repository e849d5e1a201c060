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

// Package compose builds synthetic tomograms by additive superposition of catalog
// templates, at explicit positions or at spaced random positions.
package compose

import (
	"fmt"

	"github.com/tomopick/tomopick/internal/templates"
	"github.com/tomopick/tomopick/internal/tomo"
)

// Returned when a template placed at a position would extend beyond the target grid
type OutOfBoundsPlacementError struct {
	Label    int
	Tilt     int
	Position tomo.Position
	Size     []int32 // template extent
	Naxisn   []int32 // target extent
}

func (e *OutOfBoundsPlacementError) Error() string {
	return fmt.Sprintf("%d: template with tilt %d and size %v placed at %v exceeds grid %v",
		e.Label, e.Tilt, e.Size, e.Position, e.Naxisn)
}

// Adds src into dst so that the centre cell of src lands on pos. Overlaps accumulate.
// Fails without modifying dst if any part of src would fall outside dst
func Place(dst, src *tomo.Grid, pos tomo.Position) error {
	if dst.Rank() != src.Rank() {
		return fmt.Errorf("%d: cannot place rank %d template into rank %d grid", src.ID, src.Rank(), dst.Rank())
	}
	c := src.Center()
	ox, oy, oz := int(pos.X-c.X), int(pos.Y-c.Y), int(pos.Z-c.Z)
	sx, sy, sz := src.Dims()
	if !dst.Contains(ox, oy, oz) || !dst.Contains(ox+sx-1, oy+sy-1, oz+sz-1) {
		return &OutOfBoundsPlacementError{
			Label: tomo.LabelUnknown, Tilt: tomo.TiltUnknown, Position: pos,
			Size:   append([]int32(nil), src.Naxisn...),
			Naxisn: append([]int32(nil), dst.Naxisn...),
		}
	}
	for z := 0; z < sz; z++ {
		for y := 0; y < sy; y++ {
			srcRow := src.Data[src.Offset(0, y, z) : src.Offset(0, y, z)+sx]
			dstRow := dst.Data[dst.Offset(ox, oy+y, oz+z) : dst.Offset(ox, oy+y, oz+z)+sx]
			for x, v := range srcRow {
				dstRow[x] += v
			}
		}
	}
	return nil
}

// Accumulates template instances into a grid it owns until Tomogram is called
type Composer struct {
	catalog  *templates.Catalog
	tomogram *tomo.Tomogram
}

// Creates a composer for an empty grid of the given shape, which must match the catalog rank
func NewComposer(naxisn []int32, catalog *templates.Catalog) (*Composer, error) {
	if len(naxisn) != catalog.Rank() {
		return nil, fmt.Errorf("grid rank %d does not match catalog rank %d", len(naxisn), catalog.Rank())
	}
	for _, n := range naxisn {
		if n <= 0 {
			return nil, fmt.Errorf("invalid grid shape %v", naxisn)
		}
	}
	return &Composer{
		catalog:  catalog,
		tomogram: tomo.NewTomogram(tomo.NewGrid(naxisn, nil)),
	}, nil
}

// Adds the template for the candidate's label and tilt, centred on its position,
// and records the candidate in the composition
func (c *Composer) Add(cand tomo.Candidate) error {
	if c.tomogram == nil {
		return fmt.Errorf("composer already finished")
	}
	t, err := c.catalog.Get(cand.Label, cand.Tilt)
	if err != nil {
		return err
	}
	if err := Place(c.tomogram.Grid, t, cand.Position); err != nil {
		if oob, ok := err.(*OutOfBoundsPlacementError); ok {
			oob.Label, oob.Tilt = cand.Label, cand.Tilt
		}
		return err
	}
	c.tomogram.Composition = append(c.tomogram.Composition, cand)
	return nil
}

// Finishes composition and returns the tomogram. The composer cannot be used afterwards
func (c *Composer) Tomogram() *tomo.Tomogram {
	t := c.tomogram
	c.tomogram = nil
	if t != nil {
		t.UpdateStats()
	}
	return t
}

// Composes a tomogram of the given shape from the candidates, in order
func Compose(naxisn []int32, catalog *templates.Catalog, cands []tomo.Candidate) (*tomo.Tomogram, error) {
	c, err := NewComposer(naxisn, catalog)
	if err != nil {
		return nil, err
	}
	for _, cand := range cands {
		if err := c.Add(cand); err != nil {
			return nil, err
		}
	}
	return c.Tomogram(), nil
}
