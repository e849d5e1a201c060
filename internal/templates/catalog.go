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

package templates

import (
	"fmt"
	"io"

	"github.com/tomopick/tomopick/internal/tomo"
)

// An immutable catalog of rotated templates, indexed by label (template id) and tilt id.
// All templates share one odd edge length and the same tilt catalog
type Catalog struct {
	shapes    []Descriptor
	tilts     *TiltCatalog
	edge      int
	templates [][]*tomo.Grid // [label][tilt]
}

// Renders the given shapes, pads them to a common edge and rotates each by every tilt.
// The label of a shape is its index in shapes. Logs progress to logWriter
func BuildCatalog(shapes []Shape, tilts *TiltCatalog, maxThreads int, logWriter io.Writer) (*Catalog, error) {
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no shapes given")
	}
	rank := tilts.Rank()
	bases := make([]*tomo.Grid, len(shapes))
	edge := 1
	for label, s := range shapes {
		g, err := Render(s, rank)
		if err != nil {
			return nil, fmt.Errorf("%d: rendering %v: %w", label, s.Descriptor(), err)
		}
		if g.Stats.NonZero == 0 {
			fmt.Fprintf(logWriter, "%d: Warning: shape %v renders empty\n", label, s.Descriptor())
		}
		g.ID = label
		bases[label] = g
		edge = max(edge, CommonEdge(g))
	}

	c := &Catalog{
		shapes:    make([]Descriptor, len(shapes)),
		tilts:     tilts,
		edge:      edge,
		templates: make([][]*tomo.Grid, len(shapes)),
	}
	for label, s := range shapes {
		c.shapes[label] = s.Descriptor()
		base := PadToEdge(bases[label], edge)
		fmt.Fprintf(logWriter, "%d: Rotating %v in %s box through %d tilts at %d degrees\n",
			label, c.shapes[label], base.DimensionsToString(), tilts.Len(), tilts.Resolution())
		c.templates[label] = RotateAll(base, tilts, maxThreads)
		for tilt, g := range c.templates[label] {
			c.annotate(g, label, tilt)
		}
	}
	return c, nil
}

// Records label and tilt in the template's id and header
func (c *Catalog) annotate(g *tomo.Grid, label, tilt int) {
	t := c.tilts.At(tilt)
	g.ID = label*c.tilts.Len() + tilt
	g.Header.Ints["TEMPLID"] = int32(label)
	g.Header.Ints["TILTID"] = int32(tilt)
	g.Header.Floats["PHI"] = float32(t.Phi)
	g.Header.Floats["THETA"] = float32(t.Theta)
	g.Header.Floats["PSI"] = float32(t.Psi)
	g.Header.Strings["SHAPE"] = c.shapes[label].String()
}

// Number of labels
func (c *Catalog) Len() int { return len(c.templates) }

// Edge length shared by all templates
func (c *Catalog) Edge() int { return c.edge }

// Rank of all templates
func (c *Catalog) Rank() int { return c.tilts.Rank() }

// The tilt catalog
func (c *Catalog) Tilts() *TiltCatalog { return c.tilts }

// Returns the labels in ascending order
func (c *Catalog) Labels() []int {
	labels := make([]int, len(c.templates))
	for i := range labels {
		labels[i] = i
	}
	return labels
}

// Returns the shape descriptor for the given label
func (c *Catalog) Descriptor(label int) Descriptor { return c.shapes[label] }

// Returns the shape descriptors indexed by label
func (c *Catalog) Descriptors() []Descriptor { return append([]Descriptor(nil), c.shapes...) }

// Returns the template for the given label and tilt id
func (c *Catalog) Get(label, tilt int) (*tomo.Grid, error) {
	if label < 0 || label >= len(c.templates) {
		return nil, fmt.Errorf("unknown template id %d, catalog has %d", label, len(c.templates))
	}
	if tilt < 0 || tilt >= c.tilts.Len() {
		return nil, fmt.Errorf("%d: unknown tilt id %d, catalog has %d", label, tilt, c.tilts.Len())
	}
	return c.templates[label][tilt], nil
}
