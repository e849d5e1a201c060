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
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// An orientation as three sequential planar rotations in degrees:
// Phi about z, then Theta about y, then Psi about z
type Tilt struct {
	Phi   float64 `json:"phi"`
	Theta float64 `json:"theta"`
	Psi   float64 `json:"psi"`
}

func (t Tilt) String() string {
	return fmt.Sprintf("(%g,%g,%g)", t.Phi, t.Theta, t.Psi)
}

// Returns true if all three angles are multiples of a full turn
func (t Tilt) IsIdentity() bool {
	full := func(a float64) bool { return math.Mod(a, 360) == 0 }
	return full(t.Phi) && full(t.Theta) && full(t.Psi)
}

var (
	axisY = r3.Vec{Y: 1}
	axisZ = r3.Vec{Z: 1}
)

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Applies the tilt to v
func (t Tilt) Apply(v r3.Vec) r3.Vec {
	v = r3.NewRotation(radians(t.Phi), axisZ).Rotate(v)
	v = r3.NewRotation(radians(t.Theta), axisY).Rotate(v)
	return r3.NewRotation(radians(t.Psi), axisZ).Rotate(v)
}

// Applies the inverse of the tilt to v
func (t Tilt) Invert(v r3.Vec) r3.Vec {
	v = r3.NewRotation(-radians(t.Psi), axisZ).Rotate(v)
	v = r3.NewRotation(-radians(t.Theta), axisY).Rotate(v)
	return r3.NewRotation(-radians(t.Phi), axisZ).Rotate(v)
}

// Returns the matrix of the inverse rotation, rows first. Entries within
// 1e-12 of an integer are snapped, so quarter turns map cells onto cells exactly
func (t Tilt) inverseMatrix() (m [3][3]float64) {
	cols := [3]r3.Vec{t.Invert(r3.Vec{X: 1}), t.Invert(r3.Vec{Y: 1}), t.Invert(r3.Vec{Z: 1})}
	for c, v := range cols {
		m[0][c], m[1][c], m[2][c] = snap(v.X), snap(v.Y), snap(v.Z)
	}
	return m
}

func snap(x float64) float64 {
	if r := math.Round(x); math.Abs(x-r) < 1e-12 {
		return r
	}
	return x
}

// An immutable, enumerated set of orientations. Tilt id i is the index into the catalog
type TiltCatalog struct {
	resolution int
	rank       int
	tilts      []Tilt
}

// Creates the 3D tilt catalog at the given angular resolution in degrees,
// which must divide 180. For every phi the polar caps appear once, and the
// band theta in [res, 180-res] is covered with every psi. Tilt 0 is the identity
func NewTiltCatalog(resolution int) (*TiltCatalog, error) {
	if resolution <= 0 || 180%resolution != 0 {
		return nil, fmt.Errorf("tilt resolution %d must be a positive divisor of 180", resolution)
	}
	steps := 360 / resolution
	tilts := make([]Tilt, 0, steps*(2+(180/resolution-1)*steps))
	for phi := 0; phi < 360; phi += resolution {
		tilts = append(tilts, Tilt{Phi: float64(phi)})
		for theta := resolution; theta <= 180-resolution; theta += resolution {
			for psi := 0; psi < 360; psi += resolution {
				tilts = append(tilts, Tilt{Phi: float64(phi), Theta: float64(theta), Psi: float64(psi)})
			}
		}
		tilts = append(tilts, Tilt{Phi: float64(phi), Theta: 180})
	}
	return &TiltCatalog{resolution: resolution, rank: 3, tilts: tilts}, nil
}

// Creates a catalog of in-plane rotations for rank 2 grids, one per phi step
func NewPlanarTiltCatalog(resolution int) (*TiltCatalog, error) {
	if resolution <= 0 || 180%resolution != 0 {
		return nil, fmt.Errorf("tilt resolution %d must be a positive divisor of 180", resolution)
	}
	tilts := make([]Tilt, 0, 360/resolution)
	for phi := 0; phi < 360; phi += resolution {
		tilts = append(tilts, Tilt{Phi: float64(phi)})
	}
	return &TiltCatalog{resolution: resolution, rank: 2, tilts: tilts}, nil
}

// Creates the tilt catalog suitable for grids of the given rank
func NewTiltCatalogForRank(rank, resolution int) (*TiltCatalog, error) {
	switch rank {
	case 2:
		return NewPlanarTiltCatalog(resolution)
	case 3:
		return NewTiltCatalog(resolution)
	default:
		return nil, fmt.Errorf("unsupported rank %d", rank)
	}
}

func (c *TiltCatalog) Len() int        { return len(c.tilts) }
func (c *TiltCatalog) At(id int) Tilt  { return c.tilts[id] }
func (c *TiltCatalog) Resolution() int { return c.resolution }
func (c *TiltCatalog) Rank() int       { return c.rank }

// Returns a copy of all tilts, indexed by tilt id
func (c *TiltCatalog) Tilts() []Tilt {
	return append([]Tilt(nil), c.tilts...)
}
