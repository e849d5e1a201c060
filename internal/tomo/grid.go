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

// Package tomo holds density grids, voxel positions and candidate placements,
// together with their FITS, CSV and preview image representations.
package tomo

import (
	"fmt"
	"strings"

	"github.com/tomopick/tomopick/internal/stats"
)

// A dense density grid of rank 2 or 3.
// Data is stored with the most quickly varying dimension first, i.e. index x+nx*(y+ny*z)
type Grid struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Header Header  // Additional header keys beyond the structural ones
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y,Z)
	Pixels int32   // Number of cells in the grid. Product of Naxisn[]

	Data []float32 // The density values

	Stats *stats.Stats // Basic statistics, computed on creation and via UpdateStats()
}

// Creates a grid from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewGrid(naxisn []int32, data []float32) *Grid {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Grid{
		Header: NewHeader(),
		Naxisn: append([]int32(nil), naxisn...),
		Pixels: numPixels,
		Data:   data,
		Stats:  stats.NewStats(data),
	}
}

// Creates an empty grid with the same shape and ID as the given one
func NewGridLike(g *Grid) *Grid {
	res := NewGrid(g.Naxisn, nil)
	res.ID = g.ID
	return res
}

// Returns a deep copy of the grid
func (g *Grid) Clone() *Grid {
	res := NewGrid(g.Naxisn, append([]float32(nil), g.Data...))
	res.ID, res.FileName = g.ID, g.FileName
	res.Header = g.Header.Clone()
	return res
}

// Number of axes
func (g *Grid) Rank() int { return len(g.Naxisn) }

// Returns the extent along x, y and z. Rank 2 grids have depth 1
func (g *Grid) Dims() (nx, ny, nz int) {
	nx, ny, nz = int(g.Naxisn[0]), 1, 1
	if len(g.Naxisn) > 1 {
		ny = int(g.Naxisn[1])
	}
	if len(g.Naxisn) > 2 {
		nz = int(g.Naxisn[2])
	}
	return nx, ny, nz
}

// Returns the data index of the given coordinate. Does not check bounds
func (g *Grid) Offset(x, y, z int) int {
	nx, ny, _ := g.Dims()
	return x + nx*(y+ny*z)
}

// Returns true if the coordinate lies within the grid
func (g *Grid) Contains(x, y, z int) bool {
	nx, ny, nz := g.Dims()
	return x >= 0 && x < nx && y >= 0 && y < ny && z >= 0 && z < nz
}

// Returns the value at the given coordinate, or zero outside the grid
func (g *Grid) At(x, y, z int) float32 {
	if !g.Contains(x, y, z) {
		return 0
	}
	return g.Data[g.Offset(x, y, z)]
}

// Returns the coordinate of the given data index
func (g *Grid) Coord(index int) Position {
	nx, ny, _ := g.Dims()
	return Position{X: int32(index % nx), Y: int32((index / nx) % ny), Z: int32(index / (nx * ny))}
}

// Returns the index of the center cell along each axis, i.e. n/2
func (g *Grid) Center() Position {
	nx, ny, nz := g.Dims()
	return Position{X: int32(nx / 2), Y: int32(ny / 2), Z: int32(nz / 2)}
}

// Recalculates statistics after the data has been modified
func (g *Grid) UpdateStats() {
	g.Stats = stats.NewStats(g.Data)
}

func (g *Grid) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range g.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
