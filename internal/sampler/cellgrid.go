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

package sampler

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Integer address of a cell in the acceleration grid
type cellIndex [3]int

// Spatial bucket grid over the sampling domain. Each cell stores the ids of
// the accepted points inside it. All index arithmetic lives here
type cellGrid struct {
	dims     cellIndex
	cellSize float64
	cells    map[cellIndex][]int
}

func newCellGrid(w, h, d, cellSize float64) *cellGrid {
	dim := func(extent float64) int {
		return max(1, int(math.Ceil(extent/cellSize)))
	}
	return &cellGrid{
		dims:     cellIndex{dim(w), dim(h), dim(d)},
		cellSize: cellSize,
		cells:    make(map[cellIndex][]int),
	}
}

// Returns the cell containing p, clamped to the grid bounds
func (g *cellGrid) index(p r3.Vec) cellIndex {
	ci := cellIndex{int(p.X / g.cellSize), int(p.Y / g.cellSize), int(p.Z / g.cellSize)}
	return g.clamp(ci)
}

func (g *cellGrid) clamp(ci cellIndex) cellIndex {
	for i := range ci {
		ci[i] = min(max(ci[i], 0), g.dims[i]-1)
	}
	return ci
}

// Returns the point ids stored in the given cell
func (g *cellGrid) get(ci cellIndex) []int {
	return g.cells[g.clamp(ci)]
}

// Stores a point id in the given cell
func (g *cellGrid) set(ci cellIndex, point int) {
	ci = g.clamp(ci)
	g.cells[ci] = append(g.cells[ci], point)
}

// Calls fn for every point within radius cells of ci along each axis, clipped to the grid.
// Stops early and returns false once fn returns false
func (g *cellGrid) neighbors(ci cellIndex, radius int, fn func(point int) bool) bool {
	lo := g.clamp(cellIndex{ci[0] - radius, ci[1] - radius, ci[2] - radius})
	hi := g.clamp(cellIndex{ci[0] + radius, ci[1] + radius, ci[2] + radius})
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				for _, p := range g.cells[cellIndex{x, y, z}] {
					if !fn(p) {
						return false
					}
				}
			}
		}
	}
	return true
}
