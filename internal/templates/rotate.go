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
	"math"

	"github.com/tomopick/tomopick/internal/tomo"
)

// Rotates the grid by the given tilt about its centre, returning a new grid of the same shape.
// Each output cell is inverse-mapped into the source and sampled with trilinear interpolation
// (bilinear for rank 2), reading zero outside the source. The identity tilt copies exactly
func Rotate(g *tomo.Grid, t Tilt) *tomo.Grid {
	if t.IsIdentity() {
		return g.Clone()
	}
	res := tomo.NewGridLike(g)
	res.Header = g.Header.Clone()

	m := t.inverseMatrix()
	nx, ny, nz := g.Dims()
	cx, cy, cz := float64(nx-1)/2, float64(ny-1)/2, float64(nz-1)/2
	planar := g.Rank() == 2

	for z := 0; z < nz; z++ {
		dz := float64(z) - cz
		for y := 0; y < ny; y++ {
			dy := float64(y) - cy
			for x := 0; x < nx; x++ {
				dx := float64(x) - cx
				sx := m[0][0]*dx + m[0][1]*dy + m[0][2]*dz + cx
				sy := m[1][0]*dx + m[1][1]*dy + m[1][2]*dz + cy
				var v float32
				if planar {
					v = bilinear(g, sx, sy)
				} else {
					sz := m[2][0]*dx + m[2][1]*dy + m[2][2]*dz + cz
					v = trilinear(g, sx, sy, sz)
				}
				res.Data[res.Offset(x, y, z)] = v
			}
		}
	}
	res.UpdateStats()
	return res
}

func bilinear(g *tomo.Grid, sx, sy float64) float32 {
	x0, y0 := math.Floor(sx), math.Floor(sy)
	fx, fy := float32(sx-x0), float32(sy-y0)
	ix, iy := int(x0), int(y0)
	top := g.At(ix, iy, 0)*(1-fx) + g.At(ix+1, iy, 0)*fx
	bottom := g.At(ix, iy+1, 0)*(1-fx) + g.At(ix+1, iy+1, 0)*fx
	return top*(1-fy) + bottom*fy
}

func trilinear(g *tomo.Grid, sx, sy, sz float64) float32 {
	x0, y0, z0 := math.Floor(sx), math.Floor(sy), math.Floor(sz)
	fx, fy, fz := float32(sx-x0), float32(sy-y0), float32(sz-z0)
	ix, iy, iz := int(x0), int(y0), int(z0)
	var sum float32
	for dz := 0; dz <= 1; dz++ {
		wz := 1 - fz
		if dz == 1 {
			wz = fz
		}
		if wz == 0 {
			continue
		}
		for dy := 0; dy <= 1; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			if wy == 0 {
				continue
			}
			for dx := 0; dx <= 1; dx++ {
				wx := 1 - fx
				if dx == 1 {
					wx = fx
				}
				if wx == 0 {
					continue
				}
				sum += wx * wy * wz * g.At(ix+dx, iy+dy, iz+dz)
			}
		}
	}
	return sum
}

// Produces one rotated copy of the grid per catalog tilt, indexed by tilt id,
// using at most maxThreads goroutines
func RotateAll(g *tomo.Grid, tilts *TiltCatalog, maxThreads int) []*tomo.Grid {
	outs := make([]*tomo.Grid, tilts.Len())
	maxThreads = max(1, maxThreads)
	limiter := make(chan bool, maxThreads)
	for i := range outs {
		limiter <- true
		go func(i int) {
			defer func() { <-limiter }()
			outs[i] = Rotate(g, tilts.At(i))
		}(i)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	return outs
}

// Returns the odd edge length of a cube that holds any rotation of the grid's
// non-zero content about its centre cell, i.e. ceil(2*(1.1R+1)) for the maximum
// centre distance R of a non-zero cell, rounded up to odd. The extra cell per side
// holds the interpolation spill of a rotated boundary voxel
func CommonEdge(g *tomo.Grid) int {
	c := g.Center()
	maxSq := int64(0)
	for i, v := range g.Data {
		if v == 0 {
			continue
		}
		if d := g.Coord(i).DistSquared(c); d > maxSq {
			maxSq = d
		}
	}
	r := math.Sqrt(float64(maxSq))
	edge := int(math.Ceil(2 * (1.1*r + 1)))
	if edge%2 == 0 {
		edge++
	}
	return edge
}

// Returns a copy of the grid with every axis resized to edge, keeping the centre
// cell at the centre. Cells falling outside the new extent are dropped
func PadToEdge(g *tomo.Grid, edge int) *tomo.Grid {
	naxisn := make([]int32, g.Rank())
	for i := range naxisn {
		naxisn[i] = int32(edge)
	}
	res := tomo.NewGrid(naxisn, nil)
	res.ID, res.FileName = g.ID, g.FileName
	res.Header = g.Header.Clone()

	src, dst := g.Center(), res.Center()
	ox, oy, oz := int(dst.X-src.X), int(dst.Y-src.Y), int(dst.Z-src.Z)
	nx, ny, nz := g.Dims()
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				if !res.Contains(x+ox, y+oy, z+oz) {
					continue
				}
				res.Data[res.Offset(x+ox, y+oy, z+oz)] = g.Data[g.Offset(x, y, z)]
			}
		}
	}
	res.UpdateStats()
	return res
}
