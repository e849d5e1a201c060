// Copyright (C) 2026 The tomopick Authors
// Copyright (C) 2020 Markus L. Noga
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
	"math"
	"sort"

	"github.com/tomopick/tomopick/internal/tomo"
)

// A position with the index it had in the input slice
type KDPoint struct {
	tomo.Position
	Index int
}

// A pointerless kd-tree with k=3 dimensions. Each subslice is sorted on one axis,
// with the median as pivot and the halves left and right of it as subtrees,
// cycling through X, Y and Z with depth
type KDTree3 []KDPoint

// Builds a kd-tree over a copy of the given positions
func NewKDTree3(ps []tomo.Position) KDTree3 {
	kdt := make(KDTree3, len(ps))
	for i, p := range ps {
		kdt[i] = KDPoint{Position: p, Index: i}
	}
	kdt.make(0)
	return kdt
}

func coord(p tomo.Position, axis int) int32 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func (kdt KDTree3) make(axis int) {
	sort.Slice(kdt, func(i, j int) bool {
		return coord(kdt[i].Position, axis) < coord(kdt[j].Position, axis)
	})
	l := len(kdt)
	next := (axis + 1) % 3
	if l > 1 { // descend left
		kdt[:l/2].make(next)
		if l > 2 { // descend right
			kdt[l/2+1:].make(next)
		}
	}
}

// Returns the point closest to p and its squared distance. An empty tree returns index -1
func (kdt KDTree3) NearestNeighbor(p tomo.Position) (closest KDPoint, closestDsq int64) {
	if len(kdt) == 0 {
		return KDPoint{Index: -1}, math.MaxInt64
	}
	return kdt.nearest(p, 0)
}

func (kdt KDTree3) nearest(p tomo.Position, axis int) (closest KDPoint, closestDsq int64) {
	l := len(kdt)
	midpoint := kdt[l/2]
	closest, closestDsq = midpoint, p.DistSquared(midpoint.Position)
	next := (axis + 1) % 3

	left, right := kdt[:l/2], KDTree3(nil)
	if l > 2 {
		right = kdt[l/2+1:]
	}
	near, far := left, right
	if coord(p, axis) > coord(midpoint.Position, axis) {
		near, far = right, left
	}
	if len(near) > 0 {
		if pt, dsq := near.nearest(p, next); dsq < closestDsq {
			closest, closestDsq = pt, dsq
		}
	}
	if len(far) > 0 {
		distToPlane := int64(coord(p, axis) - coord(midpoint.Position, axis))
		if distToPlane*distToPlane <= closestDsq {
			if pt, dsq := far.nearest(p, next); dsq < closestDsq {
				closest, closestDsq = pt, dsq
			}
		}
	}
	return closest, closestDsq
}
