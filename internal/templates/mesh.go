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
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/tomopick/tomopick/internal/tomo"
	"github.com/unixpickle/model3d/model3d"
)

// Ray directions for inside tests. Irrational components keep rays off mesh edges
var parityDirections = []model3d.Coord3D{
	{X: -0.40475415, Y: 0.86174632, Z: -0.30588783},
	{X: -0.81025101, Y: 0.38452447, Z: -0.44230559},
	{X: -0.09226702, Y: -0.74875317, Z: -0.65639584},
	{X: -0.99668947, Y: 0.08087344, Z: 0.00834144},
	{X: 0.67074042, Y: -0.60098173, Z: 0.43465877},
}

// A solid backed by a triangle mesh which may contain near-duplicate faces.
// A point is inside if the majority of probe rays cross the surface an odd number of times
type meshSolid struct {
	model3d.Collider
}

func (m *meshSolid) Contains(c model3d.Coord3D) bool {
	if !model3d.InBounds(m, c) {
		return false
	}
	odd := 0
	for _, d := range parityDirections {
		if m.crossings(c, d)%2 == 1 {
			odd++
		}
	}
	return 2*odd > len(parityDirections)
}

func (m *meshSolid) crossings(origin, direction model3d.Coord3D) int {
	var scales []float64
	m.Collider.RayCollisions(&model3d.Ray{Origin: origin, Direction: direction}, func(rc model3d.RayCollision) {
		scales = append(scales, rc.Scale)
	})
	if len(scales) == 0 {
		return 0
	}
	sort.Float64s(scales)

	// duplicate triangles count as one boundary
	epsilon := m.Max().Sub(m.Min()).Norm() * 1e-8
	last, unique := 0.0, 0
	for _, s := range scales {
		if s-last > epsilon {
			unique++
		}
		last = s
	}
	return unique
}

func readMesh(path string) (*model3d.Mesh, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read mesh")
	}
	defer r.Close()
	triangles, err := model3d.ReadOFF(r)
	if err != nil {
		return nil, errors.Wrap(err, "read mesh "+path)
	}
	if len(triangles) == 0 {
		return nil, errors.New("read mesh " + path + ": no triangles")
	}
	return model3d.NewMeshTriangles(triangles), nil
}

// Voxelizes the mesh into a cube grid of unit density inside the surface, with the
// centre of the bounding box on the centre cell and one empty cell of margin on every side.
// Rank 2 yields the central z slice
func renderMesh(s Mesh, rank int) (*tomo.Grid, error) {
	mesh, err := readMesh(s.Path)
	if err != nil {
		return nil, err
	}
	solid := &meshSolid{Collider: model3d.MeshToCollider(mesh)}

	lo, hi := solid.Min(), solid.Max()
	size := hi.Sub(lo)
	extent := math.Max(math.Max(size.X, size.Y), size.Z)
	edge := int(math.Ceil(extent/s.Resolution)) + 3
	if edge%2 == 0 {
		edge++
	}
	if edge > 1024 {
		return nil, errors.Errorf("mesh %s at resolution %g needs edge %d, too large", s.Path, s.Resolution, edge)
	}

	g := tomo.NewGrid(cubeAxes(edge, rank), nil)
	mid := lo.Mid(hi)
	c := g.Center()
	for i := range g.Data {
		p := g.Coord(i)
		coord := model3d.Coord3D{
			X: mid.X + float64(p.X-c.X)*s.Resolution,
			Y: mid.Y + float64(p.Y-c.Y)*s.Resolution,
			Z: mid.Z + float64(p.Z-c.Z)*s.Resolution,
		}
		if solid.Contains(coord) {
			g.Data[i] = 1
		}
	}
	g.FileName = s.Path
	g.UpdateStats()
	return g, nil
}
