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
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomopick/tomopick/internal/tomo"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestTiltCatalogCount(t *testing.T) {
	tests := []struct {
		res  int
		want int
	}{
		{90, 24},
		{60, 84},
		{45, 208},
		{30, 12 * (2 + 5*12)},
	}
	for _, tt := range tests {
		c, err := NewTiltCatalog(tt.res)
		require.NoError(t, err)
		steps := 360 / tt.res
		assert.Equal(t, tt.want, c.Len(), "resolution %d", tt.res)
		assert.Equal(t, steps*(2+(180/tt.res-1)*steps), c.Len())
		assert.True(t, c.At(0).IsIdentity())
		assert.Equal(t, 3, c.Rank())
		assert.Equal(t, tt.res, c.Resolution())
	}

	_, err := NewTiltCatalog(7)
	assert.Error(t, err)
	_, err = NewTiltCatalog(0)
	assert.Error(t, err)

	p, err := NewPlanarTiltCatalog(90)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Len())
	assert.Equal(t, 2, p.Rank())
	assert.Equal(t, Tilt{Phi: 270}, p.At(3))
}

func TestTiltCatalogOrder(t *testing.T) {
	c, err := NewTiltCatalog(90)
	require.NoError(t, err)
	want := []Tilt{
		{0, 0, 0}, {0, 90, 0}, {0, 90, 90}, {0, 90, 180}, {0, 90, 270}, {0, 180, 0},
		{90, 0, 0},
	}
	assert.Equal(t, want, c.Tilts()[:len(want)])
}

func TestTiltInvert(t *testing.T) {
	tilt := Tilt{Phi: 30, Theta: 60, Psi: 120}
	v := r3.Vec{X: 1, Y: 2, Z: 3}
	back := tilt.Invert(tilt.Apply(v))
	assert.InDelta(t, 0, r3.Norm(r3.Sub(v, back)), 1e-9)
	assert.InDelta(t, r3.Norm(v), r3.Norm(tilt.Apply(v)), 1e-9)
}

func pointGrid(n int, p tomo.Position) *tomo.Grid {
	g := tomo.NewGrid([]int32{int32(n), int32(n), int32(n)}, nil)
	g.Data[g.Offset(int(p.X), int(p.Y), int(p.Z))] = 1
	g.UpdateStats()
	return g
}

func TestRotateIdentityExact(t *testing.T) {
	g := renderSphere(3, 3)
	g.Data[0] = 0.25
	r := Rotate(g, Tilt{})
	assert.Equal(t, g.Data, r.Data)
	assert.Equal(t, g.Naxisn, r.Naxisn)
}

func TestRotateQuarterTurns(t *testing.T) {
	src := tomo.Position{X: 3, Y: 2, Z: 1}
	g := pointGrid(5, src)
	c := g.Center()
	for _, tilt := range []Tilt{{Phi: 90}, {Theta: 90}, {Phi: 90, Theta: 90, Psi: 270}, {Phi: 180, Theta: 180}} {
		r := Rotate(g, tilt)
		d := tilt.Apply(r3.Sub(src.Vec(), c.Vec()))
		want := tomo.Position{
			X: c.X + int32(math.Round(d.X)),
			Y: c.Y + int32(math.Round(d.Y)),
			Z: c.Z + int32(math.Round(d.Z)),
		}
		assert.Equal(t, float32(1), r.At(int(want.X), int(want.Y), int(want.Z)), "tilt %v", tilt)
		assert.InDelta(t, 1, r.Stats.Sum, 1e-9, "tilt %v", tilt)
	}
}

func TestRotatePreservesMass(t *testing.T) {
	base := renderSphere(4, 3)
	g := PadToEdge(base, CommonEdge(base))
	for _, tilt := range []Tilt{{Phi: 45}, {Phi: 30, Theta: 60, Psi: 15}} {
		r := Rotate(g, tilt)
		assert.Equal(t, g.Naxisn, r.Naxisn)
		assert.InEpsilon(t, g.Stats.Sum, r.Stats.Sum, 0.1, "tilt %v", tilt)
		assert.Equal(t, float32(0), r.Data[0], "corner must stay empty")
	}
}

func TestRotatePlanar(t *testing.T) {
	g := tomo.NewGrid([]int32{5, 5}, nil)
	g.Data[g.Offset(4, 2, 0)] = 1
	r := Rotate(g, Tilt{Phi: 180})
	assert.Equal(t, float32(1), r.At(0, 2, 0))
	assert.InDelta(t, 1, r.Stats.Sum, 1e-9)
}

func TestCommonEdgeAndPad(t *testing.T) {
	s := renderSphere(4, 3)
	assert.Equal(t, []int32{9, 9, 9}, s.Naxisn)
	assert.Equal(t, 11, CommonEdge(s))
	assert.Equal(t, 11, CommonEdge(renderCube(5, 3)))
	assert.Equal(t, 3, CommonEdge(tomo.NewGrid([]int32{3, 3, 3}, nil)))
	assert.Equal(t, 7, CommonEdge(renderSphere(2, 3)))

	p := PadToEdge(s, 15)
	assert.Equal(t, []int32{15, 15, 15}, p.Naxisn)
	assert.Equal(t, s.Stats.Sum, p.Stats.Sum)
	assert.Equal(t, float32(1), p.At(7, 7, 7))
	assert.Equal(t, float32(1), p.At(11, 7, 7))
	assert.Equal(t, float32(0), p.At(12, 7, 7))

	// shrinking drops only empty margins
	q := PadToEdge(p, 9)
	assert.Equal(t, s.Data, q.Data)
}

func TestRenderShapes(t *testing.T) {
	s := renderSphere(2, 3)
	assert.Equal(t, 33, s.Stats.NonZero)
	disk := renderSphere(2, 2)
	assert.Equal(t, []int32{5, 5}, disk.Naxisn)
	assert.Equal(t, 13, disk.Stats.NonZero)

	c := renderCube(4, 3)
	assert.Equal(t, []int32{5, 5, 5}, c.Naxisn)
	assert.Equal(t, 125, c.Stats.NonZero)

	_, err := Render(Sphere{Radius: 2}, 4)
	assert.Error(t, err)
}

func TestParseShape(t *testing.T) {
	shapes, err := ParseShapes("sphere:4, cube:6,mesh:chair.off:0.5,density:ribo.fits")
	require.NoError(t, err)
	want := []Shape{Sphere{Radius: 4}, Cube{Side: 7}, Mesh{Path: "chair.off", Resolution: 0.5}, DensityMap{Path: "ribo.fits"}}
	if diff := cmp.Diff(want, shapes); diff != "" {
		t.Errorf("ParseShapes mismatch (-want +got):\n%s", diff)
	}
	for _, s := range want {
		back, err := ParseShape(s.Descriptor())
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}

	_, err = ParseShape(Descriptor{Kind: "torus", Param: 3})
	var uke *UnknownShapeKindError
	require.True(t, errors.As(err, &uke))
	assert.Equal(t, "torus", uke.Kind)

	_, err = ParseShapes("pyramid:3")
	assert.True(t, errors.As(err, &uke))

	_, err = ParseShapes("sphere:abc")
	assert.Error(t, err)
	_, err = ParseShape(Descriptor{Kind: KindCube})
	assert.Error(t, err)
}

func TestCubeEvenSide(t *testing.T) {
	s, err := ParseShape(Descriptor{Kind: KindCube, Param: 4})
	require.NoError(t, err)
	assert.Equal(t, Cube{Side: 5}, s)
	assert.Equal(t, Descriptor{Kind: KindCube, Param: 5}, Cube{Side: 4}.Descriptor())

	g, err := Render(Cube{Side: 4}, 3)
	require.NoError(t, err)
	side := int32(s.Descriptor().Param)
	assert.Equal(t, []int32{side, side, side}, g.Naxisn)
}

func TestBuildCatalog(t *testing.T) {
	tilts, err := NewTiltCatalog(90)
	require.NoError(t, err)
	c, err := BuildCatalog([]Shape{Sphere{Radius: 2}, Cube{Side: 3}}, tilts, 4, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []int{0, 1}, c.Labels())
	assert.Equal(t, 3, c.Rank())
	assert.Equal(t, 1, c.Edge()%2)
	assert.Equal(t, Descriptor{Kind: KindCube, Param: 3}, c.Descriptor(1))

	for _, label := range c.Labels() {
		base, err := c.Get(label, 0)
		require.NoError(t, err)
		for tilt := 0; tilt < tilts.Len(); tilt++ {
			g, err := c.Get(label, tilt)
			require.NoError(t, err)
			assert.Equal(t, []int32{int32(c.Edge()), int32(c.Edge()), int32(c.Edge())}, g.Naxisn)
			assert.InDelta(t, base.Stats.Sum, g.Stats.Sum, 1e-6, "label %d tilt %d", label, tilt)
			assert.Equal(t, int32(tilt), g.Header.Ints["TILTID"])
		}
	}

	_, err = c.Get(2, 0)
	assert.Error(t, err)
	_, err = c.Get(0, tilts.Len())
	assert.Error(t, err)

	_, err = BuildCatalog(nil, tilts, 1, io.Discard)
	assert.Error(t, err)
}

func TestCatalogSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "catalog")
	shapes := []Shape{Sphere{Radius: 2}, Cube{Side: 3}}

	c, reused, err := LoadOrBuild(dir, shapes, 90, 3, 2, io.Discard)
	require.NoError(t, err)
	assert.False(t, reused)
	for _, name := range []string{ManifestFile, TemplateIDsFile, TiltIDsFile, "1_23.fits"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	loaded, err := LoadCatalog(dir, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), loaded.Len())
	assert.Equal(t, c.Edge(), loaded.Edge())
	assert.Equal(t, c.Descriptors(), loaded.Descriptors())
	assert.Equal(t, c.Tilts().Tilts(), loaded.Tilts().Tilts())
	for _, label := range c.Labels() {
		for tilt := 0; tilt < c.Tilts().Len(); tilt++ {
			a, _ := c.Get(label, tilt)
			b, _ := loaded.Get(label, tilt)
			require.Equal(t, a.Data, b.Data, "label %d tilt %d", label, tilt)
		}
	}

	_, reused, err = LoadOrBuild(dir, shapes, 90, 3, 2, io.Discard)
	require.NoError(t, err)
	assert.True(t, reused)

	other, reused, err := LoadOrBuild(dir, shapes[:1], 90, 3, 2, io.Discard)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 1, other.Len())

	planar, reused, err := LoadOrBuild("", shapes, 45, 2, 2, io.Discard)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 8, planar.Tilts().Len())
	assert.Equal(t, 2, planar.Rank())
}

const cubeOFF = `OFF
8 12 0
-3 -3 -3
3 -3 -3
3 3 -3
-3 3 -3
-3 -3 3
3 -3 3
3 3 3
-3 3 3
3 0 1 2
3 0 2 3
3 4 5 6
3 4 6 7
3 0 1 5
3 0 5 4
3 3 2 6
3 3 6 7
3 0 3 7
3 0 7 4
3 1 2 6
3 1 6 5
`

func TestRenderMesh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.off")
	require.NoError(t, os.WriteFile(path, []byte(cubeOFF), 0644))

	g, err := Render(Mesh{Path: path, Resolution: 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int32{9, 9, 9}, g.Naxisn)
	assert.Equal(t, float32(1), g.At(4, 4, 4))
	assert.Equal(t, float32(1), g.At(2, 2, 2))
	assert.Equal(t, float32(0), g.At(0, 0, 0))
	assert.Equal(t, float32(0), g.At(8, 4, 4))
	assert.GreaterOrEqual(t, g.Stats.NonZero, 125)
	assert.LessOrEqual(t, g.Stats.NonZero, 343)

	slice, err := Render(Mesh{Path: path, Resolution: 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{9, 9}, slice.Naxisn)
	assert.Equal(t, float32(1), slice.At(4, 4, 0))

	_, err = Render(Mesh{Path: filepath.Join(t.TempDir(), "missing.off"), Resolution: 1}, 3)
	assert.Error(t, err)
}

func TestRenderDensityMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.fits")
	g := renderSphere(2, 3)
	require.NoError(t, g.WriteFile(path))

	back, err := Render(DensityMap{Path: path}, 3)
	require.NoError(t, err)
	assert.Equal(t, g.Data, back.Data)

	_, err = Render(DensityMap{Path: path}, 2)
	assert.Error(t, err)
}
