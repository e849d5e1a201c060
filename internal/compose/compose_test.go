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
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomopick/tomopick/internal/sampler"
	"github.com/tomopick/tomopick/internal/templates"
	"github.com/tomopick/tomopick/internal/tomo"
)

func sphereCatalog(t *testing.T, radius int) *templates.Catalog {
	t.Helper()
	tilts, err := templates.NewTiltCatalog(90)
	require.NoError(t, err)
	c, err := templates.BuildCatalog([]templates.Shape{templates.Sphere{Radius: radius}, templates.Cube{Side: 3}}, tilts, 4, io.Discard)
	require.NoError(t, err)
	return c
}

func TestPlace(t *testing.T) {
	src := tomo.NewGrid([]int32{3, 3, 3}, nil)
	for i := range src.Data {
		src.Data[i] = float32(i + 1)
	}
	dst := tomo.NewGrid([]int32{10, 10, 10}, nil)

	require.NoError(t, Place(dst, src, tomo.Position{X: 5, Y: 5, Z: 5}))
	assert.Equal(t, float32(14), dst.At(5, 5, 5))
	assert.Equal(t, float32(1), dst.At(4, 4, 4))
	assert.Equal(t, float32(27), dst.At(6, 6, 6))
	assert.Equal(t, float32(0), dst.At(7, 5, 5))

	// overlap accumulates
	require.NoError(t, Place(dst, src, tomo.Position{X: 6, Y: 5, Z: 5}))
	assert.Equal(t, float32(15+14), dst.At(6, 5, 5))

	// borders are inclusive
	require.NoError(t, Place(dst, src, tomo.Position{X: 1, Y: 1, Z: 8}))

	before := append([]float32(nil), dst.Data...)
	err := Place(dst, src, tomo.Position{X: 9, Y: 5, Z: 5})
	var oob *OutOfBoundsPlacementError
	require.True(t, errors.As(err, &oob))
	assert.Equal(t, tomo.Position{X: 9, Y: 5, Z: 5}, oob.Position)
	assert.Equal(t, before, dst.Data)

	err = Place(dst, src, tomo.Position{X: 0, Y: 5, Z: 5})
	assert.True(t, errors.As(err, &oob))

	flat := tomo.NewGrid([]int32{10, 10}, nil)
	assert.Error(t, Place(flat, src, tomo.Position{X: 5, Y: 5}))
}

func TestCompose(t *testing.T) {
	cat := sphereCatalog(t, 2)
	cands := []tomo.Candidate{
		tomo.NewCandidate(0, tomo.Position{X: 10, Y: 10, Z: 10}, 0),
		tomo.NewCandidate(1, tomo.Position{X: 20, Y: 12, Z: 15}, 5),
		tomo.NewCandidate(0, tomo.Position{X: 11, Y: 10, Z: 10}, 3),
	}
	tm, err := Compose([]int32{30, 30, 30}, cat, cands)
	require.NoError(t, err)
	if diff := cmp.Diff(cands, tm.Composition); diff != "" {
		t.Errorf("composition mismatch (-want +got):\n%s", diff)
	}

	sphere, _ := cat.Get(0, 0)
	cube, _ := cat.Get(1, 5)
	assert.InDelta(t, 2*sphere.Stats.Sum+cube.Stats.Sum, tm.Stats.Sum, 1e-3)
	assert.Equal(t, float32(2), tm.At(10, 10, 10))
	assert.Equal(t, float32(1), tm.At(20, 12, 15))

	_, err = Compose([]int32{30, 30, 30}, cat, []tomo.Candidate{tomo.NewCandidate(0, tomo.Position{X: 2, Y: 15, Z: 15}, 0)})
	var oob *OutOfBoundsPlacementError
	require.True(t, errors.As(err, &oob))
	assert.Equal(t, 0, oob.Label)

	_, err = Compose([]int32{30, 30, 30}, cat, []tomo.Candidate{tomo.NewCandidate(7, tomo.Position{X: 15, Y: 15, Z: 15}, 0)})
	assert.Error(t, err)

	_, err = Compose([]int32{30, 30}, cat, nil)
	assert.Error(t, err)
}

func TestComposerFinishes(t *testing.T) {
	cat := sphereCatalog(t, 2)
	c, err := NewComposer([]int32{20, 20, 20}, cat)
	require.NoError(t, err)
	require.NoError(t, c.Add(tomo.NewCandidate(0, tomo.Position{X: 10, Y: 10, Z: 10}, 0)))
	tm := c.Tomogram()
	require.NotNil(t, tm)
	assert.Len(t, tm.Composition, 1)
	assert.Error(t, c.Add(tomo.NewCandidate(0, tomo.Position{X: 10, Y: 10, Z: 10}, 0)))
}

func TestRandom(t *testing.T) {
	cat := sphereCatalog(t, 4)
	require.Equal(t, 11, cat.Edge())
	crit := Criteria{Counts: []int{3, 2}, Separation: 10}

	tm, err := Random([]int32{40, 40, 40}, cat, crit, 17)
	require.NoError(t, err)
	require.Len(t, tm.Composition, 5)

	perLabel := map[int]int{}
	for i, c := range tm.Composition {
		perLabel[c.Label]++
		assert.True(t, c.Tilt >= 0 && c.Tilt < cat.Tilts().Len())
		for _, v := range []int32{c.X, c.Y, c.Z} {
			assert.True(t, v >= 5 && v <= 34, "candidate %d at %v", i, c.Position)
		}
		for j := i + 1; j < len(tm.Composition); j++ {
			d := c.Position.DistSquared(tm.Composition[j].Position)
			assert.GreaterOrEqual(t, d, int64(8*8))
		}
	}
	assert.Equal(t, map[int]int{0: 3, 1: 2}, perLabel)

	again, err := Random([]int32{40, 40, 40}, cat, crit, 17)
	require.NoError(t, err)
	assert.Equal(t, tm.Composition, again.Composition)
	assert.Equal(t, tm.Data, again.Data)

	empty, err := Random([]int32{40, 40, 40}, cat, Criteria{}, 1)
	require.NoError(t, err)
	assert.Empty(t, empty.Composition)
	assert.Equal(t, 0, empty.Stats.NonZero)
}

func TestRandomErrors(t *testing.T) {
	cat := sphereCatalog(t, 4)

	_, err := Random([]int32{10, 40, 40}, cat, Criteria{Counts: []int{1}}, 1)
	var oob *OutOfBoundsPlacementError
	assert.True(t, errors.As(err, &oob))

	_, err = Random([]int32{14, 14, 14}, cat, Criteria{Counts: []int{2}}, 1)
	var ise *sampler.InsufficientSpaceError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 2, ise.Requested)
	assert.Equal(t, 1, ise.Placed)

	_, err = Random([]int32{40, 40, 40}, cat, Criteria{Counts: []int{1, 1, 1}}, 1)
	assert.Error(t, err)
}
