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

package tomo

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid() *Grid {
	g := NewGrid([]int32{4, 3, 2}, nil)
	for i := range g.Data {
		g.Data[i] = float32(i) * 0.5
	}
	g.UpdateStats()
	return g
}

func TestGridIndexing(t *testing.T) {
	g := testGrid()
	nx, ny, nz := g.Dims()
	assert.Equal(t, []int{4, 3, 2}, []int{nx, ny, nz})
	assert.Equal(t, 2*4+1*12, g.Offset(0, 2, 1))
	assert.Equal(t, Position{X: 3, Y: 1, Z: 1}, g.Coord(g.Offset(3, 1, 1)))
	assert.Equal(t, float32(0), g.At(-1, 0, 0))
	assert.Equal(t, float32(23*0.5), g.At(3, 2, 1))
	assert.Equal(t, Position{X: 2, Y: 1, Z: 1}, g.Center())
	assert.Equal(t, "4x3x2", g.DimensionsToString())

	flat := NewGrid([]int32{5, 6}, nil)
	_, _, depth := flat.Dims()
	assert.Equal(t, 1, depth)
	assert.True(t, flat.Contains(4, 5, 0))
	assert.False(t, flat.Contains(4, 5, 1))
}

func TestFITSRoundTrip(t *testing.T) {
	g := testGrid()
	g.Header.Ints["TEMPLID"] = 3
	g.Header.Floats["THETA"] = 45
	g.Header.Floats["SMALL"] = 1e-5
	g.Header.Strings["SHAPE"] = "sphere"
	g.Header.History = append(g.Header.History, "rotated")

	buf := bytes.Buffer{}
	require.NoError(t, g.Write(&buf))
	require.Zero(t, buf.Len()%fitsBlockSize)

	res, err := ReadGrid(&buf, 7, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 7, res.ID)
	assert.Equal(t, g.Naxisn, res.Naxisn)
	assert.Equal(t, g.Data, res.Data)
	assert.Equal(t, int32(3), res.Header.Ints["TEMPLID"])
	assert.InDelta(t, 45, res.Header.Floats["THETA"], 1e-6)
	assert.InDelta(t, 1e-5, res.Header.Floats["SMALL"], 1e-10)
	assert.Equal(t, "sphere", res.Header.Strings["SHAPE"])
	assert.Equal(t, []string{"rotated"}, res.Header.History)
	assert.Equal(t, g.Stats.Max, res.Stats.Max)
}

func TestFITSRejectsRank1(t *testing.T) {
	g := NewGrid([]int32{8}, nil)
	buf := bytes.Buffer{}
	require.NoError(t, g.Write(&buf))
	_, err := ReadGrid(&buf, 1, io.Discard)
	assert.Error(t, err)
}

func TestCandidatesRoundTrip(t *testing.T) {
	cands := []Candidate{
		NewCandidate(0, Position{X: 1, Y: 2, Z: 3}, 5),
		NewCandidate(LabelJunk, Position{X: 10, Y: 0, Z: 7}, TiltUnknown),
	}
	cands[1].Score = 62.5
	cands[1].Refined.X = 10.25

	buf := bytes.Buffer{}
	require.NoError(t, PrintCandidates(&buf, cands))
	res, err := ReadCandidates(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(cands, res); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestTomogramFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "tomo0.fits")
	tomo := NewTomogram(testGrid())
	tomo.Composition = []Candidate{NewCandidate(1, Position{X: 1, Y: 1, Z: 1}, 0)}
	require.NoError(t, tomo.WriteFile(fileName))
	assert.Equal(t, filepath.Join(dir, "tomo0.truth.csv"), SidecarName(fileName, "truth"))

	res, err := NewTomogramFromFile(fileName, 2, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, tomo.Data, res.Data)
	if diff := cmp.Diff(tomo.Composition, res.Composition); diff != "" {
		t.Errorf("composition mismatch (-want +got):\n%s", diff)
	}
}

func TestGzipFileRoundTrip(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "tomo1.fits.gz")
	g := testGrid()
	require.NoError(t, g.WriteFile(fileName))

	res, err := NewGridFromFile(fileName, 1, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, g.Naxisn, res.Naxisn)
	assert.Equal(t, g.Data, res.Data)
}

func TestMaxProjectionAndPreview(t *testing.T) {
	g := NewGrid([]int32{3, 2, 2}, nil)
	g.Data[g.Offset(1, 1, 0)] = 2
	g.Data[g.Offset(1, 1, 1)] = 5
	g.Data[g.Offset(0, 0, 1)] = 1
	proj := g.MaxProjection()
	assert.Equal(t, []int32{3, 2}, proj.Naxisn)
	assert.Equal(t, []float32{1, 0, 0, 0, 5, 0}, proj.Data)

	tomo := NewTomogram(g)
	tomo.Composition = []Candidate{NewCandidate(0, Position{X: 1, Y: 1, Z: 1}, 0)}
	img := tomo.Preview(4, 1)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
	assert.Equal(t, LabelColor(0), img.At(6, 6))

	buf := bytes.Buffer{}
	require.NoError(t, g.WriteProjectionTIFF16(&buf, 0, 5, 1))
	assert.NotZero(t, buf.Len())
}
