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

package store

import (
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomopick/tomopick/internal/templates"
	"github.com/tomopick/tomopick/internal/tomo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetadataTables(t *testing.T) {
	s := openTestStore(t)
	descs := []templates.Descriptor{
		{Kind: templates.KindSphere, Param: 4},
		{Kind: templates.KindMesh, Param: 0.5, Path: "chair.off"},
	}
	require.NoError(t, s.PutTemplates(descs))
	got, err := s.Templates()
	require.NoError(t, err)
	assert.Equal(t, map[int]templates.Descriptor{0: descs[0], 1: descs[1]}, got)

	tilts, err := templates.NewTiltCatalog(90)
	require.NoError(t, err)
	require.NoError(t, s.PutTilts(tilts.Tilts()))
	// replacing is idempotent
	require.NoError(t, s.PutTilts(tilts.Tilts()))
	gotTilts, err := s.Tilts()
	require.NoError(t, err)
	require.Len(t, gotTilts, tilts.Len())
	for id, tilt := range tilts.Tilts() {
		assert.Equal(t, tilt, gotTilts[id])
	}
}

func TestRunsAndCandidates(t *testing.T) {
	s := openTestStore(t)
	run := &Run{Kind: KindDetect, Params: json.RawMessage(`{"threshold":50}`)}
	require.NoError(t, s.InsertRun(run))
	assert.Len(t, run.ID, 36)
	assert.NotZero(t, run.CreatedAt)

	back, err := s.Run(run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, back); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
	_, err = s.Run("missing")
	assert.Error(t, err)

	cands := []tomo.Candidate{
		tomo.NewCandidate(0, tomo.Position{X: 1, Y: 2, Z: 3}, 4),
		tomo.NewCandidate(tomo.LabelJunk, tomo.Position{X: 5, Y: 6, Z: 7}, tomo.TiltUnknown),
		tomo.NewCandidate(0, tomo.Position{X: 8, Y: 9, Z: 10}, 2),
	}
	cands[1].Score = 72.5
	require.NoError(t, s.InsertCandidates(run.ID, "a.fits", cands))
	require.NoError(t, s.InsertCandidates(run.ID, "b.fits", cands[:1]))

	got, err := s.Candidates(run.ID, "a.fits")
	require.NoError(t, err)
	assert.Equal(t, cands, got)

	counts, err := s.LabelCounts(run.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 3, tomo.LabelJunk: 1}, counts)

	// duplicate index within a source is rejected and rolled back
	assert.Error(t, s.InsertCandidates(run.ID, "b.fits", cands))
	got, err = s.Candidates(run.ID, "b.fits")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPutCatalog(t *testing.T) {
	s := openTestStore(t)
	tilts, err := templates.NewPlanarTiltCatalog(90)
	require.NoError(t, err)
	cat, err := templates.BuildCatalog([]templates.Shape{templates.Cube{Side: 3}}, tilts, 1, io.Discard)
	require.NoError(t, err)
	require.NoError(t, s.PutCatalog(cat))

	descs, err := s.Templates()
	require.NoError(t, err)
	assert.Equal(t, cat.Descriptor(0), descs[0])
	ts, err := s.Tilts()
	require.NoError(t, err)
	assert.Len(t, ts, 4)
}
