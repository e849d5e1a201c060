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

package pick

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomopick/tomopick/internal/evaluate"
	"github.com/tomopick/tomopick/internal/ops"
	_ "github.com/tomopick/tomopick/internal/ops/bank"
	_ "github.com/tomopick/tomopick/internal/ops/synth"
	"github.com/tomopick/tomopick/internal/store"
	"github.com/tomopick/tomopick/internal/tomo"
)

const pipelineJSON = `{"type":"seq","steps":[
	{"type":"bank","shapes":[{"kind":"sphere","param":4}],"resolution":90,"rank":3,"dir":"CACHE"},
	{"type":"simulate","count":2,"naxisn":[40,40,40],"criteria":{"counts":[3],"separation":12},"seed":7},
	{"type":"detect","saliencyPattern":"SALIENCY"},
	{"type":"evaluate","fileName":"REPORT","checkLabels":false},
	{"type":"save","filePattern":"OUT"}
]}`

func decodePipeline(t *testing.T, dir string) *ops.OpSequence {
	t.Helper()
	raw := pipelineJSON
	for k, v := range map[string]string{
		"CACHE":    filepath.Join(dir, "catalog"),
		"SALIENCY": filepath.Join(dir, "saliency%d.fits"),
		"REPORT":   filepath.Join(dir, "report.csv"),
		"OUT":      filepath.Join(dir, "tomo%d.fits"),
	} {
		bs, err := json.Marshal(v)
		require.NoError(t, err)
		raw = strings.Replace(raw, `"`+k+`"`, string(bs), 1)
	}
	op, err := ops.UnmarshalOperator([]byte(raw))
	require.NoError(t, err)
	seq, ok := op.(*ops.OpSequence)
	require.True(t, ok)
	return seq
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	seq := decodePipeline(t, dir)
	require.Len(t, seq.Steps, 5)
	det, ok := seq.Steps[2].(*OpDetect)
	require.True(t, ok)
	assert.Equal(t, float32(50), det.Threshold)
	assert.Equal(t, 3, det.Window)
	eval, ok := seq.Steps[3].(*OpEvaluate)
	require.True(t, ok)

	c := ops.NewContext(io.Discard)
	c.MaxThreads = 2
	c.Store = st
	promises, err := seq.MakePromises(nil, c)
	require.NoError(t, err)
	require.NotNil(t, c.Catalog)
	assert.Equal(t, float64(c.Catalog.Edge())/2, eval.MaxDist)

	outs, err := ops.MaterializeAll(promises, c.MaxThreads, false)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.Len(t, o.Composition, 3)
		assert.Len(t, o.Detections, 3)
		for _, d := range o.Detections {
			assert.Equal(t, 0, d.Label)
		}
	}

	total := eval.Total()
	assert.Equal(t, 6, total.Truth)
	assert.Equal(t, 6, total.TruePositives)
	assert.InDelta(t, 1.0, total.Recall, 1e-9)
	assert.InDelta(t, 1.0, total.Precision, 1e-9)

	counts, err := st.LabelCounts(c.RunID)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 6}, counts)
	templates, err := st.Templates()
	require.NoError(t, err)
	assert.Len(t, templates, 1)

	for _, name := range []string{"report.csv", "saliency0.fits", "saliency1.fits", "tomo0.fits", "tomo1.picks.csv", "catalog/catalog.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	picks, err := tomo.ReadCandidatesFile(filepath.Join(dir, "tomo1.picks.csv"))
	require.NoError(t, err)
	assert.Len(t, picks, 3)

	// a second run reuses the cached catalog
	c2 := ops.NewContext(io.Discard)
	_, err = decodePipeline(t, dir).Steps[0].MakePromises(nil, c2)
	require.NoError(t, err)
	assert.Equal(t, c.Catalog.Edge(), c2.Catalog.Edge())
}

func TestEvaluateWithoutTruth(t *testing.T) {
	c := ops.NewContext(io.Discard)
	op := NewOpEvaluate(3, "")
	tm := tomo.NewTomogram(tomo.NewGrid([]int32{8, 8, 8}, nil))
	tm.Detections = []tomo.Candidate{tomo.NewCandidate(tomo.LabelUnknown, tomo.Position{X: 1, Y: 1, Z: 1}, tomo.TiltUnknown)}
	promises, err := op.MakePromises([]ops.Promise{func() (*tomo.Tomogram, error) { return tm, nil }}, c)
	require.NoError(t, err)
	res, err := promises[0]()
	require.NoError(t, err)
	assert.Equal(t, tomo.LabelUnknown, res.Detections[0].Label)
	assert.Equal(t, evaluate.Report{}, op.Total())
}

func TestEvaluateCheckLabels(t *testing.T) {
	c := ops.NewContext(io.Discard)
	op := NewOpEvaluate(3, "")
	op.CheckLabels = true
	tm := tomo.NewTomogram(tomo.NewGrid([]int32{8, 8, 8}, nil))
	tm.Composition = []tomo.Candidate{tomo.NewCandidate(0, tomo.Position{X: 4, Y: 4, Z: 4}, 0)}
	tm.Detections = []tomo.Candidate{tomo.NewCandidate(tomo.LabelUnknown, tomo.Position{X: 4, Y: 4, Z: 5}, tomo.TiltUnknown)}
	_, err := op.Apply(tm, c)
	var degenerate *evaluate.DegenerateLabelSetError
	require.ErrorAs(t, err, &degenerate)
	assert.Equal(t, []int{0}, degenerate.Labels)
}

func TestDetectNeedsCatalog(t *testing.T) {
	_, err := NewOpDetectDefault().MakePromises(nil, ops.NewContext(io.Discard))
	assert.ErrorContains(t, err, "catalog")
}
