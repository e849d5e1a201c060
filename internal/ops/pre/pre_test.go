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

package pre

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomopick/tomopick/internal/ops"
	"github.com/tomopick/tomopick/internal/stats"
	"github.com/tomopick/tomopick/internal/tomo"
)

func flatTomogram(id int, value float32) *tomo.Tomogram {
	g := tomo.NewGrid([]int32{64, 64, 4}, nil)
	g.ID = id
	for i := range g.Data {
		g.Data[i] = value
	}
	g.UpdateStats()
	return tomo.NewTomogram(g)
}

func TestAddNoise(t *testing.T) {
	c := ops.NewContext(io.Discard)
	op := NewOpAddNoise(2, 17)
	tm, err := op.Apply(flatTomogram(1, 10), c)
	require.NoError(t, err)
	assert.InDelta(t, 10, tm.Stats.Mean, 0.1)
	assert.InDelta(t, 2, tm.Stats.StdDev, 0.1)
	assert.InDelta(t, 2, stats.EstimateNoise(tm.Data, tm.Naxisn), 0.15)

	again, err := op.Apply(flatTomogram(1, 10), c)
	require.NoError(t, err)
	assert.Equal(t, tm.Data, again.Data)

	other, err := op.Apply(flatTomogram(2, 10), c)
	require.NoError(t, err)
	assert.NotEqual(t, tm.Data, other.Data)
}

func TestMedianReducesNoise(t *testing.T) {
	c := ops.NewContext(io.Discard)
	noisy, err := NewOpAddNoise(2, 5).Apply(flatTomogram(0, 0), c)
	require.NoError(t, err)
	before := stats.EstimateNoise(noisy.Data, noisy.Naxisn)
	res, err := NewOpMedian(true).Apply(noisy, c)
	require.NoError(t, err)
	after := stats.EstimateNoise(res.Data, res.Naxisn)
	assert.Less(t, after, before/2)
}

func TestPreDecode(t *testing.T) {
	op, err := ops.UnmarshalOperator([]byte(`{"type":"addNoise","sigma":1.5}`))
	require.NoError(t, err)
	noise, ok := op.(*OpAddNoise)
	require.True(t, ok)
	assert.True(t, noise.IsActive())
	assert.Equal(t, float32(1.5), noise.Sigma)

	op, err = ops.UnmarshalOperator([]byte(`{"type":"median"}`))
	require.NoError(t, err)
	assert.True(t, op.IsActive())

	assert.False(t, NewOpAddNoiseDefault().IsActive())
}
