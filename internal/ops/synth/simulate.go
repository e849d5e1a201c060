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

// Package synth provides the pipeline operator which simulates random tomograms.
package synth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tomopick/tomopick/internal/compose"
	"github.com/tomopick/tomopick/internal/ops"
	"github.com/tomopick/tomopick/internal/store"
	"github.com/tomopick/tomopick/internal/tomo"
)

// Simulates a number of random tomograms from the catalog in the context.
// Takes zero inputs, produces Count outputs
type OpSimulate struct {
	ops.OpBase
	Count    int              `json:"count"`
	Naxisn   []int32          `json:"naxisn"`
	Criteria compose.Criteria `json:"criteria"` // one instance per label if no counts are given
	Seed     uint32           `json:"seed"`     // tomogram i uses Seed+i. 0 selects a time-based seed
	FirstID  int              `json:"firstId"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSimulateDefault() }) } // register the operator for JSON decoding

func NewOpSimulateDefault() *OpSimulate {
	return NewOpSimulate(1, []int32{64, 64, 64}, compose.Criteria{}, 0)
}

func NewOpSimulate(count int, naxisn []int32, criteria compose.Criteria, seed uint32) *OpSimulate {
	return &OpSimulate{
		OpBase:   ops.OpBase{Type: "simulate", Active: true},
		Count:    count,
		Naxisn:   naxisn,
		Criteria: criteria,
		Seed:     seed,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSimulate) UnmarshalJSON(data []byte) error {
	type defaults OpSimulate
	def := defaults(*NewOpSimulateDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSimulate(def)
	return nil
}

func (op *OpSimulate) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	if op.Count < 1 {
		return nil, fmt.Errorf("%s operator with count %d", op.Type, op.Count)
	}
	catalog, err := c.RequireCatalog(op.Type)
	if err != nil {
		return nil, err
	}
	criteria := op.Criteria
	if len(criteria.Counts) == 0 {
		criteria.Counts = make([]int, catalog.Len())
		for i := range criteria.Counts {
			criteria.Counts[i] = 1
		}
	}
	seed := op.Seed
	if seed == 0 {
		seed = uint32(time.Now().UnixNano())
	}

	recorded := *op
	recorded.Criteria, recorded.Seed = criteria, seed
	runID, err := c.BeginRun(store.KindSimulate, &recorded)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "Simulating %d tomograms of size %v with counts %v and seed %d\n",
		op.Count, op.Naxisn, criteria.Counts, seed)

	outs = make([]ops.Promise, op.Count)
	for i := range outs {
		id, s := op.FirstID+i, seed+uint32(i)
		if s == 0 {
			s = 1
		}
		outs[i] = func() (*tomo.Tomogram, error) {
			t, err := compose.Random(op.Naxisn, catalog, criteria, s)
			if err != nil {
				return nil, fmt.Errorf("%d: %w", id, err)
			}
			t.ID = id
			fmt.Fprintf(c.Log, "%d: Simulated %s tomogram with %d instances, %v\n",
				id, t.DimensionsToString(), len(t.Composition), t.Stats)
			if err := c.RecordCandidates(runID, t, t.Composition); err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return outs, nil
}
