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
	"fmt"
	"os"
	"sync"

	"github.com/tomopick/tomopick/internal/evaluate"
	"github.com/tomopick/tomopick/internal/ops"
	"github.com/tomopick/tomopick/internal/store"
	"github.com/tomopick/tomopick/internal/tomo"
)

// Labels the detections of each input tomogram against its ground truth composition and
// reports precision and recall. Optionally appends one CSV line per tomogram to a file
type OpEvaluate struct {
	ops.OpUnaryBase
	MaxDist     float64 `json:"maxDist"`     // maximum match distance in voxels, 0 selects half the catalog edge
	FileName    string  `json:"fileName"`    // CSV report, none if empty
	CheckLabels bool    `json:"checkLabels"` // fail if the labeled detections carry fewer than two labels

	mutex   sync.Mutex
	file    *os.File
	total   evaluate.Report
	pending int
	runID   string
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpEvaluateDefault() }) } // register the operator for JSON decoding

func NewOpEvaluateDefault() *OpEvaluate { return NewOpEvaluate(0, "") }

func NewOpEvaluate(maxDist float64, fileName string) *OpEvaluate {
	op := &OpEvaluate{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "evaluate", Active: true}},
		MaxDist:     maxDist,
		FileName:    fileName,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpEvaluate) UnmarshalJSON(data []byte) error {
	type params struct {
		ops.OpBase
		MaxDist     float64 `json:"maxDist"`
		FileName    string  `json:"fileName"`
		CheckLabels bool    `json:"checkLabels"`
	}
	def := NewOpEvaluateDefault()
	p := params{OpBase: def.OpBase, MaxDist: def.MaxDist, FileName: def.FileName}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	op.OpUnaryBase = ops.OpUnaryBase{OpBase: p.OpBase}
	op.MaxDist, op.FileName, op.CheckLabels = p.MaxDist, p.FileName, p.CheckLabels
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op
	return nil
}

func (op *OpEvaluate) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if op.MaxDist <= 0 {
		catalog, err := c.RequireCatalog(op.Type)
		if err != nil {
			return nil, err
		}
		op.MaxDist = float64(catalog.Edge()) / 2
	}
	if op.runID, err = c.BeginRun(store.KindEvaluate, op); err != nil {
		return nil, err
	}
	op.pending = len(ins)
	return op.OpUnaryBase.MakePromises(ins, c)
}

func (op *OpEvaluate) Apply(t *tomo.Tomogram, c *ops.Context) (result *tomo.Tomogram, err error) {
	if len(t.Composition) == 0 {
		fmt.Fprintf(c.Log, "%d: No ground truth, skipping evaluation\n", t.ID)
		return t, op.done(c, nil)
	}
	t.Detections = evaluate.Label(t.Detections, t.Composition, op.MaxDist)
	report := evaluate.Evaluate(t.Detections, t.Composition, op.MaxDist)
	fmt.Fprintf(c.Log, "%d: %v\n", t.ID, report)

	if err := c.RecordCandidates(op.runID, t, t.Detections); err != nil {
		return nil, err
	}
	if op.CheckLabels {
		if err := evaluate.CheckLabelSet(t.Detections); err != nil {
			return nil, fmt.Errorf("%d: %w", t.ID, err)
		}
	}
	if err := op.done(c, &report); err != nil {
		return nil, err
	}
	return t, nil
}

// Accumulates a report and writes it. Closes the CSV file and logs the totals after the last input
func (op *OpEvaluate) done(c *ops.Context, r *evaluate.Report) (err error) {
	op.mutex.Lock()         // lock so a single thread is active
	defer op.mutex.Unlock() // always release lock on exit

	if r != nil {
		op.total = op.total.Add(*r)
		if op.FileName != "" {
			if op.file == nil {
				fmt.Fprintf(c.Log, "Writing evaluation to file %s ...\n", op.FileName)
				if op.file, err = os.Create(op.FileName); err != nil {
					return fmt.Errorf("error creating file %s: %w", op.FileName, err)
				}
				fmt.Fprintln(op.file, r.ToCSVHeader())
			}
			fmt.Fprintln(op.file, r.ToCSVLine())
		}
	}
	op.pending--
	if op.pending > 0 {
		return nil
	}
	if op.total.Truth > 0 {
		fmt.Fprintf(c.Log, "Total: %v\n", op.total)
	}
	if op.file != nil {
		err = op.file.Close()
		op.file = nil
	}
	return err
}

// Returns the accumulated report over all tomograms evaluated so far
func (op *OpEvaluate) Total() evaluate.Report {
	op.mutex.Lock()
	defer op.mutex.Unlock()
	return op.total
}
