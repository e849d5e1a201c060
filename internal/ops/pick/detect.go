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

// Package pick provides the pipeline operators for candidate detection and its evaluation.
package pick

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomopick/tomopick/internal/detect"
	"github.com/tomopick/tomopick/internal/ops"
	"github.com/tomopick/tomopick/internal/store"
	"github.com/tomopick/tomopick/internal/tomo"
)

// Detects candidate template instances in each input tomogram with the catalog in the context.
// Sets the detections of the tomogram, and records them if the context has a store
type OpDetect struct {
	ops.OpUnaryBase
	detect.Detector
	SaliencyPattern string `json:"saliencyPattern"` // optional FITS file pattern for the smoothed saliency, %d expands to the id
	runID           string
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDetectDefault() }) } // register the operator for JSON decoding

func NewOpDetectDefault() *OpDetect { return NewOpDetect(*detect.NewDetectorDefault()) }

func NewOpDetect(d detect.Detector) *OpDetect {
	op := &OpDetect{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "detect", Active: true}},
		Detector:    d,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDetect) UnmarshalJSON(data []byte) error {
	type defaults OpDetect
	def := defaults(*NewOpDetectDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpDetect(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

// Checks for a catalog and opens a detection run before delegating to the unary base
func (op *OpDetect) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if _, err := c.RequireCatalog(op.Type); err != nil {
		return nil, err
	}
	if op.runID, err = c.BeginRun(store.KindDetect, op); err != nil {
		return nil, err
	}
	return op.OpUnaryBase.MakePromises(ins, c)
}

func (op *OpDetect) Apply(t *tomo.Tomogram, c *ops.Context) (result *tomo.Tomogram, err error) {
	catalog, err := c.RequireCatalog(op.Type)
	if err != nil {
		return nil, err
	}
	d := op.Detector
	d.MaxThreads, d.MemoryMB, d.Log = c.MaxThreads, c.MemoryMB, c.Log

	cands, saliency, err := d.Detect(t.Grid, catalog)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", t.ID, err)
	}
	t.Detections = cands

	if op.SaliencyPattern != "" {
		fileName := op.SaliencyPattern
		if strings.Contains(fileName, "%d") {
			fileName = fmt.Sprintf(op.SaliencyPattern, t.ID)
		}
		fmt.Fprintf(c.Log, "%d: Writing saliency to %s\n", t.ID, fileName)
		if err := saliency.WriteFile(fileName); err != nil {
			return nil, fmt.Errorf("%d: error writing saliency to %s: %w", t.ID, fileName, err)
		}
	}
	if err := c.RecordCandidates(op.runID, t, cands); err != nil {
		return nil, err
	}
	return t, nil
}
