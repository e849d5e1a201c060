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

package ops

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tomopick/tomopick/internal/store"
	"github.com/tomopick/tomopick/internal/tomo"
)

// Records a new run of the given kind with the operator as parameters, and makes it the
// current run of the context. Without a store, returns an empty run id
func (c *Context) BeginRun(kind string, params interface{}) (string, error) {
	if c.Store == nil {
		return "", nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	run := &store.Run{Kind: kind, Params: raw}
	if err := c.Store.InsertRun(run); err != nil {
		return "", err
	}
	c.RunID = run.ID
	fmt.Fprintf(c.Log, "Recording %s run %s\n", kind, run.ID)
	return run.ID, nil
}

// Records candidates for the given tomogram under the run. No-op without a store or run
func (c *Context) RecordCandidates(runID string, t *tomo.Tomogram, cands []tomo.Candidate) error {
	if c.Store == nil || runID == "" {
		return nil
	}
	return c.Store.InsertCandidates(runID, SourceName(t), cands)
}

// Name under which a tomogram's candidates are recorded: its file name, else its id
func SourceName(t *tomo.Tomogram) string {
	if t.FileName != "" {
		return t.FileName
	}
	return strconv.Itoa(t.ID)
}
