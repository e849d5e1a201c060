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

// Package bank provides the pipeline operator which builds or loads the template catalog.
package bank

import (
	"encoding/json"
	"fmt"

	"github.com/tomopick/tomopick/internal/ops"
	"github.com/tomopick/tomopick/internal/templates"
)

// Builds the template catalog for the given shapes and tilt resolution, or loads it
// from a cache directory, and installs it into the context. Passes inputs through unchanged
type OpBank struct {
	ops.OpBase
	Shapes     []templates.Descriptor `json:"shapes"`
	Resolution int                    `json:"resolution"` // tilt step in degrees
	Rank       int                    `json:"rank"`       // 2 for planar, 3 for volumetric templates
	Dir        string                 `json:"dir"`        // cache directory, no caching if empty
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBankDefault() }) } // register the operator for JSON decoding

func NewOpBankDefault() *OpBank {
	return NewOpBank([]templates.Descriptor{
		{Kind: templates.KindCube, Param: 5},
		{Kind: templates.KindSphere, Param: 3},
	}, 45, 3, "")
}

func NewOpBank(shapes []templates.Descriptor, resolution, rank int, dir string) *OpBank {
	return &OpBank{
		OpBase:     ops.OpBase{Type: "bank", Active: true},
		Shapes:     shapes,
		Resolution: resolution,
		Rank:       rank,
		Dir:        dir,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBank) UnmarshalJSON(data []byte) error {
	type defaults OpBank
	def := defaults(*NewOpBankDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpBank(def)
	return nil
}

// Builds the catalog eagerly, so operators later in the sequence find it in the context
func (op *OpBank) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	shapes := make([]templates.Shape, len(op.Shapes))
	for i, d := range op.Shapes {
		if shapes[i], err = templates.ParseShape(d); err != nil {
			return nil, err
		}
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("%s operator without shapes", op.Type)
	}

	catalog, cached, err := templates.LoadOrBuild(op.Dir, shapes, op.Resolution, op.Rank, c.MaxThreads, c.Log)
	if err != nil {
		return nil, err
	}
	if cached {
		fmt.Fprintf(c.Log, "Reusing template catalog from %s\n", op.Dir)
	}
	fmt.Fprintf(c.Log, "Template catalog has %d labels, %d tilts, edge %d\n",
		catalog.Len(), catalog.Tilts().Len(), catalog.Edge())

	if c.Store != nil {
		if err := c.Store.PutCatalog(catalog); err != nil {
			return nil, err
		}
	}
	c.Catalog = catalog
	return ins, nil
}
