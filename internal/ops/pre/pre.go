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

// Package pre provides pipeline operators which condition tomogram densities before detection.
package pre

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/tomopick/tomopick/internal/filter"
	"github.com/tomopick/tomopick/internal/ops"
	"github.com/tomopick/tomopick/internal/stats"
	"github.com/tomopick/tomopick/internal/tomo"
	"github.com/valyala/fastrand"
)

// Adds gaussian noise with the given standard deviation to each tomogram, in place
type OpAddNoise struct {
	ops.OpUnaryBase
	Sigma float32 `json:"sigma"`
	Seed  uint32  `json:"seed"` // tomogram with id i uses Seed+i. 0 selects a time-based seed
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpAddNoiseDefault() }) } // register the operator for JSON decoding

func NewOpAddNoiseDefault() *OpAddNoise { return NewOpAddNoise(0, 0) }

func NewOpAddNoise(sigma float32, seed uint32) *OpAddNoise {
	op := &OpAddNoise{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "addNoise", Active: sigma > 0}},
		Sigma:       sigma,
		Seed:        seed,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpAddNoise) UnmarshalJSON(data []byte) error {
	type defaults OpAddNoise
	def := defaults(*NewOpAddNoiseDefault())
	def.Active = true
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpAddNoise(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpAddNoise) Apply(t *tomo.Tomogram, c *ops.Context) (result *tomo.Tomogram, err error) {
	if op.Sigma <= 0 {
		return t, nil
	}
	seed := op.Seed
	if seed == 0 {
		seed = uint32(time.Now().UnixNano())
	}
	var rng fastrand.RNG
	rng.Seed(seed + uint32(t.ID))
	AddGaussianNoise(t.Data, op.Sigma, &rng)
	t.UpdateStats()
	fmt.Fprintf(c.Log, "%d: Added noise with sigma %.4g, estimated noise %.4g\n",
		t.ID, op.Sigma, stats.EstimateNoise(t.Data, t.Naxisn))
	return t, nil
}

// Adds gaussian noise with standard deviation sigma to data, drawn with the Box-Muller transform
func AddGaussianNoise(data []float32, sigma float32, rng *fastrand.RNG) {
	for i := 0; i < len(data); i += 2 {
		u1 := (float64(rng.Uint32()) + 1) / (1 << 32) // in (0,1]
		u2 := float64(rng.Uint32()) / (1 << 32)
		r := float64(sigma) * math.Sqrt(-2*math.Log(u1))
		s, c := math.Sincos(2 * math.Pi * u2)
		data[i] += float32(r * c)
		if i+1 < len(data) {
			data[i+1] += float32(r * s)
		}
	}
}

// Applies a 3x3 median filter to each xy plane of the tomogram
type OpMedian struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpMedianDefault() }) } // register the operator for JSON decoding

func NewOpMedianDefault() *OpMedian { return NewOpMedian(true) }

func NewOpMedian(active bool) *OpMedian {
	op := &OpMedian{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "median", Active: active}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpMedian) UnmarshalJSON(data []byte) error {
	type defaults OpMedian
	def := defaults(*NewOpMedianDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpMedian(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpMedian) Apply(t *tomo.Tomogram, c *ops.Context) (result *tomo.Tomogram, err error) {
	before := stats.EstimateNoise(t.Data, t.Naxisn)
	res := make([]float32, len(t.Data))
	filter.MedianFilter3x3(res, t.Data, t.Naxisn)
	t.Data = res
	t.UpdateStats()
	fmt.Fprintf(c.Log, "%d: Median filtered, estimated noise %.4g before, %.4g after\n",
		t.ID, before, stats.EstimateNoise(t.Data, t.Naxisn))
	return t, nil
}
