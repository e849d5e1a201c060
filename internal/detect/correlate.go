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

package detect

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/tomopick/tomopick/internal/tomo"
)

// Relative magnitude below which correlation values are treated as numerical noise
const flushRatio = 1e-6

// Returned when a tomogram and a template or saliency grid have incompatible shapes
type DimensionMismatchError struct {
	Stage string
	Label int
	Tilt  int
	Want  []int32
	Got   []int32
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%d: %s: tilt %d has shape %v, incompatible with %v", e.Label, e.Stage, e.Tilt, e.Got, e.Want)
}

// Frequency domain cross-correlation of one tomogram against many templates of one shape.
// The transform of the zero padded tomogram is computed once and shared read-only
type correlator struct {
	naxisn  []int32 // tomogram extent
	tnaxisn []int32 // template extent
	dims    []int   // padded extent
	gHat    []complex128
	norm    float64
}

func newCorrelator(g *tomo.Grid, tnaxisn []int32) *correlator {
	c := &correlator{
		naxisn:  append([]int32(nil), g.Naxisn...),
		tnaxisn: append([]int32(nil), tnaxisn...),
		dims:    make([]int, len(g.Naxisn)),
	}
	for i := range c.dims {
		c.dims[i] = smoothSize(int(g.Naxisn[i]) + int(tnaxisn[i]) - 1)
	}
	p := newPlan(c.dims)
	c.gHat = make([]complex128, p.size())
	c.embed(c.gHat, g)
	p.forward(c.gHat)
	c.norm = 1 / float64(p.size())
	return c
}

// Number of bytes of scratch memory one correlation pass needs
func (c *correlator) passBytes() int64 {
	n := int64(16)
	for _, d := range c.dims {
		n *= int64(d)
	}
	return n + 4*int64(product(c.naxisn))
}

func product(naxisn []int32) int {
	p := 1
	for _, n := range naxisn {
		p *= int(n)
	}
	return p
}

// Copies the grid into the corner of the zeroed padded buffer
func (c *correlator) embed(buf []complex128, g *tomo.Grid) {
	for i := range buf {
		buf[i] = 0
	}
	nx, ny, nz := g.Dims()
	px, py := c.dims[0], 1
	if len(c.dims) > 1 {
		py = c.dims[1]
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			row := g.Data[g.Offset(0, y, z) : g.Offset(0, y, z)+nx]
			dst := buf[px*(y+py*z):]
			for x, v := range row {
				dst[x] = complex(float64(v), 0)
			}
		}
	}
}

// Correlates template t against the tomogram into out, which has the tomogram's shape.
// out at p is the sum over q of t[q]*g[p-centre+q], i.e. the match of t centred on p.
// p and buf must belong to the calling goroutine
func (c *correlator) correlate(p *plan, buf []complex128, t *tomo.Grid, out *tomo.Grid) {
	c.embed(buf, t)
	p.forward(buf)
	for i, v := range buf {
		buf[i] = c.gHat[i] * cmplx.Conj(v)
	}
	p.inverse(buf)

	ctr := t.Center()
	nx, ny, nz := out.Dims()
	px, py, pz := c.dims[0], 1, 1
	if len(c.dims) > 1 {
		py = c.dims[1]
	}
	if len(c.dims) > 2 {
		pz = c.dims[2]
	}
	wrap := func(v, n int) int { return ((v % n) + n) % n }

	peak := float32(0)
	for z := 0; z < nz; z++ {
		sz := wrap(z-int(ctr.Z), pz)
		for y := 0; y < ny; y++ {
			sy := wrap(y-int(ctr.Y), py)
			rowOut := out.Data[out.Offset(0, y, z):]
			rowIn := buf[px*(sy+py*sz):]
			for x := 0; x < nx; x++ {
				v := float32(real(rowIn[wrap(x-int(ctr.X), px)]) * c.norm)
				rowOut[x] = v
				if a := float32(math.Abs(float64(v))); a > peak {
					peak = a
				}
			}
		}
	}

	limit := peak * flushRatio
	for i, v := range out.Data {
		if v < limit && v > -limit {
			out.Data[i] = 0
		}
	}
}

// Cross-correlates the tomogram against a single template. The result has the tomogram's
// shape and is aligned on the template centre
func Correlate(g, t *tomo.Grid) (*tomo.Grid, error) {
	if g.Rank() != t.Rank() {
		return nil, &DimensionMismatchError{Stage: "correlate", Label: t.ID, Tilt: tomo.TiltUnknown, Want: g.Naxisn, Got: t.Naxisn}
	}
	c := newCorrelator(g, t.Naxisn)
	p := newPlan(c.dims)
	buf := make([]complex128, p.size())
	out := tomo.NewGridLike(g)
	c.correlate(p, buf, t, out)
	out.UpdateStats()
	return out, nil
}
