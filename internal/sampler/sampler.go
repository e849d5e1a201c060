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

// Package sampler places points in a box with a guaranteed minimum separation
// (Poisson-disk or blue-noise sampling), accelerated by a bucket grid.
package sampler

import (
	"fmt"
	"math"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/spatial/r3"
)

// Number of offspring candidates tried per active point before it is retired
const DefaultAttempts = 30

// Returned when the requested number of points does not fit the domain at the given separation
type InsufficientSpaceError struct {
	Requested int
	Placed    int
	W, H, D   float64
	R         float64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space: placed %d of %d points with separation %g in %gx%gx%g",
		e.Placed, e.Requested, e.R, e.W, e.H, e.D)
}

// A spaced point sampler for the box [0,W)x[0,H)x[0,D).
// Not safe for concurrent use
type Sampler struct {
	W, H, D  float64
	R        float64 // minimum separation
	Attempts int     // offspring attempts per active point

	rng      fastrand.RNG
	cellSize float64
	flat     bool // depth below the separation, offspring stay in the xy plane
}

// Creates a sampler for the given extents and separation. A seed of 0 selects a time-based seed
func NewSampler(w, h, d, r float64, seed uint32) (*Sampler, error) {
	if w <= 0 || h <= 0 || d <= 0 {
		return nil, fmt.Errorf("invalid sampling domain %gx%gx%g", w, h, d)
	}
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return nil, fmt.Errorf("invalid separation %g", r)
	}
	s := &Sampler{
		W: w, H: h, D: d, R: r,
		Attempts: DefaultAttempts,
		cellSize: r / math.Sqrt2,
		flat:     d < r,
	}
	if seed != 0 {
		s.rng.Seed(seed)
	}
	return s, nil
}

// Convenience wrapper creating a sampler and drawing n points
func Sample(w, h, d, r float64, n int, seed uint32) ([]r3.Vec, error) {
	s, err := NewSampler(w, h, d, r, seed)
	if err != nil {
		return nil, err
	}
	return s.Sample(n)
}

// Uniform random float64 in [0,1)
func (s *Sampler) uniform() float64 {
	return float64(s.rng.Uint32()) / (1 << 32)
}

// Draws n points with pairwise distance at least R. Fails with
// InsufficientSpaceError if the active list runs dry before n points are placed
func (s *Sampler) Sample(n int) ([]r3.Vec, error) {
	if n <= 0 {
		return nil, nil
	}
	grid := newCellGrid(s.W, s.H, s.D, s.cellSize)
	points := make([]r3.Vec, 0, n)
	add := func(p r3.Vec) int {
		points = append(points, p)
		grid.set(grid.index(p), len(points)-1)
		return len(points) - 1
	}

	first := r3.Vec{X: s.uniform() * s.W, Y: s.uniform() * s.H, Z: s.uniform() * s.D}
	active := []int{add(first)}
	rSq := s.R * s.R
	radiusCells := int(math.Ceil(s.R / s.cellSize))

	for len(active) > 0 && len(points) < n {
		ai := int(s.rng.Uint32n(uint32(len(active))))
		parent := points[active[ai]]

		accepted := false
		for k := 0; k < s.Attempts; k++ {
			c := s.offspring(parent)
			if !s.inDomain(c) {
				continue
			}
			free := grid.neighbors(grid.index(c), radiusCells, func(p int) bool {
				return r3.Norm2(r3.Sub(points[p], c)) >= rSq
			})
			if free {
				active = append(active, add(c))
				accepted = true
				break
			}
		}
		if !accepted {
			active[ai] = active[len(active)-1]
			active = active[:len(active)-1]
		}
	}

	if len(points) < n {
		return nil, &InsufficientSpaceError{Requested: n, Placed: len(points), W: s.W, H: s.H, D: s.D, R: s.R}
	}
	return points, nil
}

// Draws a candidate in the shell [R, sqrt(3)R] around p, area-uniform in the radius
func (s *Sampler) offspring(p r3.Vec) r3.Vec {
	radius := math.Sqrt(s.R*s.R + s.uniform()*2*s.R*s.R)
	phi := 2 * math.Pi * s.uniform()
	if s.flat {
		return r3.Vec{
			X: p.X + radius*math.Cos(phi),
			Y: p.Y + radius*math.Sin(phi),
			Z: s.uniform() * s.D,
		}
	}
	cosTheta := 2*s.uniform() - 1
	sinTheta := math.Sqrt(1 - cosTheta*cosTheta)
	return r3.Vec{
		X: p.X + radius*sinTheta*math.Cos(phi),
		Y: p.Y + radius*sinTheta*math.Sin(phi),
		Z: p.Z + radius*cosTheta,
	}
}

func (s *Sampler) inDomain(p r3.Vec) bool {
	return p.X >= 0 && p.X < s.W && p.Y >= 0 && p.Y < s.H && p.Z >= 0 && p.Z < s.D
}
