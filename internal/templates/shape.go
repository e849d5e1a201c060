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

// Package templates renders reference shapes into density grids and builds
// the catalog of discretely rotated templates used for composition and detection.
package templates

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tomopick/tomopick/internal/tomo"
)

// Shape kinds as used in descriptors and on the command line
const (
	KindCube    = "cube"
	KindSphere  = "sphere"
	KindMesh    = "mesh"
	KindDensity = "density"
)

// A reference shape. Implemented only by Cube, Sphere, Mesh and DensityMap
type Shape interface {
	Descriptor() Descriptor
	isShape()
}

// A solid cube of unit density. Even sides are rounded up to the next odd side,
// so the cube stays centred on a cell. Descriptors and parsing carry the rounded side
type Cube struct {
	Side int
}

// A solid ball of unit density in a box of edge 2*Radius+1
type Sphere struct {
	Radius int
}

// A closed triangle mesh in OFF format, voxelized with the given voxel size in mesh units
type Mesh struct {
	Path       string
	Resolution float64
}

// A precomputed density grid stored as a FITS file
type DensityMap struct {
	Path string
}

func (Cube) isShape()       {}
func (Sphere) isShape()     {}
func (Mesh) isShape()       {}
func (DensityMap) isShape() {}

func (s Cube) Descriptor() Descriptor   { return Descriptor{Kind: KindCube, Param: float64(s.Side | 1)} }
func (s Sphere) Descriptor() Descriptor { return Descriptor{Kind: KindSphere, Param: float64(s.Radius)} }
func (s Mesh) Descriptor() Descriptor {
	return Descriptor{Kind: KindMesh, Param: s.Resolution, Path: s.Path}
}
func (s DensityMap) Descriptor() Descriptor { return Descriptor{Kind: KindDensity, Path: s.Path} }

// Persisted and configured form of a shape
type Descriptor struct {
	Kind  string  `json:"kind"`
	Param float64 `json:"param,omitempty"`
	Path  string  `json:"path,omitempty"`
}

func (d Descriptor) String() string {
	switch {
	case d.Path != "" && d.Param != 0:
		return fmt.Sprintf("%s:%s:%g", d.Kind, d.Path, d.Param)
	case d.Path != "":
		return fmt.Sprintf("%s:%s", d.Kind, d.Path)
	default:
		return fmt.Sprintf("%s:%g", d.Kind, d.Param)
	}
}

// Returned when a descriptor names a shape kind which is not supported
type UnknownShapeKindError struct {
	Kind string
}

func (e *UnknownShapeKindError) Error() string {
	return fmt.Sprintf("unknown shape kind %q", e.Kind)
}

// Converts a descriptor into a shape, validating its parameters
func ParseShape(d Descriptor) (Shape, error) {
	switch d.Kind {
	case KindCube:
		if d.Param < 1 {
			return nil, fmt.Errorf("cube side %g must be at least 1", d.Param)
		}
		return Cube{Side: int(d.Param) | 1}, nil
	case KindSphere:
		if d.Param < 0 {
			return nil, fmt.Errorf("sphere radius %g must not be negative", d.Param)
		}
		return Sphere{Radius: int(d.Param)}, nil
	case KindMesh:
		if d.Path == "" {
			return nil, fmt.Errorf("mesh shape needs a path")
		}
		res := d.Param
		if res == 0 {
			res = 1
		}
		if res < 0 {
			return nil, fmt.Errorf("mesh resolution %g must be positive", res)
		}
		return Mesh{Path: d.Path, Resolution: res}, nil
	case KindDensity:
		if d.Path == "" {
			return nil, fmt.Errorf("density shape needs a path")
		}
		return DensityMap{Path: d.Path}, nil
	default:
		return nil, &UnknownShapeKindError{Kind: d.Kind}
	}
}

// Parses a textual descriptor kind:param, kind:path or kind:path:param,
// e.g. sphere:4, density:ribosome.fits or mesh:chair.off:0.5
func ParseDescriptor(s string) (Descriptor, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	d := Descriptor{Kind: strings.ToLower(parts[0])}
	switch d.Kind {
	case KindCube, KindSphere:
		if len(parts) != 2 {
			return d, fmt.Errorf("shape %q: expected %s:<size>", s, d.Kind)
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return d, fmt.Errorf("shape %q: %w", s, err)
		}
		d.Param = v
	case KindMesh, KindDensity:
		if len(parts) < 2 || len(parts) > 3 {
			return d, fmt.Errorf("shape %q: expected %s:<path>[:<param>]", s, d.Kind)
		}
		d.Path = parts[1]
		if len(parts) == 3 {
			v, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return d, fmt.Errorf("shape %q: %w", s, err)
			}
			d.Param = v
		}
	default:
		return d, &UnknownShapeKindError{Kind: d.Kind}
	}
	return d, nil
}

// Parses a comma-separated list of textual descriptors into shapes
func ParseShapes(list string) ([]Shape, error) {
	var shapes []Shape
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		d, err := ParseDescriptor(item)
		if err != nil {
			return nil, err
		}
		s, err := ParseShape(d)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, s)
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no shapes in %q", list)
	}
	return shapes, nil
}

// Renders the base density grid of a shape at the given rank
func Render(s Shape, rank int) (*tomo.Grid, error) {
	if rank != 2 && rank != 3 {
		return nil, fmt.Errorf("unsupported rank %d", rank)
	}
	switch s := s.(type) {
	case Cube:
		return renderCube(s.Side, rank), nil
	case Sphere:
		return renderSphere(s.Radius, rank), nil
	case Mesh:
		return renderMesh(s, rank)
	case DensityMap:
		g, err := tomo.NewGridFromFile(s.Path, 0, io.Discard)
		if err != nil {
			return nil, fmt.Errorf("density map: %w", err)
		}
		if g.Rank() != rank {
			return nil, fmt.Errorf("density map %s has rank %d, want %d", s.Path, g.Rank(), rank)
		}
		return g, nil
	default:
		panic(fmt.Sprintf("unhandled shape type %T", s))
	}
}

func cubeAxes(edge, rank int) []int32 {
	naxisn := make([]int32, rank)
	for i := range naxisn {
		naxisn[i] = int32(edge)
	}
	return naxisn
}

func renderCube(side, rank int) *tomo.Grid {
	edge := side | 1
	g := tomo.NewGrid(cubeAxes(edge, rank), nil)
	for i := range g.Data {
		g.Data[i] = 1
	}
	g.UpdateStats()
	return g
}

func renderSphere(radius, rank int) *tomo.Grid {
	g := tomo.NewGrid(cubeAxes(2*radius+1, rank), nil)
	c := g.Center()
	rSq := int64(radius) * int64(radius)
	for i := range g.Data {
		if g.Coord(i).DistSquared(c) <= rSq {
			g.Data[i] = 1
		}
	}
	g.UpdateStats()
	return g
}
