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

package tomo

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Label and tilt values for candidates which have not been assigned one
const (
	LabelUnknown = -1 // label not yet assigned by a labeler
	LabelJunk    = -2 // detection not matching any ground truth
	TiltUnknown  = -1 // orientation not estimated
)

// An integer voxel coordinate. Rank 2 grids use Z=0
type Position struct {
	X, Y, Z int32
}

// Returns the position as a vector
func (p Position) Vec() r3.Vec {
	return r3.Vec{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

// Squared euclidean distance between two positions
func (p Position) DistSquared(q Position) int64 {
	dx, dy, dz := int64(p.X-q.X), int64(p.Y-q.Y), int64(p.Z-q.Z)
	return dx*dx + dy*dy + dz*dz
}

// Lexicographic ordering on (Z, Y, X), which is the data layout order
func (p Position) Less(q Position) bool {
	if p.Z != q.Z {
		return p.Z < q.Z
	}
	if p.Y != q.Y {
		return p.Y < q.Y
	}
	return p.X < q.X
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// A position plus a tilt id, i.e. the full placement of one template instance
type SixPosition struct {
	Position
	Tilt int
}

// A ground truth or detected placement of a template instance
type Candidate struct {
	SixPosition
	Label    int       // template id, LabelUnknown or LabelJunk
	Score    float32   // smoothed correlation at the peak, zero for ground truth
	Refined  r3.Vec    // sub-voxel center estimate, equals the position if not refined
	Features []float32 // optional feature vector attached by an external extractor
}

// Creates a candidate for the given label, position and tilt
func NewCandidate(label int, pos Position, tilt int) Candidate {
	return Candidate{
		SixPosition: SixPosition{Position: pos, Tilt: tilt},
		Label:       label,
		Refined:     pos.Vec(),
	}
}

// A density grid together with its ground truth composition, and any detections
type Tomogram struct {
	*Grid
	Composition []Candidate // ground truth, empty if the grid is not synthetic
	Detections  []Candidate // detector output
}

// Wraps a grid into a tomogram without ground truth
func NewTomogram(g *Grid) *Tomogram {
	return &Tomogram{Grid: g}
}

// Prints given candidates as CSV
func PrintCandidates(w io.Writer, cands []Candidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"x", "y", "z", "tilt", "label", "score", "rx", "ry", "rz"}); err != nil {
		return err
	}
	for _, c := range cands {
		rec := []string{
			strconv.Itoa(int(c.X)), strconv.Itoa(int(c.Y)), strconv.Itoa(int(c.Z)),
			strconv.Itoa(c.Tilt), strconv.Itoa(c.Label),
			strconv.FormatFloat(float64(c.Score), 'g', -1, 32),
			strconv.FormatFloat(c.Refined.X, 'g', -1, 64),
			strconv.FormatFloat(c.Refined.Y, 'g', -1, 64),
			strconv.FormatFloat(c.Refined.Z, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Reads candidates in the format written by PrintCandidates
func ReadCandidates(r io.Reader) ([]Candidate, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	cands := make([]Candidate, 0, len(records)-1)
	for line, rec := range records[1:] {
		if len(rec) != 9 {
			return nil, fmt.Errorf("candidate line %d: got %d fields, want 9", line+2, len(rec))
		}
		ints := make([]int, 5)
		for i := range ints {
			if ints[i], err = strconv.Atoi(rec[i]); err != nil {
				return nil, fmt.Errorf("candidate line %d: %w", line+2, err)
			}
		}
		floats := make([]float64, 4)
		for i := range floats {
			if floats[i], err = strconv.ParseFloat(rec[5+i], 64); err != nil {
				return nil, fmt.Errorf("candidate line %d: %w", line+2, err)
			}
		}
		c := NewCandidate(ints[4], Position{X: int32(ints[0]), Y: int32(ints[1]), Z: int32(ints[2])}, ints[3])
		c.Score = float32(floats[0])
		c.Refined = r3.Vec{X: floats[1], Y: floats[2], Z: floats[3]}
		cands = append(cands, c)
	}
	return cands, nil
}

// Returns the sidecar file name for ground truth or detections of the given grid file
func SidecarName(fileName, kind string) string {
	base := fileName
	for _, ext := range []string{".gz", ".gzip", ".fits", ".fit", ".fts"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base + "." + kind + ".csv"
}

// Writes candidates to a CSV file
func WriteCandidatesFile(fileName string, cands []Candidate) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err = PrintCandidates(f, cands); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Reads candidates from a CSV file
func ReadCandidatesFile(fileName string) ([]Candidate, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCandidates(f)
}

// Writes the tomogram grid as FITS, plus CSV sidecars for composition and detections if present
func (t *Tomogram) WriteFile(fileName string) error {
	if err := t.Grid.WriteFile(fileName); err != nil {
		return err
	}
	if len(t.Composition) > 0 {
		if err := WriteCandidatesFile(SidecarName(fileName, "truth"), t.Composition); err != nil {
			return err
		}
	}
	if len(t.Detections) > 0 {
		if err := WriteCandidatesFile(SidecarName(fileName, "picks"), t.Detections); err != nil {
			return err
		}
	}
	return nil
}

// Reads a tomogram from a FITS file, with ground truth from a sidecar file if one exists
func NewTomogramFromFile(fileName string, id int, logWriter io.Writer) (*Tomogram, error) {
	g, err := NewGridFromFile(fileName, id, logWriter)
	if err != nil {
		return nil, err
	}
	t := NewTomogram(g)
	truthName := SidecarName(fileName, "truth")
	if _, err := os.Stat(truthName); err == nil {
		if t.Composition, err = ReadCandidatesFile(truthName); err != nil {
			return nil, fmt.Errorf("%d: reading ground truth %s: %w", id, truthName, err)
		}
		fmt.Fprintf(logWriter, "%d: Loaded %d ground truth placements from %s\n", id, len(t.Composition), truthName)
	}
	return t, nil
}
