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

// Package detect finds candidate template instances in a density grid by exhaustive
// cross-correlation against a template catalog, max fusion of the responses,
// smoothing and non-maximum suppression.
package detect

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/tomopick/tomopick/internal/filter"
	"github.com/tomopick/tomopick/internal/templates"
	"github.com/tomopick/tomopick/internal/tomo"
)

// Detector parameters
type Detector struct {
	Threshold  float32   `json:"threshold"`  // keep maxima strictly above this. Negative selects an automatic threshold
	AutoSigmas float32   `json:"autoSigmas"` // automatic threshold in standard deviations above the saliency mode
	Sigma      float32   `json:"sigma"`      // standard deviation of the saliency blur
	Window     int       `json:"window"`     // half width of the non-maximum suppression window
	MaxThreads int       `json:"-"`          // concurrent correlation passes, GOMAXPROCS if zero
	MemoryMB   int       `json:"-"`          // memory budget limiting concurrency, unlimited if zero
	Log        io.Writer `json:"-"`
}

// Creates a detector with default parameters
func NewDetectorDefault() *Detector {
	return &Detector{
		Threshold:  50,
		AutoSigmas: 5,
		Sigma:      3,
		Window:     3,
		Log:        io.Discard,
	}
}

// Fuses src into dst by pointwise maximum. Order independent and idempotent
func Fuse(dst, src *tomo.Grid) error {
	if !tomo.EqualInt32Slice(dst.Naxisn, src.Naxisn) {
		return &DimensionMismatchError{Stage: "fuse", Label: src.ID, Tilt: tomo.TiltUnknown, Want: dst.Naxisn, Got: src.Naxisn}
	}
	for i, v := range src.Data {
		if v > dst.Data[i] {
			dst.Data[i] = v
		}
	}
	return nil
}

// Returns a copy of the grid blurred with a separable gaussian of the given standard deviation
func Smooth(g *tomo.Grid, sigma float32) *tomo.Grid {
	res := tomo.NewGridLike(g)
	if sigma <= 0 {
		copy(res.Data, g.Data)
	} else {
		tmp := make([]float32, len(g.Data))
		filter.GaussFilter(res.Data, tmp, g.Data, g.Naxisn, sigma)
	}
	res.UpdateStats()
	return res
}

// Returns the positions of all cells which are maximal within the (2*window+1)^rank box around them,
// clipped to the grid, in data order. Among equal values the lexicographically smallest (z,y,x) wins
func LocalMaxima(g *tomo.Grid, window int) []tomo.Position {
	return localMaxima(g, window, float32(math.Inf(-1)))
}

// Like LocalMaxima, restricted to cells with values strictly above floor
func localMaxima(g *tomo.Grid, window int, floor float32) []tomo.Position {
	nx, ny, nz := g.Dims()
	wz := window
	if g.Rank() < 3 {
		wz = 0
	}
	var res []tomo.Position
	for i, v := range g.Data {
		if !(v > floor) {
			continue
		}
		p := g.Coord(i)
		x, y, z := int(p.X), int(p.Y), int(p.Z)
		isMax := true
	scan:
		for zz := max(0, z-wz); zz <= min(nz-1, z+wz); zz++ {
			for yy := max(0, y-window); yy <= min(ny-1, y+window); yy++ {
				row := g.Offset(0, yy, zz)
				for xx := max(0, x-window); xx <= min(nx-1, x+window); xx++ {
					j := row + xx
					if u := g.Data[j]; u > v || (u == v && j < i) {
						isMax = false
						break scan
					}
				}
			}
		}
		if isMax {
			res = append(res, p)
		}
	}
	return res
}

// Centre of mass of the positive values within the window around p
func refine(g *tomo.Grid, p tomo.Position, window int) (x, y, z float64) {
	nx, ny, nz := g.Dims()
	wz := window
	if g.Rank() < 3 {
		wz = 0
	}
	var sum, sx, sy, sz float64
	for zz := max(0, int(p.Z)-wz); zz <= min(nz-1, int(p.Z)+wz); zz++ {
		for yy := max(0, int(p.Y)-window); yy <= min(ny-1, int(p.Y)+window); yy++ {
			for xx := max(0, int(p.X)-window); xx <= min(nx-1, int(p.X)+window); xx++ {
				v := float64(g.Data[g.Offset(xx, yy, zz)])
				if v <= 0 {
					continue
				}
				sum += v
				sx, sy, sz = sx+v*float64(xx), sy+v*float64(yy), sz+v*float64(zz)
			}
		}
	}
	if sum == 0 {
		return float64(p.X), float64(p.Y), float64(p.Z)
	}
	return sx / sum, sy / sum, sz / sum
}

type pass struct {
	label, tilt int
}

// Correlates the grid against every template of the catalog, fuses the responses by maximum,
// smooths the result and extracts local maxima above the threshold. Returns the candidates
// with label and tilt unset, and the smoothed saliency grid
func (d *Detector) Detect(g *tomo.Grid, catalog *templates.Catalog) ([]tomo.Candidate, *tomo.Grid, error) {
	logWriter := d.Log
	if logWriter == nil {
		logWriter = io.Discard
	}
	for _, label := range catalog.Labels() {
		t, err := catalog.Get(label, 0)
		if err != nil {
			return nil, nil, err
		}
		if t.Rank() != g.Rank() {
			return nil, nil, &DimensionMismatchError{Stage: "detect", Label: label, Tilt: 0, Want: g.Naxisn, Got: t.Naxisn}
		}
	}

	saliency := tomo.NewGridLike(g)
	if allZero(g.Data) {
		fmt.Fprintf(logWriter, "%d: Empty grid, no candidates\n", g.ID)
		saliency.UpdateStats()
		return nil, saliency, nil
	}

	for i := range saliency.Data {
		saliency.Data[i] = -math.MaxFloat32
	}
	edge := int32(catalog.Edge())
	tnaxisn := make([]int32, g.Rank())
	for i := range tnaxisn {
		tnaxisn[i] = edge
	}
	corr := newCorrelator(g, tnaxisn)

	threads := d.threads(corr)
	passes := make(chan pass)
	f := &fusion{saliency: saliency}
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := newPlan(corr.dims)
			buf := make([]complex128, p.size())
			out := tomo.NewGridLike(g)
			for ps := range passes {
				t, err := catalog.Get(ps.label, ps.tilt)
				if err == nil && !tomo.EqualInt32Slice(t.Naxisn, tnaxisn) {
					err = &DimensionMismatchError{Stage: "detect", Label: ps.label, Tilt: ps.tilt, Want: tnaxisn, Got: t.Naxisn}
				}
				if err != nil {
					f.fail(err)
					continue
				}
				corr.correlate(p, buf, t, out)
				f.add(out)
			}
		}()
	}
	numTilts := catalog.Tilts().Len()
	fmt.Fprintf(logWriter, "%d: Correlating %s against %d templates x %d tilts in %v padding, %d threads\n",
		g.ID, g.DimensionsToString(), catalog.Len(), numTilts, corr.dims, threads)
	for _, label := range catalog.Labels() {
		for tilt := 0; tilt < numTilts; tilt++ {
			passes <- pass{label, tilt}
		}
	}
	close(passes)
	wg.Wait()
	if f.err != nil {
		return nil, nil, f.err
	}
	saliency.UpdateStats()

	smoothed := Smooth(saliency, d.Sigma)
	threshold := d.Threshold
	if threshold < 0 {
		auto, err := AutoThreshold(smoothed, d.AutoSigmas)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(logWriter, "%d: Automatic threshold %.4g\n", g.ID, auto)
		threshold = auto
	}

	maxima := localMaxima(smoothed, d.Window, threshold)
	cands := make([]tomo.Candidate, len(maxima))
	for i, p := range maxima {
		cands[i] = tomo.NewCandidate(tomo.LabelUnknown, p, tomo.TiltUnknown)
		cands[i].Score = smoothed.Data[smoothed.Offset(int(p.X), int(p.Y), int(p.Z))]
		cands[i].Refined.X, cands[i].Refined.Y, cands[i].Refined.Z = refine(smoothed, p, d.Window)
	}
	fmt.Fprintf(logWriter, "%d: Found %d candidates above %.4g, saliency %s\n", g.ID, len(cands), threshold, smoothed.Stats)
	return cands, smoothed, nil
}

// Saliency shared by the correlation workers, with the first error any of them hit
type fusion struct {
	mu       sync.Mutex
	saliency *tomo.Grid
	err      error
}

// Fuses one correlation response into the saliency
func (f *fusion) add(out *tomo.Grid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := Fuse(f.saliency, out); err != nil && f.err == nil {
		f.err = err
	}
}

// Records err unless an earlier error is already recorded
func (f *fusion) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// Number of concurrent passes, limited by the thread count and the memory budget
func (d *Detector) threads(c *correlator) int {
	threads := d.MaxThreads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	if d.MemoryMB > 0 {
		budget := int64(d.MemoryMB)*1024*1024*7/10 - int64(len(c.gHat))*16
		threads = min(threads, int(max(1, budget/c.passBytes())))
	}
	return max(1, threads)
}

func allZero(data []float32) bool {
	for _, v := range data {
		if v != 0 {
			return false
		}
	}
	return true
}
