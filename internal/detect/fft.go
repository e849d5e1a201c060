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
	"gonum.org/v1/gonum/dsp/fourier"
)

// Returns the smallest m >= n with no prime factors other than 2, 3 and 5
func smoothSize(n int) int {
	if n <= 1 {
		return 1
	}
	for m := n; ; m++ {
		r := m
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return m
		}
	}
}

// A separable N-dimensional complex FFT over a flat array with the first axis varying fastest.
// Holds scratch buffers, so a plan must not be shared between goroutines
type plan struct {
	dims      []int
	ffts      []*fourier.CmplxFFT
	line, out []complex128
}

func newPlan(dims []int) *plan {
	p := &plan{dims: dims, ffts: make([]*fourier.CmplxFFT, len(dims))}
	longest := 1
	for axis, n := range dims {
		if n > 1 {
			p.ffts[axis] = fourier.NewCmplxFFT(n)
		}
		longest = max(longest, n)
	}
	p.line = make([]complex128, longest)
	p.out = make([]complex128, longest)
	return p
}

func (p *plan) size() int {
	s := 1
	for _, n := range p.dims {
		s *= n
	}
	return s
}

// Unnormalized forward transform in place
func (p *plan) forward(data []complex128) { p.apply(data, true) }

// Unnormalized inverse transform in place. forward then inverse scales by size()
func (p *plan) inverse(data []complex128) { p.apply(data, false) }

func (p *plan) apply(data []complex128, forward bool) {
	stride := 1
	for axis, n := range p.dims {
		if n > 1 {
			fft, line, out := p.ffts[axis], p.line[:n], p.out[:n]
			block := stride * n
			for base := 0; base < len(data); base += block {
				for off := 0; off < stride; off++ {
					start := base + off
					for i := range line {
						line[i] = data[start+i*stride]
					}
					if forward {
						fft.Coefficients(out, line)
					} else {
						fft.Sequence(out, line)
					}
					for i, v := range out {
						data[start+i*stride] = v
					}
				}
			}
		}
		stride *= n
	}
}
