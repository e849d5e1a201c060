// Copyright (C) 2026 The tomopick Authors
// Copyright (C) 2020 Markus L. Noga
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
	"bufio"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"
)

// Returns the maximum intensity projection of the grid along the z axis, as a rank 2 grid
func (g *Grid) MaxProjection() *Grid {
	nx, ny, nz := g.Dims()
	res := NewGrid([]int32{int32(nx), int32(ny)}, nil)
	res.ID, res.FileName = g.ID, g.FileName
	plane := nx * ny
	copy(res.Data, g.Data[:plane])
	for z := 1; z < nz; z++ {
		for i, v := range g.Data[z*plane : (z+1)*plane] {
			if v > res.Data[i] {
				res.Data[i] = v
			}
		}
	}
	res.UpdateStats()
	return res
}

// Maps a value to [0,1] using the given min, max and gamma. NaNs map to zero
func normalize(v, min, scale float32, gammaInv float64) float32 {
	v = (v - min) * scale
	if math.IsNaN(float64(v)) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = float32(math.Pow(float64(v), gammaInv))
	}
	return v
}

// Converts a rank 2 grid to a 16-bit grayscale image using the given min, max and gamma
func (g *Grid) Gray16(min, max, gamma float32) *image.Gray16 {
	width, height, _ := g.Dims()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray := normalize(g.Data[y*width+x], min, scale, gammaInv)
			img.SetGray16(x, y, color.Gray16{Y: uint16(gray * 65535)})
		}
	}
	return img
}

// Write the maximum projection of a grid to 16-bit TIFF, using the given min, max and gamma.
func (g *Grid) WriteProjectionTIFF16ToFile(fileName string, min, max, gamma float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return g.WriteProjectionTIFF16(writer, min, max, gamma)
}

// Write the maximum projection of a grid to 16-bit TIFF, using the given min, max and gamma.
func (g *Grid) WriteProjectionTIFF16(writer io.Writer, min, max, gamma float32) error {
	img := g.MaxProjection().Gray16(min, max, gamma)
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Returns a distinct marker color for the given label. Junk and unknown labels are gray
func LabelColor(label int) color.RGBA {
	if label < 0 {
		return color.RGBA{R: 160, G: 160, B: 160, A: 255}
	}
	hue := math.Mod(float64(label)*137.50776, 360) // golden angle spreads neighboring labels apart
	r, g, b := colorful.Hsv(hue, 0.85, 1).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Renders the maximum projection of the tomogram, upscaled by the given integer factor,
// with ground truth marked by crosses and detections marked by squares in label colors
func (t *Tomogram) Preview(scale int, gamma float32) image.Image {
	if scale < 1 {
		scale = 1
	}
	proj := t.MaxProjection()
	gray := proj.Gray16(proj.Stats.Min, proj.Stats.Max, gamma)
	width, height, _ := proj.Dims()
	img := imaging.Resize(gray, width*scale, height*scale, imaging.NearestNeighbor)

	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, image.Point{}, draw.Src)
	arm := 2 * scale
	for _, c := range t.Composition {
		cx, cy := int(c.X)*scale+scale/2, int(c.Y)*scale+scale/2
		col := LabelColor(c.Label)
		for d := -arm; d <= arm; d++ {
			rgba.SetRGBA(cx+d, cy, col)
			rgba.SetRGBA(cx, cy+d, col)
		}
	}
	for _, c := range t.Detections {
		cx, cy := int(c.X)*scale+scale/2, int(c.Y)*scale+scale/2
		col := LabelColor(c.Label)
		for d := -arm; d <= arm; d++ {
			rgba.SetRGBA(cx+d, cy-arm, col)
			rgba.SetRGBA(cx+d, cy+arm, col)
			rgba.SetRGBA(cx-arm, cy+d, col)
			rgba.SetRGBA(cx+arm, cy+d, col)
		}
	}
	return rgba
}

// Write the annotated projection preview to JPG
func (t *Tomogram) WritePreviewJPGToFile(fileName string, scale int, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return jpeg.Encode(writer, t.Preview(scale, gamma), &jpeg.Options{Quality: quality})
}
