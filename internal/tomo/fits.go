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
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tomopick/tomopick/internal/stats"
)

// Grids are stored as FITS primary data units.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const headerLineSize int = 80  // Line size of a FITS header

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// FITS header keys which are not structural
type Header struct {
	Bools   map[string]bool
	Ints    map[string]int32
	Floats  map[string]float32
	Strings map[string]string
	History []string
	End     bool
}

// Creates a header initialized with empty maps
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int32),
		Floats:  make(map[string]float32),
		Strings: make(map[string]string),
	}
}

// Deep copy of the header
func (h Header) Clone() Header {
	res := NewHeader()
	for k, v := range h.Bools {
		res.Bools[k] = v
	}
	for k, v := range h.Ints {
		res.Ints[k] = v
	}
	for k, v := range h.Floats {
		res.Floats[k] = v
	}
	for k, v := range h.Strings {
		res.Strings[k] = v
	}
	res.History = append([]string(nil), h.History...)
	return res
}

// Reads a grid from the FITS file with the given name. Decompresses gzip if .gz or .gzip suffix is present
func NewGridFromFile(fileName string, id int, logWriter io.Writer) (*Grid, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if lExt := strings.ToLower(path.Ext(fileName)); lExt == ".gz" || lExt == ".gzip" {
		if r, err = gzip.NewReader(r); err != nil {
			return nil, fmt.Errorf("%d: %w", id, err)
		}
	}

	g, err := ReadGrid(r, id, logWriter)
	if err != nil {
		return nil, err
	}
	g.FileName = fileName
	return g, nil
}

// Reads a grid in FITS format from the given reader
func ReadGrid(r io.Reader, id int, logWriter io.Writer) (*Grid, error) {
	h := NewHeader()
	if err := h.read(r, id, logWriter); err != nil {
		return nil, err
	}

	// check mandatory fields as per standard
	if !h.Bools["SIMPLE"] {
		return nil, fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", id)
	}
	delete(h.Bools, "SIMPLE")
	bitpix, err := h.popInt32("BITPIX", id)
	if err != nil {
		return nil, err
	}
	naxis, err := h.popInt32("NAXIS", id)
	if err != nil {
		return nil, err
	}
	if naxis < 2 || naxis > 3 {
		return nil, fmt.Errorf("%d: Unsupported NAXIS=%d, want 2 or 3", id, naxis)
	}
	naxisn := make([]int32, naxis)
	for i := range naxisn {
		if naxisn[i], err = h.popInt32("NAXIS"+strconv.Itoa(i+1), id); err != nil {
			return nil, err
		}
	}
	bzero, bscale := h.popFloat("BZERO", 0), h.popFloat("BSCALE", 1)

	g := NewGrid(naxisn, nil)
	g.ID, g.Header = id, h
	if err := readData(r, g.Data, bitpix, bzero, bscale); err != nil {
		return nil, fmt.Errorf("%d: %w", id, err)
	}
	g.Stats = stats.NewStats(g.Data)
	return g, nil
}

func (h *Header) popInt32(key string, id int) (int32, error) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", id, key)
}

func (h *Header) popFloat(key string, def float32) float32 {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return float32(val)
	} else if val, ok := h.Floats[key]; ok {
		delete(h.Floats, key)
		return val
	}
	return def
}

// Reads big-endian data of the given BITPIX type, applying scale and offset
func readData(r io.Reader, data []float32, bitpix int32, bzero, bscale float32) error {
	bytesPerValue := int(bitpix) / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	switch bitpix {
	case 8, 16, 32, -32, -64:
	default:
		return fmt.Errorf("Unknown BITPIX value %d", bitpix)
	}

	buf := make([]byte, len(data)*bytesPerValue)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	for i := range data {
		b := buf[i*bytesPerValue:]
		var v float32
		switch bitpix {
		case 8:
			v = float32(b[0])
		case 16:
			v = float32(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float32(int32(binary.BigEndian.Uint32(b)))
		case -32:
			v = math.Float32frombits(binary.BigEndian.Uint32(b))
		case -64:
			v = float32(math.Float64frombits(binary.BigEndian.Uint64(b)))
		}
		data[i] = v*bscale + bzero
	}
	return nil
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)
	for !h.End {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%d: reading FITS header: %w", id, err)
		}
		for lineNo := 0; lineNo < fitsBlockSize/headerLineSize && !h.End; lineNo++ {
			line := buf[lineNo*headerLineSize : (lineNo+1)*headerLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: Cannot parse '%s', ignoring\n", id, string(line))
				continue
			}
			h.readLine(reParser.SubexpNames(), subValues)
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte) {
	key := ""
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		v := string(subValues[i])
		switch subNames[i][0] {
		case 'E':
			h.End = true
		case 'H':
			h.History = append(h.History, strings.TrimRight(v, " "))
		case 'k':
			key = v
		case 'b':
			h.Bools[key] = v == "T"
		case 'i':
			if val, err := strconv.ParseInt(v, 10, 32); err == nil {
				h.Ints[key] = int32(val)
			}
		case 'f':
			if val, err := strconv.ParseFloat(strings.Replace(v, "D", "E", 1), 32); err == nil {
				h.Floats[key] = float32(val)
			}
		case 's':
			h.Strings[key] = strings.TrimRight(strings.ReplaceAll(v, "''", "'"), " ")
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"

	histLine := "HISTORY" + white + "(?P<H>.*)"
	commLine := "COMMENT" + white + ".*"
	endLine := "(?P<E>END)" + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>(?:[^']|'')*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + "(?:/.*)?"

	return regexp.MustCompile("^(?:" + white + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$")
}

// Writes a grid to a FITS file with given filename. Creates/overwrites the file if necessary.
// Compresses with gzip if .gz or .gzip suffix is present
func (g *Grid) WriteFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var out io.Writer = w
	var zw *gzip.Writer
	if lExt := strings.ToLower(path.Ext(fileName)); lExt == ".gz" || lExt == ".gzip" {
		zw = gzip.NewWriter(w)
		out = zw
	}
	if err = g.Write(out); err != nil {
		f.Close()
		return err
	}
	if zw != nil {
		if err = zw.Close(); err != nil {
			f.Close()
			return err
		}
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Writes a grid in FITS format to an io.Writer
func (g *Grid) Write(w io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(g.Naxisn)), "Number of axes")
	for i, n := range g.Naxisn {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), n, "Axis size")
	}
	for _, k := range sortedKeys(g.Header.Bools) {
		writeBool(&sb, k, g.Header.Bools[k], "")
	}
	for _, k := range sortedKeys(g.Header.Ints) {
		writeInt32(&sb, k, g.Header.Ints[k], "")
	}
	for _, k := range sortedKeys(g.Header.Floats) {
		writeFloat32(&sb, k, g.Header.Floats[k], "")
	}
	for _, k := range sortedKeys(g.Header.Strings) {
		writeString(&sb, k, g.Header.Strings[k], "")
	}
	for _, h := range g.Header.History {
		if len(h) > 72 {
			h = h[:72]
		}
		fmt.Fprintf(&sb, "HISTORY %-72s", h)
	}
	writeEnd(&sb)
	pad(&sb, ' ')

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	// payload in network byte order, replacing NaNs with zeros for compatibility
	buf := make([]byte, 4*len(g.Data), 4*len(g.Data)+fitsBlockSize)
	for i, d := range g.Data {
		if math.IsNaN(float64(d)) {
			d = 0
		}
		binary.BigEndian.PutUint32(buf[4*i:], math.Float32bits(d))
	}
	if rem := len(buf) % fitsBlockSize; rem > 0 {
		buf = append(buf, make([]byte, fitsBlockSize-rem)...)
	}
	_, err := w.Write(buf)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pads the current header block to a multiple of the FITS block size
func pad(sb *strings.Builder, r rune) {
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(string(r), fitsBlockSize-rem))
	}
}

func card(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, value, comment)
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	card(w, key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	card(w, key, strconv.FormatInt(int64(value), 10), comment)
}

// Writes a FITS header float32 value, always with a decimal point
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	card(w, key, fmt.Sprintf("%#.9G", value), comment)
}

// Writes a FITS header string value, with escaping. Long values are truncated
func writeString(w io.Writer, key, value, comment string) {
	value = strings.ReplaceAll(value, "'", "''")
	if len(value) > 68 {
		value = value[:68]
	}
	if len(key) > 8 {
		key = key[0:8]
	}
	line := fmt.Sprintf("%-8s= '%-8s'", key, value)
	if len(line) < headerLineSize-3 && comment != "" {
		line += " / " + comment
	}
	fmt.Fprintf(w, "%-80s", line[:min(len(line), headerLineSize)])
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", headerLineSize-3))
}
