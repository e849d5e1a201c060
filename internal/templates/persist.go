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

package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tomopick/tomopick/internal/tomo"
)

const (
	ManifestFile    = "catalog.json"
	TemplateIDsFile = "template_ids.json"
	TiltIDsFile     = "tilt_ids.json"
)

// Describes how a stored catalog was generated
type manifest struct {
	Resolution int          `json:"resolution"`
	Rank       int          `json:"rank"`
	Edge       int          `json:"edge"`
	Tilts      int          `json:"tilts"`
	Shapes     []Descriptor `json:"shapes"`
}

func (m *manifest) matches(shapes []Descriptor, resolution, rank int) bool {
	if m.Resolution != resolution || m.Rank != rank || len(m.Shapes) != len(shapes) {
		return false
	}
	for i := range shapes {
		if m.Shapes[i] != shapes[i] {
			return false
		}
	}
	return true
}

// File name of the grid for the given template id and tilt id
func TemplateFileName(dir string, label, tilt int) string {
	return filepath.Join(dir, fmt.Sprintf("%d_%d.fits", label, tilt))
}

// Writes every template as a FITS file, the template id and tilt id tables,
// and finally the manifest
func (c *Catalog) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for label, row := range c.templates {
		for tilt, g := range row {
			if err := g.WriteFile(TemplateFileName(dir, label, tilt)); err != nil {
				return fmt.Errorf("%d: writing tilt %d: %w", label, tilt, err)
			}
		}
	}

	templateIDs := make(map[string]Descriptor, len(c.shapes))
	for label, d := range c.shapes {
		templateIDs[strconv.Itoa(label)] = d
	}
	if err := writeJSON(filepath.Join(dir, TemplateIDsFile), templateIDs); err != nil {
		return err
	}
	tiltIDs := make(map[string]Tilt, c.tilts.Len())
	for id, t := range c.tilts.tilts {
		tiltIDs[strconv.Itoa(id)] = t
	}
	if err := writeJSON(filepath.Join(dir, TiltIDsFile), tiltIDs); err != nil {
		return err
	}

	m := manifest{
		Resolution: c.tilts.Resolution(),
		Rank:       c.tilts.Rank(),
		Edge:       c.edge,
		Tilts:      c.tilts.Len(),
		Shapes:     c.shapes,
	}
	return writeJSON(filepath.Join(dir, ManifestFile), &m)
}

func writeJSON(fileName string, v interface{}) error {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, append(bytes, '\n'), 0644)
}

func readManifest(dir string) (*manifest, error) {
	bytes, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	m := &manifest{}
	if err := json.Unmarshal(bytes, m); err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestFile, err)
	}
	return m, nil
}

// Loads a catalog previously written with Save
func LoadCatalog(dir string, logWriter io.Writer) (*Catalog, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	tilts, err := NewTiltCatalogForRank(m.Rank, m.Resolution)
	if err != nil {
		return nil, err
	}
	if tilts.Len() != m.Tilts {
		return nil, fmt.Errorf("%s: %d tilts stored, resolution %d yields %d", dir, m.Tilts, m.Resolution, tilts.Len())
	}

	c := &Catalog{
		shapes:    m.Shapes,
		tilts:     tilts,
		edge:      m.Edge,
		templates: make([][]*tomo.Grid, len(m.Shapes)),
	}
	for label := range c.templates {
		c.templates[label] = make([]*tomo.Grid, tilts.Len())
		for tilt := range c.templates[label] {
			id := label*tilts.Len() + tilt
			g, err := tomo.NewGridFromFile(TemplateFileName(dir, label, tilt), id, logWriter)
			if err != nil {
				return nil, err
			}
			for _, n := range g.Naxisn {
				if int(n) != m.Edge || g.Rank() != m.Rank {
					return nil, fmt.Errorf("%d: template %s has shape %s, want edge %d rank %d",
						id, g.FileName, g.DimensionsToString(), m.Edge, m.Rank)
				}
			}
			c.templates[label][tilt] = g
			c.annotate(g, label, tilt)
		}
	}
	return c, nil
}

// Loads the catalog stored in dir if it was generated from the same shapes, resolution and rank.
// Otherwise builds a fresh catalog and saves it to dir. An empty dir disables the cache.
// Returns true if the stored catalog was reused
func LoadOrBuild(dir string, shapes []Shape, resolution, rank, maxThreads int, logWriter io.Writer) (*Catalog, bool, error) {
	descs := make([]Descriptor, len(shapes))
	for i, s := range shapes {
		descs[i] = s.Descriptor()
	}

	if dir != "" {
		m, err := readManifest(dir)
		switch {
		case err == nil && m.matches(descs, resolution, rank):
			c, err := LoadCatalog(dir, logWriter)
			if err == nil {
				fmt.Fprintf(logWriter, "Loaded %d templates x %d tilts from %s\n", c.Len(), c.Tilts().Len(), dir)
				return c, true, nil
			}
			fmt.Fprintf(logWriter, "Warning: cannot reuse catalog in %s, regenerating: %s\n", dir, err)
		case err == nil:
			fmt.Fprintf(logWriter, "Catalog in %s was generated with other parameters, regenerating\n", dir)
		case !errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(logWriter, "Warning: cannot read catalog manifest in %s, regenerating: %s\n", dir, err)
		}
	}

	tilts, err := NewTiltCatalogForRank(rank, resolution)
	if err != nil {
		return nil, false, err
	}
	c, err := BuildCatalog(shapes, tilts, maxThreads, logWriter)
	if err != nil {
		return nil, false, err
	}
	if dir != "" {
		if err := c.Save(dir); err != nil {
			return nil, false, err
		}
		fmt.Fprintf(logWriter, "Saved %d templates x %d tilts to %s\n", c.Len(), tilts.Len(), dir)
	}
	return c, false, nil
}
