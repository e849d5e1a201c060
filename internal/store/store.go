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

// Package store records template and tilt metadata, runs and their candidates
// in an SQLite database.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tomopick/tomopick/internal/templates"
	"github.com/tomopick/tomopick/internal/tomo"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Run kinds
const (
	KindSimulate = "simulate"
	KindDetect   = "detect"
	KindEvaluate = "evaluate"
)

// A run store backed by an SQLite database file
type Store struct {
	db *sql.DB
}

// A simulation or detection run
type Run struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	CreatedAt int64           `json:"createdAt"` // unix nanoseconds
	Params    json.RawMessage `json:"params,omitempty"`
}

// Opens or creates the database at path and ensures the schema exists
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// in-memory databases exist per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Runs fn in a transaction, committing on success
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Stores the template id to shape descriptor table, replacing existing ids
func (s *Store) PutTemplates(descs []templates.Descriptor) error {
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO templates (id, kind, param, path) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, d := range descs {
			if _, err := stmt.Exec(id, d.Kind, d.Param, d.Path); err != nil {
				return fmt.Errorf("insert template %d: %w", id, err)
			}
		}
		return nil
	})
}

// Returns the template id to shape descriptor table
func (s *Store) Templates() (map[int]templates.Descriptor, error) {
	rows, err := s.db.Query(`SELECT id, kind, param, path FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()
	res := map[int]templates.Descriptor{}
	for rows.Next() {
		var id int
		var d templates.Descriptor
		if err := rows.Scan(&id, &d.Kind, &d.Param, &d.Path); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		res[id] = d
	}
	return res, rows.Err()
}

// Stores the tilt id to orientation table, replacing existing ids
func (s *Store) PutTilts(tilts []templates.Tilt) error {
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tilts (id, phi, theta, psi) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, t := range tilts {
			if _, err := stmt.Exec(id, t.Phi, t.Theta, t.Psi); err != nil {
				return fmt.Errorf("insert tilt %d: %w", id, err)
			}
		}
		return nil
	})
}

// Returns the tilt id to orientation table
func (s *Store) Tilts() (map[int]templates.Tilt, error) {
	rows, err := s.db.Query(`SELECT id, phi, theta, psi FROM tilts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tilts: %w", err)
	}
	defer rows.Close()
	res := map[int]templates.Tilt{}
	for rows.Next() {
		var id int
		var t templates.Tilt
		if err := rows.Scan(&id, &t.Phi, &t.Theta, &t.Psi); err != nil {
			return nil, fmt.Errorf("scan tilt: %w", err)
		}
		res[id] = t
	}
	return res, rows.Err()
}

// Stores both metadata tables of a catalog
func (s *Store) PutCatalog(c *templates.Catalog) error {
	if err := s.PutTemplates(c.Descriptors()); err != nil {
		return err
	}
	return s.PutTilts(c.Tilts().Tilts())
}

// Persists a run. Generates a UUID and the creation time if they are unset
func (s *Store) InsertRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	var params interface{}
	if len(run.Params) > 0 {
		params = string(run.Params)
	}
	if _, err := s.db.Exec(`INSERT INTO runs (id, kind, created_at, params) VALUES (?, ?, ?, ?)`,
		run.ID, run.Kind, run.CreatedAt, params); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Returns a single run by id
func (s *Store) Run(id string) (*Run, error) {
	var r Run
	var params sql.NullString
	err := s.db.QueryRow(`SELECT id, kind, created_at, params FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Kind, &r.CreatedAt, &params)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	} else if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if params.Valid {
		r.Params = json.RawMessage(params.String)
	}
	return &r, nil
}

// Stores the candidates found in or composed into the given source grid
func (s *Store) InsertCandidates(runID, source string, cands []tomo.Candidate) error {
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO candidates (run_id, source, idx, x, y, z, tilt, label, score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, c := range cands {
			if _, err := stmt.Exec(runID, source, i, c.X, c.Y, c.Z, c.Tilt, c.Label, c.Score); err != nil {
				return fmt.Errorf("insert candidate %d of %s: %w", i, source, err)
			}
		}
		return nil
	})
}

// Returns the candidates of a run and source grid, in insertion order
func (s *Store) Candidates(runID, source string) ([]tomo.Candidate, error) {
	rows, err := s.db.Query(`SELECT x, y, z, tilt, label, score FROM candidates
		WHERE run_id = ? AND source = ? ORDER BY idx`, runID, source)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()
	var res []tomo.Candidate
	for rows.Next() {
		var p tomo.Position
		var tilt, label int
		var score float32
		if err := rows.Scan(&p.X, &p.Y, &p.Z, &tilt, &label, &score); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c := tomo.NewCandidate(label, p, tilt)
		c.Score = score
		res = append(res, c)
	}
	return res, rows.Err()
}

// Returns the number of candidates per label over all sources of a run
func (s *Store) LabelCounts(runID string) (map[int]int, error) {
	rows, err := s.db.Query(`SELECT label, COUNT(*) FROM candidates WHERE run_id = ? GROUP BY label`, runID)
	if err != nil {
		return nil, fmt.Errorf("query label counts: %w", err)
	}
	defer rows.Close()
	res := map[int]int{}
	for rows.Next() {
		var label, count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, err
		}
		res[label] = count
	}
	return res, rows.Err()
}
