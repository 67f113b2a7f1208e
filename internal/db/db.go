// Package db persists calibration studies and their trials in sqlite.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrStudyNotFound is returned when no study has the requested name.
	ErrStudyNotFound = errors.New("study not found")
	// ErrTrialNotFound is returned for an unknown trial id.
	ErrTrialNotFound = errors.New("trial not found")
	// ErrNoCompleteTrials is returned when a selection needs finished trials
	// and the study has none.
	ErrNoCompleteTrials = errors.New("no complete trials")
)

// DefaultPath is the store used by the calibration commands.
const DefaultPath = "calibration.db"

// Direction of an objective.
type Direction string

const (
	Minimize Direction = "MINIMIZE"
	Maximize Direction = "MAXIMIZE"
)

type DB struct {
	*sql.DB
}

// NewDB opens the store at path and applies pending migrations. Use
// "file::memory:" for a private in-memory store.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDB opens the store without touching its schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases shared and serialises
	// writers.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) applyPragmas() error {
	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Study is an optimizer study.
type Study struct {
	ID         int64
	UUID       string
	Name       string
	Directions []Direction
	CreatedAt  time.Time
}

// LoadOrCreateStudy returns the study named name, creating it with the given
// directions if it does not exist. An existing study must have the same
// number of objectives.
func (db *DB) LoadOrCreateStudy(name string, directions []Direction, now time.Time) (*Study, error) {
	if len(directions) == 0 {
		return nil, fmt.Errorf("study %s needs at least one direction", name)
	}
	s, err := db.GetStudy(name)
	if err == nil {
		if len(s.Directions) != len(directions) {
			return nil, fmt.Errorf("study %s has %d objectives, requested %d", name, len(s.Directions), len(directions))
		}
		return s, nil
	}
	if !errors.Is(err, ErrStudyNotFound) {
		return nil, err
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s = &Study{UUID: uuid.NewString(), Name: name, Directions: directions, CreatedAt: now}
	res, err := tx.Exec(`INSERT INTO studies (study_uuid, study_name, created_unix_nanos) VALUES (?, ?, ?)`,
		s.UUID, s.Name, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create study %s: %w", name, err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	for i, d := range directions {
		if _, err := tx.Exec(`INSERT INTO study_directions (study_id, objective, direction) VALUES (?, ?, ?)`,
			s.ID, i, string(d)); err != nil {
			return nil, fmt.Errorf("failed to store direction of study %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetStudy loads a study by name.
func (db *DB) GetStudy(name string) (*Study, error) {
	s := &Study{Name: name}
	var created int64
	err := db.QueryRow(`SELECT study_id, study_uuid, created_unix_nanos FROM studies WHERE study_name = ?`, name).
		Scan(&s.ID, &s.UUID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStudyNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(0, created)

	rows, err := db.Query(`SELECT direction FROM study_directions WHERE study_id = ? ORDER BY objective`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		s.Directions = append(s.Directions, Direction(d))
	}
	return s, rows.Err()
}

// StudyNames lists all studies in name order.
func (db *DB) StudyNames() ([]string, error) {
	rows, err := db.Query(`SELECT study_name FROM studies ORDER BY study_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SetStudyAttr stores a JSON encodable user attribute on a study,
// replacing an existing value.
func (db *DB) SetStudyAttr(studyID int64, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode study attribute %s: %w", key, err)
	}
	_, err = db.Exec(`INSERT INTO study_user_attrs (study_id, key, value_json) VALUES (?, ?, ?)
		ON CONFLICT (study_id, key) DO UPDATE SET value_json = excluded.value_json`, studyID, key, string(b))
	return err
}

// StudyAttrs returns the user attributes of a study. Numbers decode as float64.
func (db *DB) StudyAttrs(studyID int64) (map[string]any, error) {
	return db.attrs(`SELECT key, value_json FROM study_user_attrs WHERE study_id = ?`, studyID)
}

func (db *DB) attrs(query string, id int64) (map[string]any, error) {
	rows, err := db.Query(query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	attrs := map[string]any{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		attrs[key] = v
	}
	return attrs, rows.Err()
}
