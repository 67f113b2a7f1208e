package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	TrialRunning  TrialState = "RUNNING"
	TrialComplete TrialState = "COMPLETE"
	TrialFail     TrialState = "FAIL"
)

// Distribution describes the range a parameter was sampled from.
type Distribution struct {
	Kind string  `json:"kind"` // "float" or "int"
	Low  float64 `json:"low"`
	High float64 `json:"high"`
	Log  bool    `json:"log,omitempty"`
}

// Trial is one evaluation of the objective.
type Trial struct {
	ID            int64
	UUID          string
	StudyID       int64
	Number        int
	State         TrialState
	Values        []float64
	Params        map[string]float64
	Distributions map[string]Distribution
	UserAttrs     map[string]any
	Start         time.Time
	Complete      time.Time
}

// Value returns the first objective value, or false if the trial has none.
func (t *Trial) Value() (float64, bool) {
	if len(t.Values) == 0 {
		return 0, false
	}
	return t.Values[0], true
}

// RunResult is the outcome of one simulator run within a trial.
type RunResult struct {
	Run      int                `msgpack:"run"`
	Command  string             `msgpack:"command"`
	Output   string             `msgpack:"output"`
	Values   map[string]float64 `msgpack:"values"`
	Skipped  bool               `msgpack:"skipped,omitempty"`
	Duration time.Duration      `msgpack:"duration"`
}

// CreateTrial starts a new trial numbered after the last trial of the study.
func (db *DB) CreateTrial(studyID int64, now time.Time) (*Trial, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t := &Trial{
		UUID:          uuid.NewString(),
		StudyID:       studyID,
		State:         TrialRunning,
		Params:        map[string]float64{},
		Distributions: map[string]Distribution{},
		UserAttrs:     map[string]any{},
		Start:         now,
	}
	if err := tx.QueryRow(`SELECT COALESCE(MAX(number) + 1, 0) FROM trials WHERE study_id = ?`, studyID).Scan(&t.Number); err != nil {
		return nil, err
	}
	res, err := tx.Exec(`INSERT INTO trials (trial_uuid, number, study_id, state, start_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
		t.UUID, t.Number, studyID, string(t.State), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create trial: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

// SetTrialParam records a sampled parameter value.
func (db *DB) SetTrialParam(trialID int64, name string, value float64, dist Distribution) error {
	b, err := json.Marshal(dist)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO trial_params (trial_id, param_name, param_value, distribution_json) VALUES (?, ?, ?, ?)
		ON CONFLICT (trial_id, param_name) DO UPDATE SET param_value = excluded.param_value, distribution_json = excluded.distribution_json`,
		trialID, name, value, string(b))
	if err != nil {
		return fmt.Errorf("failed to store parameter %s: %w", name, err)
	}
	return nil
}

// SetTrialAttr stores a JSON encodable user attribute on a trial.
func (db *DB) SetTrialAttr(trialID int64, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode trial attribute %s: %w", key, err)
	}
	_, err = db.Exec(`INSERT INTO trial_user_attrs (trial_id, key, value_json) VALUES (?, ?, ?)
		ON CONFLICT (trial_id, key) DO UPDATE SET value_json = excluded.value_json`, trialID, key, string(b))
	return err
}

// FinishTrial sets the final state and objective values of a trial.
func (db *DB) FinishTrial(trialID int64, state TrialState, values []float64, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE trials SET state = ?, complete_unix_nanos = ? WHERE trial_id = ?`,
		string(state), now.UnixNano(), trialID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %d", ErrTrialNotFound, trialID)
	}
	if _, err := tx.Exec(`DELETE FROM trial_values WHERE trial_id = ?`, trialID); err != nil {
		return err
	}
	for i, v := range values {
		if _, err := tx.Exec(`INSERT INTO trial_values (trial_id, objective, value) VALUES (?, ?, ?)`, trialID, i, v); err != nil {
			return fmt.Errorf("failed to store value %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// SaveRunResults stores the per-run results of a trial.
func (db *DB) SaveRunResults(trialID int64, runs []RunResult) error {
	b, err := msgpack.Marshal(runs)
	if err != nil {
		return fmt.Errorf("failed to encode run results: %w", err)
	}
	_, err = db.Exec(`INSERT INTO trial_runs (trial_id, runs) VALUES (?, ?)
		ON CONFLICT (trial_id) DO UPDATE SET runs = excluded.runs`, trialID, b)
	return err
}

// RunResults loads the per-run results of a trial. A trial without stored
// runs yields an empty slice.
func (db *DB) RunResults(trialID int64) ([]RunResult, error) {
	var b []byte
	err := db.QueryRow(`SELECT runs FROM trial_runs WHERE trial_id = ?`, trialID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var runs []RunResult
	if err := msgpack.Unmarshal(b, &runs); err != nil {
		return nil, fmt.Errorf("failed to decode run results of trial %d: %w", trialID, err)
	}
	return runs, nil
}

// Trials loads the trials of a study in number order, optionally restricted
// to the given states.
func (db *DB) Trials(studyID int64, states ...TrialState) ([]*Trial, error) {
	query := `SELECT trial_id, trial_uuid, number, state, start_unix_nanos, complete_unix_nanos FROM trials WHERE study_id = ?`
	args := []any{studyID}
	if len(states) > 0 {
		query += ` AND state IN (?` + strings.Repeat(", ?", len(states)-1) + `)`
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY number`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	var trials []*Trial
	for rows.Next() {
		t := &Trial{
			StudyID:       studyID,
			Params:        map[string]float64{},
			Distributions: map[string]Distribution{},
			UserAttrs:     map[string]any{},
		}
		var state string
		var start int64
		var complete sql.NullInt64
		if err := rows.Scan(&t.ID, &t.UUID, &t.Number, &state, &start, &complete); err != nil {
			rows.Close()
			return nil, err
		}
		t.State = TrialState(state)
		t.Start = time.Unix(0, start)
		if complete.Valid {
			t.Complete = time.Unix(0, complete.Int64)
		}
		trials = append(trials, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range trials {
		if err := db.loadTrialDetails(t); err != nil {
			return nil, err
		}
	}
	return trials, nil
}

// GetTrial loads a single trial.
func (db *DB) GetTrial(trialID int64) (*Trial, error) {
	var studyID int64
	err := db.QueryRow(`SELECT study_id FROM trials WHERE trial_id = ?`, trialID).Scan(&studyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTrialNotFound, trialID)
	}
	if err != nil {
		return nil, err
	}
	trials, err := db.Trials(studyID)
	if err != nil {
		return nil, err
	}
	for _, t := range trials {
		if t.ID == trialID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrTrialNotFound, trialID)
}

func (db *DB) loadTrialDetails(t *Trial) error {
	rows, err := db.Query(`SELECT value FROM trial_values WHERE trial_id = ? ORDER BY objective`, t.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		t.Values = append(t.Values, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.Query(`SELECT param_name, param_value, distribution_json FROM trial_params WHERE trial_id = ?`, t.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var name, dist string
		var v float64
		if err := rows.Scan(&name, &v, &dist); err != nil {
			rows.Close()
			return err
		}
		var d Distribution
		if err := json.Unmarshal([]byte(dist), &d); err != nil {
			rows.Close()
			return fmt.Errorf("distribution of %s: %w", name, err)
		}
		t.Params[name] = v
		t.Distributions[name] = d
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	attrs, err := db.attrs(`SELECT key, value_json FROM trial_user_attrs WHERE trial_id = ?`, t.ID)
	if err != nil {
		return err
	}
	t.UserAttrs = attrs
	return nil
}
