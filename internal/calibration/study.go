// Package calibration drives parameter searches for the episim simulator.
// A Study samples parameters for each trial, runs an objective that invokes
// the simulator and scores its output, and records everything in the store.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
	"github.com/matsim-org/matsim-episim-libs/internal/timeutil"
)

var logf = monitoring.Component("calibrate")

// Func evaluates one trial and returns one value per study direction.
type Func func(ctx context.Context, t *Trial) ([]float64, error)

// Study is a named, persistent parameter search.
type Study struct {
	Name    string
	Sampler Sampler
	Clock   timeutil.Clock

	store  *db.DB
	record *db.Study
}

// NewStudy loads the study named name from store or creates it with the
// given directions.
func NewStudy(store *db.DB, name string, directions []db.Direction, sampler Sampler, clock timeutil.Clock) (*Study, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if sampler == nil {
		sampler = NewRandomSampler(clock.Now().UnixNano())
	}
	rec, err := store.LoadOrCreateStudy(name, directions, clock.Now())
	if err != nil {
		return nil, err
	}
	return &Study{Name: name, Sampler: sampler, Clock: clock, store: store, record: rec}, nil
}

// Directions returns the optimization direction of each objective.
func (s *Study) Directions() []db.Direction {
	return s.record.Directions
}

// SetUserAttr stores a study attribute.
func (s *Study) SetUserAttr(key string, value any) error {
	return s.store.SetStudyAttr(s.record.ID, key, value)
}

// UserAttrs returns the study attributes.
func (s *Study) UserAttrs() (map[string]any, error) {
	return s.store.StudyAttrs(s.record.ID)
}

// Trials returns all trials of the study in number order.
func (s *Study) Trials() ([]*db.Trial, error) {
	return s.store.Trials(s.record.ID)
}

// BestTrial returns the complete trial with the lowest first value.
func (s *Study) BestTrial() (*db.Trial, error) {
	return s.store.BestTrial(s.Name)
}

// Optimize runs nTrials trials of fn one after another. A trial whose
// objective fails is stored as FAIL and the error is returned, ending the
// search.
func (s *Study) Optimize(ctx context.Context, fn Func, nTrials int) error {
	for i := 0; i < nTrials; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runTrial(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Study) runTrial(ctx context.Context, fn Func) error {
	history, err := s.store.Trials(s.record.ID, db.TrialComplete)
	if err != nil {
		return err
	}
	rec, err := s.store.CreateTrial(s.record.ID, s.Clock.Now())
	if err != nil {
		return err
	}
	t := &Trial{Number: rec.Number, study: s, record: rec, history: history}
	logf("study %s: starting trial %d", s.Name, t.Number)

	values, err := fn(ctx, t)
	if err == nil {
		err = s.checkValues(values)
	}
	if len(t.runs) > 0 {
		if serr := s.store.SaveRunResults(rec.ID, t.runs); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	if err != nil {
		if ferr := s.store.FinishTrial(rec.ID, db.TrialFail, nil, s.Clock.Now()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return fmt.Errorf("trial %d of %s failed: %w", t.Number, s.Name, err)
	}
	if err := s.store.FinishTrial(rec.ID, db.TrialComplete, values, s.Clock.Now()); err != nil {
		return err
	}
	logf("study %s: trial %d finished with values %v and parameters %v", s.Name, t.Number, values, t.params())
	return nil
}

func (s *Study) checkValues(values []float64) error {
	if len(values) != len(s.record.Directions) {
		return fmt.Errorf("objective returned %d values, study has %d directions", len(values), len(s.record.Directions))
	}
	for _, v := range values {
		if math.IsNaN(v) {
			return fmt.Errorf("objective returned NaN")
		}
	}
	return nil
}

// Trial is a running evaluation handed to an objective.
type Trial struct {
	Number int

	study   *Study
	record  *db.Trial
	history []*db.Trial
	runs    []db.RunResult
}

// Study returns the study the trial belongs to.
func (t *Trial) Study() *Study {
	return t.study
}

// SuggestFloat samples a parameter uniformly from [low, high].
func (t *Trial) SuggestFloat(name string, low, high float64) (float64, error) {
	return t.suggest(name, db.Distribution{Kind: "float", Low: low, High: high})
}

// SuggestLogFloat samples a parameter log-uniformly from [low, high].
func (t *Trial) SuggestLogFloat(name string, low, high float64) (float64, error) {
	if low <= 0 {
		return 0, fmt.Errorf("parameter %s: log scale needs a positive lower bound, got %v", name, low)
	}
	return t.suggest(name, db.Distribution{Kind: "float", Low: low, High: high, Log: true})
}

// SuggestInt samples an integer parameter from [low, high].
func (t *Trial) SuggestInt(name string, low, high int) (int, error) {
	v, err := t.suggest(name, db.Distribution{Kind: "int", Low: float64(low), High: float64(high)})
	return int(v), err
}

func (t *Trial) suggest(name string, d db.Distribution) (float64, error) {
	if d.High < d.Low {
		return 0, fmt.Errorf("parameter %s: empty range [%v, %v]", name, d.Low, d.High)
	}
	if v, ok := t.record.Params[name]; ok {
		return v, nil
	}
	v := t.study.Sampler.Sample(t.history, t.Number, name, d)
	if d.Kind == "int" {
		v = math.Round(v)
	}
	v = math.Max(d.Low, math.Min(d.High, v))
	if err := t.study.store.SetTrialParam(t.record.ID, name, v, d); err != nil {
		return 0, err
	}
	t.record.Params[name] = v
	t.record.Distributions[name] = d
	return v, nil
}

// SetUserAttr stores a trial attribute.
func (t *Trial) SetUserAttr(key string, value any) error {
	if err := t.study.store.SetTrialAttr(t.record.ID, key, value); err != nil {
		return err
	}
	t.record.UserAttrs[key] = value
	return nil
}

// AddRun records the outcome of one simulator run.
func (t *Trial) AddRun(r db.RunResult) {
	t.runs = append(t.runs, r)
}

func (t *Trial) params() map[string]float64 {
	return t.record.Params
}

// elapsed returns the time since start according to the study clock.
func (t *Trial) elapsed(start time.Time) time.Duration {
	return t.study.Clock.Since(start)
}
