package db

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

var t0 = time.Date(2021, 1, 4, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "calibration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addTrial(t *testing.T, db *DB, studyID int64, state TrialState, values []float64, params map[string]float64) *Trial {
	t.Helper()
	tr, err := db.CreateTrial(studyID, t0)
	require.NoError(t, err)
	for name, v := range params {
		require.NoError(t, db.SetTrialParam(tr.ID, name, v, Distribution{Kind: "float", Low: 0, High: 10}))
	}
	require.NoError(t, db.FinishTrial(tr.ID, state, values, t0.Add(time.Minute)))
	return tr
}

func TestNewDB_Migrates(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, name := range []string{"studies", "study_directions", "study_user_attrs", "trials",
		"trial_values", "trial_params", "trial_user_attrs", "trial_runs"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
		assert.Equal(t, 1, n, name)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestLoadOrCreateStudy(t *testing.T) {
	db := setupTestDB(t)

	s, err := db.LoadOrCreateStudy("ci_correction_2020-03-06", []Direction{Minimize}, t0)
	require.NoError(t, err)
	assert.NotEmpty(t, s.UUID)

	again, err := db.LoadOrCreateStudy("ci_correction_2020-03-06", []Direction{Minimize}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)
	assert.Equal(t, s.UUID, again.UUID)
	assert.True(t, again.CreatedAt.Equal(t0))

	_, err = db.LoadOrCreateStudy("ci_correction_2020-03-06", []Direction{Minimize, Minimize}, t0)
	assert.Error(t, err)

	_, err = db.LoadOrCreateStudy("empty", nil, t0)
	assert.Error(t, err)

	_, err = db.GetStudy("missing")
	assert.ErrorIs(t, err, ErrStudyNotFound)

	_, err = db.LoadOrCreateStudy("multi", []Direction{Minimize, Minimize}, t0)
	require.NoError(t, err)
	names, err := db.StudyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"ci_correction_2020-03-06", "multi"}, names)
}

func TestStudyAttrs(t *testing.T) {
	db := setupTestDB(t)
	s, err := db.LoadOrCreateStudy("unconstrained", []Direction{Minimize}, t0)
	require.NoError(t, err)

	require.NoError(t, db.SetStudyAttr(s.ID, "runs", 1))
	require.NoError(t, db.SetStudyAttr(s.ID, "scenario", "SnzBerlinWeekScenario2020"))
	require.NoError(t, db.SetStudyAttr(s.ID, "runs", 3))

	attrs, err := db.StudyAttrs(s.ID)
	require.NoError(t, err)
	want := map[string]any{"runs": float64(3), "scenario": "SnzBerlinWeekScenario2020"}
	if diff := cmp.Diff(want, attrs); diff != "" {
		t.Errorf("StudyAttrs mismatch (-want +got):\n%s", diff)
	}
}

func TestTrialLifecycle(t *testing.T) {
	db := setupTestDB(t)
	s, err := db.LoadOrCreateStudy("reinfection", []Direction{Minimize}, t0)
	require.NoError(t, err)

	first, err := db.CreateTrial(s.ID, t0)
	require.NoError(t, err)
	second, err := db.CreateTrial(s.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Number)
	assert.Equal(t, 1, second.Number)
	assert.Equal(t, TrialRunning, first.State)

	dist := Distribution{Kind: "float", Low: 0.5e-7, High: 1e-4, Log: true}
	require.NoError(t, db.SetTrialParam(first.ID, "calibrationParameter", 2e-6, dist))
	require.NoError(t, db.SetTrialAttr(first.ID, "target", 2.4))
	require.NoError(t, db.SetTrialAttr(first.ID, "df", map[string]any{"error": []float64{0.01}}))
	require.NoError(t, db.FinishTrial(first.ID, TrialComplete, []float64{0.01}, t0.Add(time.Minute)))
	require.NoError(t, db.FinishTrial(second.ID, TrialFail, nil, t0.Add(time.Minute)))

	runs := []RunResult{
		{Run: 0, Command: "java -jar x.jar", Values: map[string]float64{"target": 2.4, "error": 0.01}, Duration: time.Second},
		{Run: 1, Command: "java -jar x.jar", Skipped: true},
	}
	require.NoError(t, db.SaveRunResults(first.ID, runs))

	complete, err := db.Trials(s.ID, TrialComplete)
	require.NoError(t, err)
	require.Len(t, complete, 1)
	got := complete[0]
	assert.Equal(t, []float64{0.01}, got.Values)
	assert.Equal(t, map[string]float64{"calibrationParameter": 2e-6}, got.Params)
	assert.Equal(t, dist, got.Distributions["calibrationParameter"])
	assert.Equal(t, 2.4, got.UserAttrs["target"])
	assert.True(t, got.Complete.Equal(t0.Add(time.Minute)))

	all, err := db.Trials(s.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, TrialFail, all[1].State)
	_, ok := all[1].Value()
	assert.False(t, ok)

	loaded, err := db.RunResults(first.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 0.01, loaded[0].Values["error"])
	assert.Equal(t, time.Second, loaded[0].Duration)
	assert.True(t, loaded[1].Skipped)

	none, err := db.RunResults(second.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	byID, err := db.GetTrial(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.UUID, byID.UUID)

	assert.ErrorIs(t, db.FinishTrial(9999, TrialComplete, nil, t0), ErrTrialNotFound)
	_, err = db.GetTrial(9999)
	assert.ErrorIs(t, err, ErrTrialNotFound)
}

func TestBestMedian(t *testing.T) {
	db := setupTestDB(t)
	s, err := db.LoadOrCreateStudy("strain", []Direction{Minimize}, t0)
	require.NoError(t, err)

	for _, tc := range []struct {
		value, param float64
	}{
		{0.5, 9}, {0.1, 1}, {0.3, 3}, {0.2, 2}, {0.4, 4}, {0.05, 8},
	} {
		addTrial(t, db, s.ID, TrialComplete, []float64{tc.value}, map[string]float64{"infectiousness": tc.param})
	}
	addTrial(t, db, s.ID, TrialFail, []float64{0}, map[string]float64{"infectiousness": 100})

	tests := []struct {
		top       int
		wantParam float64
	}{
		{5, 3},
		{4, 2},
		{3, 2},
		{1, 8},
		{50, 3},
	}
	for _, tt := range tests {
		best, err := db.BestMedian("strain", "infectiousness", tt.top)
		require.NoError(t, err)
		assert.Equal(t, tt.wantParam, best.Params["infectiousness"], "top %d", tt.top)
	}

	best, err := db.BestTrial("strain")
	require.NoError(t, err)
	assert.Equal(t, 5, best.Number)

	_, err = db.BestMedian("strain", "ciCorrection", 3)
	assert.Error(t, err)
	_, err = db.BestMedian("strain", "infectiousness", 0)
	assert.Error(t, err)
	_, err = db.BestMedian("missing", "infectiousness", 3)
	assert.ErrorIs(t, err, ErrStudyNotFound)

	_, err = db.LoadOrCreateStudy("fresh", []Direction{Minimize}, t0)
	require.NoError(t, err)
	_, err = db.BestMedian("fresh", "infectiousness", 3)
	assert.ErrorIs(t, err, ErrNoCompleteTrials)
}

func TestParetoFront(t *testing.T) {
	db := setupTestDB(t)
	s, err := db.LoadOrCreateStudy("multi", []Direction{Minimize, Minimize}, t0)
	require.NoError(t, err)

	for _, v := range [][]float64{{1, 5}, {2, 2}, {3, 3}, {5, 1}, {2, 6}} {
		addTrial(t, db, s.ID, TrialComplete, v, nil)
	}
	addTrial(t, db, s.ID, TrialFail, nil, nil)

	front, err := db.ParetoFront("multi")
	require.NoError(t, err)
	var numbers []int
	for _, tr := range front {
		numbers = append(numbers, tr.Number)
	}
	assert.Equal(t, []int{0, 1, 3}, numbers)
}

func TestDominates(t *testing.T) {
	min2 := []Direction{Minimize, Minimize}
	assert.True(t, dominates([]float64{1, 1}, []float64{1, 2}, min2))
	assert.False(t, dominates([]float64{1, 2}, []float64{1, 2}, min2))
	assert.False(t, dominates([]float64{0, 3}, []float64{1, 2}, min2))
	assert.True(t, dominates([]float64{2, 1}, []float64{1, 1}, []Direction{Maximize, Minimize}))
}

func TestTrialsFrame(t *testing.T) {
	db := setupTestDB(t)
	s, err := db.LoadOrCreateStudy("ci_correction_2020-03-06", []Direction{Minimize}, t0)
	require.NoError(t, err)

	tr := addTrial(t, db, s.ID, TrialComplete, []float64{0.25}, map[string]float64{"ciCorrection": 0.5, "ciOffset": -1})
	require.NoError(t, db.SetTrialAttr(tr.ID, "error_cases", 0.25))
	require.NoError(t, db.SetTrialAttr(tr.ID, "error_sick", 0.5))
	require.NoError(t, db.SetTrialAttr(tr.ID, "error_critical", 1.5))
	require.NoError(t, db.SetTrialAttr(tr.ID, "df", map[string]any{"error_cases": map[string]float64{"0": 0.25}}))
	addTrial(t, db, s.ID, TrialFail, nil, map[string]float64{"ciCorrection": 0.7})

	frame, err := db.TrialsFrame("ci_correction_2020-03-06")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, table.Comma))
	want := "number,state,value,params_ciCorrection,params_ciOffset,user_attrs_error_cases,user_attrs_error_critical,user_attrs_error_sick,error_hospital,error_total\n" +
		"0,COMPLETE,0.25,0.5,-1,0.25,1.5,0.5,2,2.5\n" +
		"1,FAIL,,0.7,,,,,,\n"
	assert.Equal(t, want, buf.String())
}
