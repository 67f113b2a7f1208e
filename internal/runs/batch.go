package runs

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/matsim-org/matsim-episim-libs/internal/archive"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
	"github.com/matsim-org/matsim-episim-libs/internal/series"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

var logf = monitoring.Component("runs")

// Companion result kinds joined onto the infections table.
const (
	KindRValues            = "rValues.txt.csv"
	KindPerActivity        = "infectionsPerActivity.txt.tsv"
	KindInfectionsByAge    = "post.infectionsByAge.txt"
	KindSeriouslySickByAge = "post.seriouslySickByAge.txt"
	KindCriticalByAge      = "post.criticalByAge.txt"
)

// ColRun holds the sequence number of a run within a batch.
const ColRun = "run"

// BatchOptions select the optional joins of ReadBatchRun.
type BatchOptions struct {
	Options
	RValues    bool
	Infections bool
	AgeGroups  []int
}

// ReadBatchRun reads every infections table of a batch archive, tags it with
// the run's manifest columns and a run sequence number, joins the requested
// companion tables and stacks all runs into one table. A missing companion
// only skips that join for the run.
func ReadBatchRun(fsys fsutil.FileSystem, path string, opts BatchOptions) (*table.Table, error) {
	a, err := archive.Open(fsys, path)
	if err != nil {
		return nil, err
	}

	var frames []*table.Table
	for _, e := range a.Entries {
		if table.KindOf(e.Kind) != table.KindInfections {
			continue
		}
		run, err := readEntry(e, opts.Options)
		if err != nil {
			return nil, err
		}
		t := run.Table

		if err := t.SetConst(ColRun, strconv.Itoa(len(frames))); err != nil {
			return nil, err
		}
		row := a.Manifest.Row(e.RunID)
		for _, h := range a.Manifest.Header() {
			if err := t.SetConst(h, a.Manifest.Cell(h, row)); err != nil {
				return nil, err
			}
		}

		if opts.RValues {
			if err := joinCompanion(a, e.RunID, KindRValues, t, joinRValues); err != nil {
				return nil, err
			}
		}
		if opts.Infections {
			if err := joinCompanion(a, e.RunID, KindPerActivity, t, joinPerActivity); err != nil {
				return nil, err
			}
		}
		if len(opts.AgeGroups) > 0 {
			joins := []struct {
				kind, on, prefix string
			}{
				{KindInfectionsByAge, "date", DefaultAgePrefix},
				{KindSeriouslySickByAge, "day", "sick"},
				{KindCriticalByAge, "day", "crit"},
			}
			for _, j := range joins {
				err := joinCompanion(a, e.RunID, j.kind, t, func(t, other *table.Table) error {
					return joinAge(t, other, opts.AgeGroups, j.on, j.prefix)
				})
				if err != nil {
					return nil, err
				}
			}
		}

		frames = append(frames, t)
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("no infections tables in %s", path)
	}
	return table.Concat(frames...), nil
}

func readEntry(e *archive.Entry, opts Options) (*Run, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", e.Name, err)
	}
	defer rc.Close()

	run, err := ReadRun(rc, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", e.Name, err)
	}
	return run, nil
}

func joinCompanion(a *archive.Archive, runID, kind string, t *table.Table, join func(t, other *table.Table) error) error {
	e, ok := a.Find(runID, kind)
	if !ok {
		logf("run %s has no %s, join skipped", runID, kind)
		return nil
	}
	rc, err := e.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.Name, err)
	}
	defer rc.Close()

	other, err := table.ReadKind(rc, table.KindOf(kind))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", e.Name, err)
	}
	if err := join(t, other); err != nil {
		return fmt.Errorf("failed to join %s: %w", e.Name, err)
	}
	return nil
}

// joinRValues adds rValue and newContagious plus every other column of the
// r-values table prefixed with r_.
func joinRValues(t, rv *table.Table) error {
	if err := t.JoinColumns(rv, "date", []string{"rValue", "newContagious"}, ""); err != nil {
		return err
	}
	var rest []string
	for _, h := range rv.Header() {
		switch h {
		case "date", "rValue", "newContagious", "scenario", "day":
			continue
		}
		rest = append(rest, h)
	}
	return t.JoinColumns(rv, "date", rest, "r_")
}

// joinPerActivity pivots infections per activity into infections_<act> and
// infectionsShare_<act> columns, averaging duplicate dates.
func joinPerActivity(t, pa *table.Table) error {
	pivot, err := PivotActivities(pa)
	if err != nil {
		return err
	}
	cols := pivot.Header()[1:]
	return t.JoinColumns(pivot, "date", cols, "")
}

// PivotActivities turns a long infections-per-activity table into one row
// per date with infections_<act> and infectionsShare_<act> columns. Values
// of duplicate (date, activity) pairs are averaged; activities are sorted.
func PivotActivities(pa *table.Table) (*table.Table, error) {
	dates, err := pa.Strings("date")
	if err != nil {
		return nil, err
	}
	acts, err := pa.Strings("activity")
	if err != nil {
		return nil, err
	}
	values := []string{"infections", "infectionsShare"}
	nums := make([][]float64, len(values))
	for i, v := range values {
		if nums[i], err = pa.Floats(v); err != nil {
			return nil, err
		}
	}

	var dateOrder []string
	dateRow := make(map[string]int)
	actSet := make(map[string]bool)
	for r, d := range dates {
		k := table.JoinKey(d)
		if _, ok := dateRow[k]; !ok {
			dateRow[k] = len(dateOrder)
			dateOrder = append(dateOrder, k)
		}
		actSet[acts[r]] = true
	}
	sort.Strings(dateOrder)
	for i, d := range dateOrder {
		dateRow[d] = i
	}
	activities := make([]string, 0, len(actSet))
	for a := range actSet {
		activities = append(activities, a)
	}
	sort.Strings(activities)

	out := table.New()
	if err := out.SetStrings("date", dateOrder); err != nil {
		return nil, err
	}
	for _, act := range activities {
		for i, v := range values {
			cells := make([][]float64, len(dateOrder))
			for r := range dates {
				if acts[r] == act {
					row := dateRow[table.JoinKey(dates[r])]
					cells[row] = append(cells[row], nums[i][r])
				}
			}
			col := make([]float64, len(dateOrder))
			for r, c := range cells {
				col[r] = series.NanMean(c)
			}
			if err := out.SetFloats(v+"_"+act, col); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func joinAge(t, other *table.Table, edges []int, on, prefix string) error {
	grouped, err := GroupByAge(other, edges, prefix, nil)
	if err != nil {
		return err
	}
	if !grouped.Has(on) {
		return fmt.Errorf("%w: %s", table.ErrMissingColumn, on)
	}
	var cols []string
	for _, h := range grouped.Header() {
		if h != "date" && h != "day" {
			cols = append(cols, h)
		}
	}
	return t.JoinColumns(grouped, on, cols, "")
}
