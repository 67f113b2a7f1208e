// Package runs reads simulation output into tables with derived case
// columns, either for a single run or for every run of a batch archive.
package runs

import (
	"fmt"
	"io"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/series"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// DefaultWindow is the number of days used for smoothing case numbers.
const DefaultWindow = 5

// Derived column names.
const (
	ColCases         = "cases"
	ColCasesSmoothed = "casesSmoothed"
	ColCasesNorm     = "casesNorm"
)

// Options control how a run is read.
type Options struct {
	// District restricts the rows to one district. Empty keeps all rows.
	District string
	// Window is the smoothing window in days, DefaultWindow when zero.
	Window int
}

// GetWindow returns the smoothing window or its default.
func (o Options) GetWindow() int {
	if o.Window <= 0 {
		return DefaultWindow
	}
	return o.Window
}

// Run is an infections table with its parsed date column.
type Run struct {
	*table.Table
	Dates []time.Time
}

// ReadRun parses an infections.txt table, applies the district filter and
// derives cases, casesSmoothed and casesNorm from nShowingSymptomsCumulative.
func ReadRun(r io.Reader, opts Options) (*Run, error) {
	t, err := table.ReadKind(r, table.KindInfections)
	if err != nil {
		return nil, err
	}

	if opts.District != "" {
		district, _ := t.Strings("district")
		t = t.Filter(func(row int) bool { return district[row] == opts.District })
	}

	return Derive(t, opts.GetWindow())
}

// Derive adds the case columns to an infections table.
func Derive(t *table.Table, window int) (*Run, error) {
	cum, err := t.Floats("nShowingSymptomsCumulative")
	if err != nil {
		return nil, err
	}
	cases := series.Diff(cum)
	smoothed := series.RollingMean(cases, window)

	if err := t.SetFloats(ColCases, cases); err != nil {
		return nil, err
	}
	if err := t.SetFloats(ColCasesSmoothed, smoothed); err != nil {
		return nil, err
	}
	if err := t.SetFloats(ColCasesNorm, series.Normalize(smoothed)); err != nil {
		return nil, err
	}

	dates, err := t.Dates("date")
	if err != nil {
		return nil, err
	}
	return &Run{Table: t, Dates: dates}, nil
}

// Column returns a numeric column.
func (r *Run) Column(name string) ([]float64, error) {
	v, err := r.Floats(name)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	return v, nil
}

// Between keeps the rows whose date column lies within [start, end]. A zero
// start or end leaves that side open.
func Between(t *table.Table, start, end time.Time) (*table.Table, error) {
	if start.IsZero() && end.IsZero() {
		return t, nil
	}
	dates, err := t.Dates("date")
	if err != nil {
		return nil, err
	}
	return t.Filter(func(row int) bool {
		d := dates[row]
		if !start.IsZero() && d.Before(start) {
			return false
		}
		return end.IsZero() || !d.After(end)
	}), nil
}
