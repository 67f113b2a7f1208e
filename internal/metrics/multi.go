package metrics

import (
	"fmt"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/reference"
	"github.com/matsim-org/matsim-episim-libs/internal/runs"
	"github.com/matsim-org/matsim-episim-libs/internal/series"
)

// MultiError compares a run against hospital and case references.
type MultiError struct {
	Cases    float64
	Sick     float64
	Critical float64
	// Peak is the date with the most simulated cases.
	Peak time.Time
	// DZ is the estimated under-reporting factor: simulated contagious
	// cumulative over reported cumulative cases at the end of the window.
	DZ float64
}

// CalcMultiError computes the log errors of seriously sick and critical
// persons against hospital occupancy and of simulated smoothed cases
// against reported smoothed cases scaled by assumedDZ, on the dates within
// [start, end] present in both series.
func CalcMultiError(d *Data, start, end time.Time, assumedDZ float64) (*MultiError, error) {
	run := d.Run
	res := &MultiError{}

	cases, err := run.Column(runs.ColCases)
	if err != nil {
		return nil, err
	}
	var inWindow []float64
	var inDates []time.Time
	for i, day := range run.Dates {
		if !day.Before(start) && !day.After(end) {
			inWindow = append(inWindow, cases[i])
			inDates = append(inDates, day)
		}
	}
	if len(inDates) == 0 {
		return nil, fmt.Errorf("no simulated days between %s and %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	if i := series.ArgMax(inWindow); i >= 0 {
		res.Peak = inDates[i]
	}

	for _, c := range []struct {
		sim, ref string
		into     *float64
	}{
		{"nSeriouslySick", reference.ColSeriouslySick, &res.Sick},
		{"nCritical", reference.ColCritical, &res.Critical},
	} {
		sim, err := run.Column(c.sim)
		if err != nil {
			return nil, err
		}
		ref, err := d.Hospital.Column(c.ref)
		if err != nil {
			return nil, err
		}
		a := align(run.Dates, sim, d.Hospital.Dates, ref, start, end)
		if *c.into, err = MSLE(a.Ref, a.Sim); err != nil {
			return nil, fmt.Errorf("%s: %w", c.sim, err)
		}
	}

	simSmoothed, err := run.Column(runs.ColCasesSmoothed)
	if err != nil {
		return nil, err
	}
	refSmoothed, err := d.Cases.Column(reference.ColCasesSmoothed)
	if err != nil {
		return nil, err
	}
	a := align(run.Dates, simSmoothed, d.Cases.Dates, series.Scale(refSmoothed, assumedDZ), start, end)
	if res.Cases, err = MSLE(a.Ref, a.Sim); err != nil {
		return nil, fmt.Errorf("cases: %w", err)
	}

	contagious, err := run.Column("nContagiousCumulative")
	if err != nil {
		return nil, err
	}
	refWindow := d.Cases.Window(start, end)
	refCum, err := refWindow.Column(reference.ColCasesCumulative)
	if err != nil {
		return nil, err
	}
	var simCum []float64
	for i, day := range run.Dates {
		if !day.Before(start) && !day.After(end) {
			simCum = append(simCum, contagious[i])
		}
	}
	res.DZ = series.Last(simCum) / series.Last(refCum)

	return res, nil
}
