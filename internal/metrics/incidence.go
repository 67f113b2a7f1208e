package metrics

import (
	"fmt"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/reference"
	"github.com/matsim-org/matsim-episim-libs/internal/runs"
	"github.com/matsim-org/matsim-episim-libs/internal/series"
)

// perPopulation is the population size incidences are expressed for.
const perPopulation = 100000

// WeeklyError is a log error between weekly simulated and reference values.
// Weeks, Sim and Ref are aligned; weeks end on Sunday.
type WeeklyError struct {
	Error float64
	Weeks []time.Time
	Sim   []float64
	Ref   []float64
}

// ByWeek returns the simulated and reference values keyed by week end.
func (w *WeeklyError) ByWeek() (sim, ref map[time.Time]float64) {
	sim = make(map[time.Time]float64, len(w.Weeks))
	ref = make(map[time.Time]float64, len(w.Weeks))
	for i, d := range w.Weeks {
		sim[d] = w.Sim[i]
		ref[d] = w.Ref[i]
	}
	return sim, ref
}

// IncidenceOptions configure CalcIncidenceError.
type IncidenceOptions struct {
	Population float64
	// SimWeights and RefWeights multiply the weekly values. When set, weeks
	// missing from a weight map are left out.
	SimWeights map[time.Time]float64
	RefWeights map[time.Time]float64
}

// DailyInfections returns the new infections per day of a run: the first
// difference of nInfectedCumulative, with the first day taking its
// cumulative value.
func DailyInfections(run *runs.Run) ([]float64, error) {
	cum, err := run.Column("nInfectedCumulative")
	if err != nil {
		return nil, err
	}
	daily := series.Diff(cum)
	if len(daily) > 0 {
		daily[0] = cum[0]
	}
	return daily, nil
}

// CalcIncidenceError sums simulated daily infections into weeks ending on
// Sunday, scales them to cases per 100k population and compares them with
// the weekly reference incidence for weeks ending within [start, end].
func CalcIncidenceError(d *IncidenceData, start, end time.Time, opts IncidenceOptions) (*WeeklyError, error) {
	if opts.Population <= 0 {
		return nil, fmt.Errorf("population must be positive, got %v", opts.Population)
	}
	daily, err := DailyInfections(d.Run)
	if err != nil {
		return nil, err
	}
	weeks := series.Weekly(d.Run.Dates, daily, series.Sum)
	simDates := make([]time.Time, len(weeks))
	sim := make([]float64, len(weeks))
	for i, w := range weeks {
		simDates[i] = w.End
		sim[i] = w.Value * perPopulation / opts.Population
	}

	ref, err := d.Incidence.Column(reference.ColIncidence)
	if err != nil {
		return nil, err
	}
	refDates := make([]time.Time, len(d.Incidence.Dates))
	for i, dt := range d.Incidence.Dates {
		refDates[i] = series.WeekEnd(dt)
	}

	a := align(simDates, sim, refDates, ref, start, end)
	if opts.SimWeights != nil || opts.RefWeights != nil {
		a = weigh(a, opts.SimWeights, opts.RefWeights)
	}

	msle, err := MSLE(a.Ref, a.Sim)
	if err != nil {
		return nil, fmt.Errorf("incidence: %w", err)
	}
	return &WeeklyError{Error: msle, Weeks: a.Dates, Sim: a.Sim, Ref: a.Ref}, nil
}

func weigh(a aligned, simW, refW map[time.Time]float64) aligned {
	var out aligned
	for i, d := range a.Dates {
		s, r := a.Sim[i], a.Ref[i]
		if simW != nil {
			w, ok := simW[d]
			if !ok {
				continue
			}
			s *= w
		}
		if refW != nil {
			w, ok := refW[d]
			if !ok {
				continue
			}
			r *= w
		}
		out.Dates = append(out.Dates, d)
		out.Sim = append(out.Sim, s)
		out.Ref = append(out.Ref, r)
	}
	return out
}
