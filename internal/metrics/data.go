package metrics

import (
	"io"
	"math"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/reference"
	"github.com/matsim-org/matsim-episim-libs/internal/runs"
)

// Data is a simulated run with the hospital and case references it is
// compared against.
type Data struct {
	Run      *runs.Run
	Hospital *reference.Table
	Cases    *reference.Table
}

// ReadData reads a run filtered to district together with the hospital and
// case references, smoothing cases over window days.
func ReadData(sim io.Reader, district string, hospital, cases io.Reader, window int) (*Data, error) {
	opts := runs.Options{District: district, Window: window}
	run, err := runs.ReadRun(sim, opts)
	if err != nil {
		return nil, err
	}
	h, err := reference.ReadHospital(hospital)
	if err != nil {
		return nil, err
	}
	c, err := reference.ReadCases(cases, opts.GetWindow())
	if err != nil {
		return nil, err
	}
	return &Data{Run: run, Hospital: h, Cases: c}, nil
}

// IncidenceData is a simulated run with a weekly incidence reference.
type IncidenceData struct {
	Run       *runs.Run
	Incidence *reference.Table
}

// ReadIncidence reads a run filtered to district together with a weekly
// incidence reference.
func ReadIncidence(sim io.Reader, district string, incidence io.Reader, window int) (*IncidenceData, error) {
	run, err := runs.ReadRun(sim, runs.Options{District: district, Window: window})
	if err != nil {
		return nil, err
	}
	inc, err := reference.ReadIncidence(incidence)
	if err != nil {
		return nil, err
	}
	return &IncidenceData{Run: run, Incidence: inc}, nil
}

// aligned holds two series matched on date.
type aligned struct {
	Dates    []time.Time
	Sim, Ref []float64
}

// align inner joins two dated series, keeping dates in [start, end] where
// both values are present.
func align(simDates []time.Time, sim []float64, refDates []time.Time, ref []float64, start, end time.Time) aligned {
	refByDate := make(map[time.Time]float64, len(refDates))
	for i, d := range refDates {
		if _, ok := refByDate[d]; !ok {
			refByDate[d] = ref[i]
		}
	}
	var out aligned
	for i, d := range simDates {
		if d.Before(start) || d.After(end) {
			continue
		}
		r, ok := refByDate[d]
		if !ok || math.IsNaN(r) || math.IsNaN(sim[i]) {
			continue
		}
		out.Dates = append(out.Dates, d)
		out.Sim = append(out.Sim, sim[i])
		out.Ref = append(out.Ref, r)
	}
	return out
}
