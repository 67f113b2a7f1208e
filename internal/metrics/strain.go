package metrics

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/reference"
	"github.com/matsim-org/matsim-episim-libs/internal/series"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// StrainShare returns the daily share of strain among all typed infections
// of a strains table, whose columns after day and date are per-strain
// counts. Days without any typed infection are NaN.
func StrainShare(t *table.Table, strain string) (dates []time.Time, share []float64, err error) {
	header := t.Header()
	if len(header) < 3 {
		return nil, nil, fmt.Errorf("strains table has no strain columns")
	}
	counts, err := t.Floats(strain)
	if err != nil {
		return nil, nil, err
	}
	total := make([]float64, t.Len())
	for _, h := range header[2:] {
		v, err := t.Floats(h)
		if err != nil {
			return nil, nil, err
		}
		for i := range total {
			if !math.IsNaN(v[i]) {
				total[i] += v[i]
			}
		}
	}
	share = make([]float64, t.Len())
	for i := range share {
		if total[i] == 0 {
			share[i] = math.NaN()
			continue
		}
		share[i] = counts[i] / total[i]
	}
	if dates, err = t.Dates("date"); err != nil {
		return nil, nil, err
	}
	return dates, share, nil
}

// CalcStrainError compares the weekly mean share of strain in a simulated
// strains table with the reference weekly share, for weeks ending within
// [start, end].
func CalcStrainError(strains io.Reader, strain string, ref *reference.Table, start, end time.Time) (*WeeklyError, error) {
	t, err := table.ReadKind(strains, table.KindStrains)
	if err != nil {
		return nil, err
	}
	dates, share, err := StrainShare(t, strain)
	if err != nil {
		return nil, err
	}
	weeks := series.Weekly(dates, share, series.Mean)
	simDates := make([]time.Time, len(weeks))
	sim := make([]float64, len(weeks))
	for i, w := range weeks {
		simDates[i] = w.End
		sim[i] = w.Value
	}

	refShare, err := ref.Column(strain)
	if err != nil {
		return nil, err
	}
	refDates := make([]time.Time, len(ref.Dates))
	for i, d := range ref.Dates {
		refDates[i] = series.WeekEnd(d)
	}

	a := align(simDates, sim, refDates, refShare, start, end)
	msle, err := MSLE(a.Ref, a.Sim)
	if err != nil {
		return nil, fmt.Errorf("strain %s: %w", strain, err)
	}
	return &WeeklyError{Error: msle, Weeks: a.Dates, Sim: a.Sim, Ref: a.Ref}, nil
}
