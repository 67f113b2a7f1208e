package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/matsim-org/matsim-episim-libs/internal/series"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// ErrSchemaMismatch is returned when the tables of one group and kind do not
// share the same columns.
var ErrSchemaMismatch = errors.New("column sets differ")

// dayColumn must stay integer after averaging.
const dayColumn = "day"

// MeanResult is the averaged table plus what happened to the day column.
type MeanResult struct {
	Table *table.Table
	// DayReplaced is set when the averaged day column differs from the
	// first table's. The output always carries the first table's days.
	DayReplaced bool
}

// MeanTables averages tables row by row. Tables are truncated to the
// shortest one. Columns numeric in every table are averaged, all others are
// copied from the first table. Column order follows the first table.
func MeanTables(tables []*table.Table) (*MeanResult, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables to aggregate")
	}
	first := tables[0]
	if err := sameColumns(tables); err != nil {
		return nil, err
	}

	n := first.Len()
	for _, t := range tables[1:] {
		if t.Len() < n {
			n = t.Len()
		}
	}

	out := table.New()
	out.Kind = first.Kind
	res := &MeanResult{Table: out}

	for _, name := range first.Header() {
		raw, _ := first.Strings(name)
		raw = raw[:n]

		if !numericInAll(tables, name) {
			if err := out.SetStrings(name, raw); err != nil {
				return nil, err
			}
			continue
		}

		means, err := columnMean(tables, name, n)
		if err != nil {
			return nil, err
		}

		if name == dayColumn && first.IsInteger(name) {
			firstDays, _ := first.Floats(name)
			if !allIntegral(means) || !equal(means, firstDays[:n]) {
				res.DayReplaced = true
			}
			if err := out.SetStrings(name, raw); err != nil {
				return nil, err
			}
			continue
		}

		if err := out.SetFloats(name, means); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func sameColumns(tables []*table.Table) error {
	want := sortedHeader(tables[0])
	for i, t := range tables[1:] {
		got := sortedHeader(t)
		if len(got) != len(want) {
			return fmt.Errorf("%w: table %d has %d columns, expected %d", ErrSchemaMismatch, i+1, len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				return fmt.Errorf("%w: table %d has column %q, expected %q", ErrSchemaMismatch, i+1, got[j], want[j])
			}
		}
	}
	return nil
}

func sortedHeader(t *table.Table) []string {
	h := t.Header()
	sort.Strings(h)
	return h
}

func numericInAll(tables []*table.Table, name string) bool {
	for _, t := range tables {
		if !t.IsNumeric(name) {
			return false
		}
	}
	return true
}

func columnMean(tables []*table.Table, name string, n int) ([]float64, error) {
	cols := make([][]float64, len(tables))
	for i, t := range tables {
		v, err := t.Floats(name)
		if err != nil {
			return nil, err
		}
		cols[i] = v
	}
	out := make([]float64, n)
	row := make([]float64, len(tables))
	for r := 0; r < n; r++ {
		for i := range cols {
			row[i] = cols[i][r]
		}
		out[r] = series.NanMean(row)
	}
	return out, nil
}

func equal(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allIntegral(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || v != math.Trunc(v) {
			return false
		}
	}
	return true
}
