// Package reference reads the external ground truth series the simulation
// is calibrated against: hospital occupancy, reported cases, weekly
// incidence and strain shares. Every source has its own date convention.
package reference

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/series"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// Hospital columns.
const (
	ColHospitalDate  = "Datum"
	ColSeriouslySick = "Stationäre Behandlung"
	ColCritical      = "Intensivmedizin"
)

// Case columns, read and derived.
const (
	ColCases           = "cases"
	ColCasesCumulative = "casesCumulative"
	ColCasesSmoothed   = "casesSmoothed"
	ColCasesNorm       = "casesNorm"
)

// ColIncidence holds weekly cases per 100k population.
const ColIncidence = "incidence"

// dayFirst lists the accepted day-first date layouts.
var dayFirst = []string{"02.01.2006", "2.1.2006", "02/01/2006", "2/1/2006", "02-01-2006"}

// Table is a reference table with the date of every row.
type Table struct {
	*table.Table
	Dates []time.Time
}

// Column returns a numeric column.
func (t *Table) Column(name string) ([]float64, error) {
	return t.Floats(name)
}

// Window returns the rows with start <= date <= end.
func (t *Table) Window(start, end time.Time) *Table {
	var rows []int
	for i, d := range t.Dates {
		if !d.Before(start) && !d.After(end) {
			rows = append(rows, i)
		}
	}
	out := &Table{Table: t.Select(rows), Dates: make([]time.Time, len(rows))}
	for i, r := range rows {
		out.Dates[i] = t.Dates[r]
	}
	return out
}

// ParseDay parses an ISO date or a day-first date such as 06.03.2020.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := table.ParseDate(s); err == nil {
		return d, nil
	}
	for _, layout := range dayFirst {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ReadHospital reads hospital occupancy with a day-first date in the first
// column. Semicolon separated files are read with decimal commas.
func ReadHospital(r io.Reader) (*Table, error) {
	t, err := readLocale(r)
	if err != nil {
		return nil, fmt.Errorf("hospital: %w", err)
	}
	if len(t.Header()) == 0 {
		return nil, fmt.Errorf("hospital: no columns")
	}
	dates, err := parseDates(t, t.Header()[0])
	if err != nil {
		return nil, fmt.Errorf("hospital: %w", err)
	}
	for _, c := range []string{ColSeriouslySick, ColCritical} {
		if !t.IsNumeric(c) {
			if !t.Has(c) {
				return nil, fmt.Errorf("hospital: %w: %s", table.ErrMissingColumn, c)
			}
			return nil, fmt.Errorf("hospital: %w: %s", table.ErrNotNumeric, c)
		}
	}
	return &Table{Table: t, Dates: dates}, nil
}

// ReadCases reads reported case counts with separate year, month and day
// columns and derives casesCumulative, casesSmoothed over window days and
// casesNorm.
func ReadCases(r io.Reader, window int) (*Table, error) {
	t, err := readLocale(r)
	if err != nil {
		return nil, fmt.Errorf("cases: %w", err)
	}
	parts := make([][]int64, 3)
	for i, c := range []string{"year", "month", "day"} {
		if parts[i], err = t.Ints(c); err != nil {
			return nil, fmt.Errorf("cases: %w", err)
		}
	}
	dates := make([]time.Time, t.Len())
	iso := make([]string, t.Len())
	for i := range dates {
		dates[i] = time.Date(int(parts[0][i]), time.Month(parts[1][i]), int(parts[2][i]), 0, 0, 0, 0, time.UTC)
		iso[i] = dates[i].Format(table.DateLayout)
	}
	if err := t.SetStrings("date", iso); err != nil {
		return nil, err
	}

	cases, err := t.Floats(ColCases)
	if err != nil {
		return nil, fmt.Errorf("cases: %w", err)
	}
	smoothed := series.RollingMean(cases, window)
	for _, c := range []struct {
		name   string
		values []float64
	}{
		{ColCasesCumulative, series.CumSum(cases)},
		{ColCasesSmoothed, smoothed},
		{ColCasesNorm, series.Normalize(smoothed)},
	} {
		if err := t.SetFloats(c.name, c.values); err != nil {
			return nil, err
		}
	}
	return &Table{Table: t, Dates: dates}, nil
}

// ReadIncidence reads a weekly incidence series with a date column and an
// incidence column. The date is the end of the week.
func ReadIncidence(r io.Reader) (*Table, error) {
	t, err := readLocale(r)
	if err != nil {
		return nil, fmt.Errorf("incidence: %w", err)
	}
	dates, err := parseDates(t, "date")
	if err != nil {
		return nil, fmt.Errorf("incidence: %w", err)
	}
	if _, err := t.Floats(ColIncidence); err != nil {
		return nil, fmt.Errorf("incidence: %w", err)
	}
	return &Table{Table: t, Dates: dates}, nil
}

// ReadStrainShares reads weekly strain shares with a date column and one
// column per strain.
func ReadStrainShares(r io.Reader, strain string) (*Table, error) {
	t, err := readLocale(r)
	if err != nil {
		return nil, fmt.Errorf("strain shares: %w", err)
	}
	dates, err := parseDates(t, "date")
	if err != nil {
		return nil, fmt.Errorf("strain shares: %w", err)
	}
	if _, err := t.Floats(strain); err != nil {
		return nil, fmt.Errorf("strain shares: %w", err)
	}
	return &Table{Table: t, Dates: dates}, nil
}

func parseDates(t *table.Table, name string) ([]time.Time, error) {
	col, err := t.Strings(name)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(col))
	for i, v := range col {
		if dates[i], err = ParseDay(v); err != nil {
			return nil, fmt.Errorf("column %s row %d: %w", name, i, err)
		}
	}
	return dates, nil
}

// readLocale reads a comma separated table, or a semicolon separated one
// with decimal commas when the header has semicolons and no commas.
func readLocale(r io.Reader) (*table.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	header, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	if !bytes.ContainsRune(header, ';') || bytes.ContainsRune(header, ',') {
		return table.Read(bytes.NewReader(data), table.Comma)
	}

	t, err := table.Read(bytes.NewReader(data), table.Semicolon)
	if err != nil {
		return nil, err
	}
	for _, h := range t.Header() {
		col, _ := t.Strings(h)
		conv := make([]string, len(col))
		numeric := true
		for i, v := range col {
			c := strings.Replace(v, ",", ".", 1)
			if _, err := strconv.ParseFloat(strings.TrimSpace(c), 64); err != nil && strings.TrimSpace(v) != "" {
				numeric = false
				break
			}
			conv[i] = c
		}
		if numeric {
			if err := t.SetStrings(h, conv); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}
