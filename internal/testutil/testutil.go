// Package testutil provides shared test utilities and fixtures.
//
// The builders produce simulator output files and batch archives in memory so
// that the readers, the aggregator and the metrics can be tested without
// running the simulator.
package testutil

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NamedFile is an archive member.
type NamedFile struct {
	Name string
	Data string
}

// Zip builds a zip archive from the given members.
func Zip(t testing.TB, files ...NamedFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		AssertNoError(t, err)
		_, err = w.Write([]byte(f.Data))
		AssertNoError(t, err)
	}
	AssertNoError(t, zw.Close())
	return buf.Bytes()
}

// TSV joins rows with tabs and newlines. The first row is the header.
func TSV(rows ...[]string) string {
	return delimited("\t", rows)
}

// CSV joins rows with commas and newlines.
func CSV(rows ...[]string) string {
	return delimited(",", rows)
}

// Manifest renders a semicolon separated run manifest with the bookkeeping
// columns followed by the given parameter columns. Each run is given as
// RunId followed by its parameter values.
func Manifest(params []string, runs ...[]string) string {
	header := append([]string{"RunScript", "Config", "RunId", "Output"}, params...)
	rows := [][]string{header}
	for _, r := range runs {
		row := []string{"run.sh", r[0] + ".xml", r[0], "output/" + r[0]}
		rows = append(rows, append(row, r[1:]...))
	}
	return delimited(";", rows)
}

func delimited(sep string, rows [][]string) string {
	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(strings.Join(r, sep))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// InfectionsHeader is the column layout written by Infections.
var InfectionsHeader = []string{
	"time", "day", "date", "nSusceptible", "nContagious", "nShowingSymptoms",
	"nSeriouslySick", "nCritical", "nTotalInfected", "nInfectedCumulative",
	"nContagiousCumulative", "nShowingSymptomsCumulative", "nRecovered", "district",
}

// InfectionsDay holds the counters of one simulated day.
type InfectionsDay struct {
	Susceptible               float64
	SeriouslySick             float64
	Critical                  float64
	TotalInfected             float64
	InfectedCumulative        float64
	ContagiousCumulative      float64
	ShowingSymptomsCumulative float64
}

// Infections renders an infections.txt table starting at day 1 on start.
func Infections(start string, district string, days []InfectionsDay) string {
	d0, err := time.Parse("2006-01-02", start)
	if err != nil {
		panic(err)
	}
	rows := [][]string{InfectionsHeader}
	for i, d := range days {
		rows = append(rows, []string{
			fmt.Sprint((i + 1) * 86400),
			fmt.Sprint(i + 1),
			d0.AddDate(0, 0, i).Format("2006-01-02"),
			num(d.Susceptible),
			"0",
			"0",
			num(d.SeriouslySick),
			num(d.Critical),
			num(d.TotalInfected),
			num(d.InfectedCumulative),
			num(d.ContagiousCumulative),
			num(d.ShowingSymptomsCumulative),
			"0",
			district,
		})
	}
	return TSV(rows...)
}

// SymptomsSeries builds days whose cumulative symptomatic counts follow cum.
// The other counters are derived from it so every column is populated.
func SymptomsSeries(cum []float64) []InfectionsDay {
	days := make([]InfectionsDay, len(cum))
	for i, c := range cum {
		days[i] = InfectionsDay{
			Susceptible:               10000 - c,
			SeriouslySick:             c / 10,
			Critical:                  c / 20,
			TotalInfected:             c,
			InfectedCumulative:        c,
			ContagiousCumulative:      c * 2,
			ShowingSymptomsCumulative: c,
		}
	}
	return days
}

func num(v float64) string {
	return fmt.Sprint(v)
}
