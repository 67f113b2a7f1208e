// Package aggregate collapses a multi-seed batch archive into one averaged
// result per configuration and file kind.
package aggregate

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/matsim-org/matsim-episim-libs/internal/archive"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

var logf = monitoring.Component("aggregate")

// KindResult is the outcome for one group and file kind: either an averaged
// table or the reason it was skipped.
type KindResult struct {
	Group int
	Kind  string
	Runs  int
	Table *table.Table
	// Skipped is non-empty when no table was produced.
	Skipped string
	// DayReplaced reports that the first run's day column was kept.
	DayReplaced bool
}

// OK reports whether a table was produced.
func (r KindResult) OK() bool { return r.Skipped == "" }

// Report describes an aggregation.
type Report struct {
	// Name is the run name from the batch descriptor, if any.
	Name     string
	Input    string
	Output   string
	Grouping *Grouping
	Manifest *archive.Manifest
	Results  []KindResult
}

// Skipped returns the results that produced no table.
func (r *Report) Skipped() []KindResult {
	var out []KindResult
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// OutputPath returns the path of the aggregated archive for an input path.
func OutputPath(p string) string {
	return strings.TrimSuffix(strings.TrimSuffix(p, "/"), ".zip") + "-aggr.zip"
}

// Aggregate reads the batch at path, averages every file kind over the
// seeds of each configuration and writes the result next to the input.
func Aggregate(fsys fsutil.FileSystem, path string) (*Report, error) {
	a, err := archive.Open(fsys, path)
	if err != nil {
		return nil, err
	}

	report, err := Collect(a)
	if err != nil {
		return nil, err
	}
	report.Output = OutputPath(path)

	data, err := Write(report, a.Extras)
	if err != nil {
		return nil, err
	}
	if err := fsys.WriteFile(report.Output, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", report.Output, err)
	}

	logf("wrote %d groups of %q to %s (%d kinds skipped)", len(report.Grouping.Groups), report.Name, report.Output, len(report.Skipped()))
	return report, nil
}

// Collect parses every run entry of an archive and averages it per group
// and kind. Entries ending in .xml are ignored. An entry that does not fit
// the schema of its kind skips that kind for its group; any other
// unreadable entry aborts.
func Collect(a *archive.Archive) (*Report, error) {
	grouping, err := GroupManifest(a.Manifest)
	if err != nil {
		return nil, err
	}
	manifest, err := grouping.Manifest()
	if err != nil {
		return nil, err
	}

	tables := make(map[int]map[string][]*table.Table)
	invalid := make(map[int]map[string]error)
	for _, e := range a.Entries {
		if strings.HasSuffix(e.Name, ".xml") {
			continue
		}
		g, ok := grouping.GroupOf(e.RunID)
		if !ok {
			continue
		}
		t, err := readEntry(e)
		if errors.Is(err, table.ErrInvalidTable) {
			if invalid[g] == nil {
				invalid[g] = make(map[string]error)
			}
			if _, seen := invalid[g][e.Kind]; !seen {
				invalid[g][e.Kind] = err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if tables[g] == nil {
			tables[g] = make(map[string][]*table.Table)
		}
		tables[g][e.Kind] = append(tables[g][e.Kind], t)
	}

	report := &Report{Input: a.Path, Grouping: grouping, Manifest: manifest}
	if a.Metadata != nil {
		report.Name = a.Metadata.Lookup(archive.MetaRunName)
	}
	for _, grp := range grouping.Groups {
		byKind := tables[grp.Index]
		kinds := make([]string, 0, len(byKind))
		for k := range byKind {
			kinds = append(kinds, k)
		}
		for k := range invalid[grp.Index] {
			if _, ok := byKind[k]; !ok {
				kinds = append(kinds, k)
			}
		}
		sort.Strings(kinds)

		for _, kind := range kinds {
			ts := byKind[kind]
			res := KindResult{Group: grp.Index, Kind: kind, Runs: len(ts)}
			if err := invalid[grp.Index][kind]; err != nil {
				res.Skipped = err.Error()
				monitoring.Warnf("aggregate", "skipping %s for group %d: %v", kind, grp.Index, err)
				report.Results = append(report.Results, res)
				continue
			}
			mean, err := MeanTables(ts)
			switch {
			case errors.Is(err, ErrSchemaMismatch):
				res.Skipped = err.Error()
				logf("skipping %s for group %d: %v", kind, grp.Index, err)
			case err != nil:
				return nil, fmt.Errorf("group %d kind %s: %w", grp.Index, kind, err)
			default:
				res.Table = mean.Table
				res.DayReplaced = mean.DayReplaced
				if mean.DayReplaced {
					monitoring.Warnf("aggregate", "day is not integer in run: %d, file: %s", grp.Index, kind)
				}
			}
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

func readEntry(e *archive.Entry) (*table.Table, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", e.Name, err)
	}
	defer rc.Close()

	t, err := table.ReadKind(rc, table.KindOf(e.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", e.Name, err)
	}
	return t, nil
}

// Write renders the aggregated archive: the reduced manifest, the extras
// unchanged and one summaries/<group>.zip per group holding <group>.<kind>
// files.
func Write(report *Report, extras []archive.File) ([]byte, error) {
	manifest, err := report.Manifest.Bytes()
	if err != nil {
		return nil, err
	}

	files := []archive.File{{Name: archive.ManifestName, Data: manifest}}
	files = append(files, extras...)

	byGroup := make(map[int][]archive.File)
	var order []int
	for _, res := range report.Results {
		if !res.OK() {
			continue
		}
		var buf bytes.Buffer
		if err := res.Table.Write(&buf, table.Tab); err != nil {
			return nil, fmt.Errorf("failed to write group %d kind %s: %w", res.Group, res.Kind, err)
		}
		if _, seen := byGroup[res.Group]; !seen {
			order = append(order, res.Group)
		}
		name := strconv.Itoa(res.Group) + "." + res.Kind
		byGroup[res.Group] = append(byGroup[res.Group], archive.File{Name: name, Data: buf.Bytes()})
	}

	for _, g := range order {
		inner, err := archive.Build(byGroup[g]...)
		if err != nil {
			return nil, err
		}
		files = append(files, archive.File{Name: "summaries/" + strconv.Itoa(g) + ".zip", Data: inner})
	}

	return archive.Build(files...)
}
