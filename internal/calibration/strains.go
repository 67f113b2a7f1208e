package calibration

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/metrics"
	"github.com/matsim-org/matsim-episim-libs/internal/runs"
	"github.com/matsim-org/matsim-episim-libs/internal/series"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// Defaults of the strain summary.
const (
	DefaultSummaryStudy      = strainName
	DefaultSummaryParam      = "infectiousness"
	DefaultSummaryTop        = 3
	DefaultSummaryStrain     = "ALPHA"
	DefaultSummaryDistrict   = "Köln"
	DefaultSummaryPopulation = 919944
)

// DefaultSummaryFrom is the first week end of the strain summary.
var DefaultSummaryFrom = time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC)

// StrainOptions configure AnalyzeStrains.
type StrainOptions struct {
	// Dir holds the calibration<suffix>.db stores and their output folders.
	Dir        string
	Study      string
	Param      string
	Top        int
	Strain     string
	District   string
	Population float64
	From       time.Time
}

func (o StrainOptions) withDefaults() StrainOptions {
	if o.Study == "" {
		o.Study = DefaultSummaryStudy
	}
	if o.Param == "" {
		o.Param = DefaultSummaryParam
	}
	if o.Top <= 0 {
		o.Top = DefaultSummaryTop
	}
	if o.Strain == "" {
		o.Strain = DefaultSummaryStrain
	}
	if o.District == "" {
		o.District = DefaultSummaryDistrict
	}
	if o.Population <= 0 {
		o.Population = DefaultSummaryPopulation
	}
	if o.From.IsZero() {
		o.From = DefaultSummaryFrom
	}
	return o
}

// StrainSummary columns.
var strainSummaryHeader = []string{"date", "share", "cases", "trial", "run"}

// AnalyzeStrains summarizes weekly strain calibrations. For every
// calibration<suffix>.db in Dir it selects the median-by-parameter trial
// among the best trials and reports, per run of that trial, the weekly mean
// share of the strain and the weekly cases per 100k population from From on.
func AnalyzeStrains(fsys fsutil.FileSystem, opts StrainOptions) (*table.Table, error) {
	opts = opts.withDefaults()
	names, err := fsys.ReadDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	out := table.New(strainSummaryHeader...)
	for _, name := range names {
		if !strings.HasPrefix(name, "calibration") || filepath.Ext(name) != ".db" {
			continue
		}
		suffix := strings.TrimLeft(strings.TrimSuffix(strings.TrimPrefix(name, "calibration"), ".db"), "-_")
		logf("analyzing %s for %s", name, suffix)

		best, err := bestOf(filepath.Join(opts.Dir, name), opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		value, _ := best.Value()
		logf("best: %d with value %v and error %v", best.Number, best.Params[opts.Param], value)

		trialDir := filepath.Join(opts.Dir, "output-"+suffix, fmt.Sprint(best.Number))
		files, err := strainFiles(fsys, trialDir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			run := strings.TrimPrefix(strings.SplitN(filepath.Base(f), ".", 2)[0], "run")
			weeks, err := weeklyStrain(fsys, f, opts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f, err)
			}
			for _, w := range weeks {
				err := out.AppendRow(w.end.Format(time.DateOnly), table.FormatFloat(w.share), table.FormatFloat(w.cases), suffix, run)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func bestOf(path string, opts StrainOptions) (*db.Trial, error) {
	store, err := db.NewDB(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	// Lower middle of the best Top by param, index (n-1)/2.
	return store.BestMedian(opts.Study, opts.Param, opts.Top)
}

// strainFiles lists run_*/run*.strains.tsv below a trial output folder.
func strainFiles(fsys fsutil.FileSystem, dir string) ([]string, error) {
	runDirs, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, rd := range runDirs {
		if !strings.HasPrefix(rd, "run_") {
			continue
		}
		entries, err := fsys.ReadDir(filepath.Join(dir, rd))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if strings.HasPrefix(e, "run") && strings.HasSuffix(e, ".strains.tsv") {
				files = append(files, filepath.Join(dir, rd, e))
			}
		}
	}
	return files, nil
}

type strainWeek struct {
	end   time.Time
	share float64
	cases float64
}

// weeklyStrain joins the weekly strain share of a strains file with the
// weekly incidence of the infections file next to it.
func weeklyStrain(fsys fsutil.FileSystem, path string, opts StrainOptions) ([]strainWeek, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := table.ReadKind(bytes.NewReader(data), table.KindStrains)
	if err != nil {
		return nil, err
	}
	dates, share, err := metrics.StrainShare(t, opts.Strain)
	if err != nil {
		return nil, err
	}
	// Days without typed infections count as zero share.
	for i, s := range share {
		if math.IsNaN(s) {
			share[i] = 0
		}
	}
	shares := series.Weekly(dates, share, series.Mean)

	data, err = fsys.ReadFile(strings.TrimSuffix(path, "strains.tsv") + "infections.txt")
	if err != nil {
		return nil, err
	}
	run, err := runs.ReadRun(bytes.NewReader(data), runs.Options{District: opts.District})
	if err != nil {
		return nil, err
	}
	daily, err := metrics.DailyInfections(run)
	if err != nil {
		return nil, err
	}
	cases := make(map[time.Time]float64)
	for _, w := range series.Weekly(run.Dates, daily, series.Sum) {
		cases[w.End] = 100000 * w.Value / opts.Population
	}

	var weeks []strainWeek
	for _, w := range shares {
		c, ok := cases[w.End]
		if !ok || w.End.Before(opts.From) {
			continue
		}
		weeks = append(weeks, strainWeek{end: w.End, share: w.Value, cases: c})
	}
	return weeks, nil
}
