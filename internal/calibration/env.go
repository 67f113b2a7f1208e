package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/reference"
	"github.com/matsim-org/matsim-episim-libs/internal/runs"
	"github.com/matsim-org/matsim-episim-libs/internal/simulator"
)

// Env is what the objectives need to run the simulator and score its output.
type Env struct {
	Runner   *simulator.Runner
	Scenario string
	District string
	// Runs is the number of simulator runs per trial.
	Runs    int
	Start   time.Time
	Days    int
	DZ      float64
	JVMOpts string
	Jar     string
	// Window is the smoothing window in days for case series.
	Window int

	// Reference files, relative to the runner directory unless absolute.
	HospitalFile  string
	CasesFile     string
	IncidenceFile string
	StrainsFile   string

	Strain     string
	Population float64
}

func (e *Env) trial(number int) simulator.Trial {
	return simulator.Trial{JVMOpts: e.JVMOpts, Jar: e.Jar, Scenario: e.Scenario, Number: number}
}

func (e *Env) runs() int {
	if e.Runs < 1 {
		return 1
	}
	return e.Runs
}

func (e *Env) runOptions() runs.Options {
	return runs.Options{District: e.District, Window: e.Window}
}

func (e *Env) path(name string) string {
	if filepath.IsAbs(name) || e.Runner == nil || e.Runner.Dir == "" {
		return name
	}
	return filepath.Join(e.Runner.Dir, name)
}

// read opens a file below the runner directory and passes it to fn.
func (e *Env) read(name string, fn func(r io.Reader) error) error {
	f, err := os.Open(e.path(name))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (e *Env) readRun(name string) (*runs.Run, error) {
	var run *runs.Run
	err := e.read(name, func(r io.Reader) error {
		var err error
		run, err = runs.ReadRun(r, e.runOptions())
		return err
	})
	return run, err
}

// references are read once per objective and shared by all trials.
type references struct {
	hospital  *reference.Table
	cases     *reference.Table
	incidence *reference.Table
	strains   *reference.Table
}

func (e *Env) readHospitalAndCases() (*references, error) {
	refs := &references{}
	if e.HospitalFile == "" || e.CasesFile == "" {
		return nil, fmt.Errorf("hospital and case reference files are required")
	}
	err := e.read(e.HospitalFile, func(r io.Reader) error {
		var err error
		refs.hospital, err = reference.ReadHospital(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = e.read(e.CasesFile, func(r io.Reader) error {
		var err error
		refs.cases, err = reference.ReadCases(r, e.runOptions().GetWindow())
		return err
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// frame collects one row of values per run, like the per-trial result
// tables of the drivers.
type frame struct {
	columns []string
	rows    [][]float64
	labels  map[string][]string
}

func newFrame(columns ...string) *frame {
	return &frame{columns: columns, labels: map[string][]string{}}
}

func (f *frame) add(values ...float64) {
	f.rows = append(f.rows, values)
}

func (f *frame) label(name, value string) {
	f.labels[name] = append(f.labels[name], value)
}

func (f *frame) mean(column string) float64 {
	for c, name := range f.columns {
		if name != column {
			continue
		}
		var sum float64
		var n int
		for _, row := range f.rows {
			if !math.IsNaN(row[c]) {
				sum += row[c]
				n++
			}
		}
		if n == 0 {
			return math.NaN()
		}
		return sum / float64(n)
	}
	return math.NaN()
}

// json renders the frame column-wise with row positions as keys; NaN
// becomes null.
func (f *frame) json() (string, error) {
	out := map[string]map[string]any{}
	for c, name := range f.columns {
		col := map[string]any{}
		for i, row := range f.rows {
			col[strconv.Itoa(i)] = jsonFloat(row[c])
		}
		out[name] = col
	}
	names := make([]string, 0, len(f.labels))
	for name := range f.labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		col := map[string]any{}
		for i, v := range f.labels[name] {
			col[strconv.Itoa(i)] = v
		}
		out[name] = col
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func jsonFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// recordFrame stores the column means and the frame as trial attributes.
func (t *Trial) recordFrame(f *frame) error {
	for _, c := range f.columns {
		if err := t.SetUserAttr(c, jsonFloat(f.mean(c))); err != nil {
			return err
		}
	}
	df, err := f.json()
	if err != nil {
		return err
	}
	logf("trial %d results: %s", t.Number, df)
	return t.SetUserAttr("df", df)
}
