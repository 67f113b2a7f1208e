package simulator

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultJar is the simulator jar expected in the working directory.
const DefaultJar = "matsim-episim-1.0-SNAPSHOT.jar"

// Output directory names used by the trial entry point.
const (
	NameUnconstrained = "calibration-unconstrained"
	NameCalibration   = "calibration"
)

// Trial holds the parts of a simulator command line shared by all runs of
// one optimizer trial.
type Trial struct {
	JVMOpts  string
	Jar      string
	Scenario string
	Number   int
}

func (t Trial) prefix() string {
	jar := t.Jar
	if jar == "" {
		jar = DefaultJar
	}
	parts := []string{"java"}
	if opts := strings.TrimSpace(t.JVMOpts); opts != "" {
		parts = append(parts, opts)
	}
	parts = append(parts, "-jar", jar, "scenarioCreation", "trial", t.Scenario)
	return strings.Join(parts, " ")
}

// Unconstrained returns the command line for an unrestricted growth run.
func (t Trial) Unconstrained(run int, calibParameter float64) string {
	return fmt.Sprintf("%s --number %d --run %d --unconstrained --calibParameter %.12f",
		t.prefix(), t.Number, run, calibParameter)
}

// Correction describes a contact intensity correction starting at Start.
type Correction struct {
	Days       int
	Alpha      float64
	Offset     int
	Correction float64
	Start      time.Time
}

// CICorrection returns the command line for a contact intensity correction run.
func (t Trial) CICorrection(run int, c Correction) string {
	return fmt.Sprintf("%s --days %d --number %d --run %d --alpha %.3f --offset %d --correction %.3f --start %q",
		t.prefix(), c.Days, t.Number, run, c.Alpha, c.Offset, c.Correction, c.Start.Format(time.DateOnly))
}

// Multi returns the command line for a combined offset, correction and
// hospital factor run.
func (t Trial) Multi(c Correction, hospitalFactor float64) string {
	return fmt.Sprintf("%s --days %d --number %d --alpha %.3f --offset %d --hospitalFactor %.3f --correction %.3f",
		t.prefix(), c.Days, t.Number, c.Alpha, c.Offset, hospitalFactor, c.Correction)
}

// Strain returns the command line for a strain infectiousness run. All seeds
// run within one invocation.
func (t Trial) Strain(name string, runs, days int, start time.Time, strain string, infectiousness float64) string {
	return fmt.Sprintf("%s --days %d --number %d --runs %d --name %s --start %q --infectiousness %s=%.3f",
		t.prefix(), days, t.Number, runs, name, start.Format(time.DateOnly), strain, infectiousness)
}

// UnconstrainedOutput is the file name written by run of an unconstrained trial.
func UnconstrainedOutput(number, run int, file string) string {
	return filepath.Join("output-"+NameUnconstrained, strconv.Itoa(number), "run"+strconv.Itoa(run), file)
}

// CorrectionOutput is the infections file written by run of a correction
// trial started at start.
func CorrectionOutput(start time.Time, number, run int) string {
	return filepath.Join(CorrectionDir(start, number, run), "infections.txt")
}

// CorrectionDir is the output directory of run of a correction trial. It
// also holds the snapshots the simulator writes.
func CorrectionDir(start time.Time, number, run int) string {
	return filepath.Join("output-"+NameCalibration+"-"+start.Format(time.DateOnly), strconv.Itoa(number), "run"+strconv.Itoa(run))
}

// MultiOutput is the infections file written by a multi trial.
func MultiOutput(number int) string {
	return filepath.Join("output-"+NameCalibration, strconv.Itoa(number), "run0", "infections.txt")
}

// StrainOutput is a result file of run (counted from 1) of a strain trial,
// e.g. suffix "strains.tsv" or "infections.txt".
func StrainOutput(name string, start time.Time, number, run int, suffix string) string {
	r := strconv.Itoa(run)
	return filepath.Join("output-"+name+"-"+start.Format(time.DateOnly), strconv.Itoa(number), "run_"+r, "run"+r+"."+suffix)
}
