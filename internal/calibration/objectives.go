package calibration

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/metrics"
	"github.com/matsim-org/matsim-episim-libs/internal/reference"
	"github.com/matsim-org/matsim-episim-libs/internal/simulator"
)

// Targets of the growth objectives.
const (
	targetReinfection = 2.5
	reinfectionDays   = 20

	targetRate     = 2
	targetInterval = 3
	rateDays       = 15
)

// Fixed setup of the multi objective.
const (
	multiDays      = 90
	multiAssumedDZ = 2
)

var (
	multiStart = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	multiEnd   = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
)

// Search ranges of the strain objective.
const (
	strainName     = "strain"
	infectiousLow  = 1.0
	infectiousHigh = 3.0
)

// run executes one simulator command and records it on the trial.
func (e *Env) run(ctx context.Context, t *Trial, number int, command string) (db.RunResult, error) {
	start := t.study.Clock.Now()
	out, err := e.Runner.Run(ctx, command)
	res := db.RunResult{Run: number, Command: command, Output: tail(out), Duration: t.elapsed(start)}
	if err != nil {
		t.AddRun(res)
		return res, err
	}
	return res, nil
}

// tail keeps the end of the simulator output for the run record.
func tail(out []byte) string {
	const keep = 4096
	if len(out) > keep {
		out = out[len(out)-keep:]
	}
	return string(out)
}

func newReinfection(env *Env) (Func, error) {
	return func(ctx context.Context, t *Trial) ([]float64, error) {
		c, err := t.SuggestLogFloat("calibrationParameter", 0.5e-7, 1e-4)
		if err != nil {
			return nil, err
		}
		tr := env.trial(t.Number)
		f := newFrame("target", "error")
		for i := 0; i < env.runs(); i++ {
			res, err := env.run(ctx, t, i, tr.Unconstrained(i, c))
			if err != nil {
				return nil, err
			}
			var mean, sqErr float64
			err = env.read(simulator.UnconstrainedOutput(t.Number, i, "infectionEvents.txt"), func(r io.Reader) error {
				var err error
				mean, sqErr, err = metrics.ReinfectionNumber(r, targetReinfection, reinfectionDays)
				return err
			})
			if err != nil {
				return nil, err
			}
			res.Values = map[string]float64{"target": mean, "error": sqErr}
			// Runs without any infection say nothing about the parameter.
			res.Skipped = mean == 0
			t.AddRun(res)
			if !res.Skipped {
				f.add(mean, sqErr)
			}
		}
		if len(f.rows) == 0 {
			f.add(0, targetReinfection*targetReinfection)
		}
		if err := t.recordFrame(f); err != nil {
			return nil, err
		}
		return []float64{f.mean("error")}, nil
	}, nil
}

func newUnconstrained(env *Env) (Func, error) {
	return func(ctx context.Context, t *Trial) ([]float64, error) {
		c, err := t.SuggestFloat("calibrationParameter", 0.7e-5, 1.7e-5)
		if err != nil {
			return nil, err
		}
		tr := env.trial(t.Number)
		f := newFrame("target", "error")
		for i := 0; i < env.runs(); i++ {
			res, err := env.run(ctx, t, i, tr.Unconstrained(i, c))
			if err != nil {
				return nil, err
			}
			var rate, mse float64
			err = env.read(simulator.UnconstrainedOutput(t.Number, i, "infections.txt"), func(r io.Reader) error {
				var err error
				rate, mse, err = metrics.InfectionRate(r, env.District, targetRate, targetInterval, rateDays)
				return err
			})
			if err != nil {
				return nil, err
			}
			res.Values = map[string]float64{"target": rate, "error": mse}
			t.AddRun(res)
			f.add(rate, mse)
		}
		if err := t.recordFrame(f); err != nil {
			return nil, err
		}
		return []float64{f.mean("error")}, nil
	}, nil
}

func newCICorrection(env *Env) (Func, error) {
	refs, err := env.readHospitalAndCases()
	if err != nil {
		return nil, err
	}
	if env.Start.IsZero() {
		return nil, fmt.Errorf("ci_correction needs a start date")
	}
	return func(ctx context.Context, t *Trial) ([]float64, error) {
		offset, err := t.SuggestInt("ciOffset", -2, 2)
		if err != nil {
			return nil, err
		}
		correction, err := t.SuggestFloat("ciCorrection", 0.2, 0.9)
		if err != nil {
			return nil, err
		}
		start := env.Start.AddDate(0, 0, offset)
		end := start.AddDate(0, 0, env.Days)
		c := simulator.Correction{Days: env.Days, Alpha: 1, Offset: 0, Correction: correction, Start: start}

		tr := env.trial(t.Number)
		f := newFrame("error_cases", "error_sick", "error_critical", "dz")
		for i := 0; i < env.runs(); i++ {
			res, err := env.run(ctx, t, i, tr.CICorrection(i, c))
			if err != nil {
				return nil, err
			}
			m, err := env.multiError(simulator.CorrectionOutput(start, t.Number, i), refs, start, end, env.DZ)
			if err != nil {
				return nil, err
			}
			res.Values = map[string]float64{"error_cases": m.Cases, "error_sick": m.Sick, "error_critical": m.Critical, "dz": m.DZ}
			t.AddRun(res)
			f.add(m.Cases, m.Sick, m.Critical, m.DZ)
			f.label("peak", m.Peak.Format(time.DateOnly))
		}
		if err := t.recordFrame(f); err != nil {
			return nil, err
		}
		return []float64{f.mean("error_cases")}, nil
	}, nil
}

func newMulti(env *Env) (Func, error) {
	refs, err := env.readHospitalAndCases()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, t *Trial) ([]float64, error) {
		offset, err := t.SuggestInt("offset", -3, 3)
		if err != nil {
			return nil, err
		}
		correction, err := t.SuggestFloat("ciCorrection", 0.2, 1)
		if err != nil {
			return nil, err
		}
		hospital, err := t.SuggestFloat("hospital", 1, 2)
		if err != nil {
			return nil, err
		}
		c := simulator.Correction{Days: multiDays, Alpha: 1, Offset: offset, Correction: correction}

		res, err := env.run(ctx, t, 0, env.trial(t.Number).Multi(c, hospital))
		if err != nil {
			return nil, err
		}
		m, err := env.multiError(simulator.MultiOutput(t.Number), refs, multiStart, multiEnd, multiAssumedDZ)
		if err != nil {
			return nil, err
		}
		res.Values = map[string]float64{"error_cases": m.Cases, "error_sick": m.Sick, "error_critical": m.Critical, "dz": m.DZ}
		t.AddRun(res)

		for k, v := range map[string]any{
			"error_cases":    jsonFloat(m.Cases),
			"error_sick":     jsonFloat(m.Sick),
			"error_critical": jsonFloat(m.Critical),
			"peak":           m.Peak.Format(time.DateOnly),
			"dz":             jsonFloat(m.DZ),
		} {
			if err := t.SetUserAttr(k, v); err != nil {
				return nil, err
			}
		}
		return []float64{m.Cases, m.Sick + m.Critical}, nil
	}, nil
}

func (e *Env) multiError(name string, refs *references, start, end time.Time, dz float64) (*metrics.MultiError, error) {
	run, err := e.readRun(name)
	if err != nil {
		return nil, err
	}
	m, err := metrics.CalcMultiError(&metrics.Data{Run: run, Hospital: refs.hospital, Cases: refs.cases}, start, end, dz)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

func newStrain(env *Env) (Func, error) {
	if env.Strain == "" || env.StrainsFile == "" {
		return nil, fmt.Errorf("strain objective needs a strain and a strain share reference")
	}
	if env.Start.IsZero() {
		return nil, fmt.Errorf("strain objective needs a start date")
	}
	refs := &references{}
	err := env.read(env.StrainsFile, func(r io.Reader) error {
		var err error
		refs.strains, err = reference.ReadStrainShares(r, env.Strain)
		return err
	})
	if err != nil {
		return nil, err
	}
	if env.IncidenceFile != "" {
		err := env.read(env.IncidenceFile, func(r io.Reader) error {
			var err error
			refs.incidence, err = reference.ReadIncidence(r)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context, t *Trial) ([]float64, error) {
		inf, err := t.SuggestFloat("infectiousness", infectiousLow, infectiousHigh)
		if err != nil {
			return nil, err
		}
		start := env.Start
		end := start.AddDate(0, 0, env.Days)
		cmd := env.trial(t.Number).Strain(strainName, env.runs(), env.Days, start, env.Strain, inf)
		if _, err := env.run(ctx, t, 0, cmd); err != nil {
			return nil, err
		}

		f := newFrame("error_strain", "error_incidence", "error")
		for i := 1; i <= env.runs(); i++ {
			var se *metrics.WeeklyError
			err := env.read(simulator.StrainOutput(strainName, start, t.Number, i, "strains.tsv"), func(r io.Reader) error {
				var err error
				se, err = metrics.CalcStrainError(r, env.Strain, refs.strains, start, end)
				return err
			})
			if err != nil {
				return nil, err
			}

			ie := 0.0
			if refs.incidence != nil {
				run, err := env.readRun(simulator.StrainOutput(strainName, start, t.Number, i, "infections.txt"))
				if err != nil {
					return nil, err
				}
				simShare, refShare := se.ByWeek()
				w, err := metrics.CalcIncidenceError(&metrics.IncidenceData{Run: run, Incidence: refs.incidence}, start, end,
					metrics.IncidenceOptions{Population: env.Population, SimWeights: simShare, RefWeights: refShare})
				if err != nil {
					return nil, err
				}
				ie = w.Error
			}
			t.AddRun(db.RunResult{Run: i, Command: cmd, Values: map[string]float64{"error_strain": se.Error, "error_incidence": ie}})
			f.add(se.Error, ie, se.Error+ie)
		}
		if err := t.recordFrame(f); err != nil {
			return nil, err
		}
		return []float64{f.mean("error")}, nil
	}, nil
}
