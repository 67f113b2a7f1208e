package calibration

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/matsim-org/matsim-episim-libs/internal/aggregate"
	"github.com/matsim-org/matsim-episim-libs/internal/archive"
	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
	"github.com/matsim-org/matsim-episim-libs/internal/timeutil"
)

// Defaults of the batch driver.
const (
	DefaultBatchPrefix    = "syn."
	DefaultBatchObjective = "unconstrained"
	DefaultBatchParam     = "calibrationParameter"
)

// BatchOptions configure BatchCalibrate.
type BatchOptions struct {
	// Env is the template for every group. The group's configuration is
	// appended to its JVM options as -D<prefix><column>=<value>.
	Env       Env
	Prefix    string
	Trials    int
	Objective string
	Param     string
	// Attrs are stored on every group study, next to jvm_opts.
	Attrs      map[string]any
	Registry   *Registry
	NewSampler func() Sampler
	Clock      timeutil.Clock
	// Progress receives the result table after each group.
	Progress func(*table.Table) error
}

// BatchResult is the calibration outcome of one manifest group. Param and
// Error are NaN when the group failed.
type BatchResult struct {
	Key   []string
	Study string
	Param float64
	Error float64
	Err   error
}

// BatchCalibrate runs one study per configuration group of a batch
// manifest. Each study is named after the group's smallest run id. A group
// whose calibration fails is logged and left without result; the remaining
// groups still run.
func BatchCalibrate(ctx context.Context, store *db.DB, m *archive.Manifest, opts BatchOptions) ([]BatchResult, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultBatchPrefix
	}
	if opts.Objective == "" {
		opts.Objective = DefaultBatchObjective
	}
	if opts.Param == "" {
		opts.Param = DefaultBatchParam
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	def, err := opts.Registry.Lookup(opts.Objective)
	if err != nil {
		return nil, err
	}
	if len(def.Directions) != 1 {
		return nil, fmt.Errorf("batch calibration needs a single objective, %s has %d", def.Name, len(def.Directions))
	}

	grouping, err := aggregate.GroupManifest(m)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, 0, len(grouping.Groups))
	for _, grp := range grouping.Groups {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := BatchResult{Key: grp.Key, Study: grp.MinRunID(), Param: math.NaN(), Error: math.NaN()}
		env := opts.Env
		env.JVMOpts = groupJVMOpts(opts.Env.JVMOpts, opts.Prefix, grouping.KeyColumns, grp.Key)

		logf("starting group %s with options: %s", res.Study, env.JVMOpts)
		best, err := calibrateGroup(ctx, store, def, &env, res.Study, opts)
		if err != nil {
			monitoring.Warnf("calibrate", "failed calibrating batch run %s: %v", res.Study, err)
			res.Err = err
		} else {
			res.Param = best.Params[opts.Param]
			res.Error = best.Values[0]
		}
		results = append(results, res)

		if opts.Progress != nil {
			t, err := BatchTable(grouping.KeyColumns, results)
			if err != nil {
				return results, err
			}
			if err := opts.Progress(t); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func calibrateGroup(ctx context.Context, store *db.DB, def *Definition, env *Env, name string, opts BatchOptions) (*db.Trial, error) {
	var sampler Sampler
	if opts.NewSampler != nil {
		sampler = opts.NewSampler()
	}
	study, err := NewStudy(store, name, def.Directions, sampler, opts.Clock)
	if err != nil {
		return nil, err
	}
	for k, v := range opts.Attrs {
		if err := study.SetUserAttr(k, v); err != nil {
			return nil, err
		}
	}
	if err := study.SetUserAttr("jvm_opts", env.JVMOpts); err != nil {
		return nil, err
	}
	fn, err := def.New(env)
	if err != nil {
		return nil, err
	}
	if err := study.Optimize(ctx, fn, opts.Trials); err != nil {
		return nil, err
	}
	return study.BestTrial()
}

func groupJVMOpts(base, prefix string, columns, key []string) string {
	var b strings.Builder
	b.WriteString(base)
	for i, c := range columns {
		fmt.Fprintf(&b, " -D%s%s=%s", prefix, c, key[i])
	}
	return b.String()
}

// BatchTable renders batch results with the configuration columns followed
// by run, param and error.
func BatchTable(columns []string, results []BatchResult) (*table.Table, error) {
	header := append(append([]string{}, columns...), "run", "param", "error")
	t := table.New(header...)
	for _, r := range results {
		row := append(append([]string{}, r.Key...), r.Study, table.FormatFloat(r.Param), table.FormatFloat(r.Error))
		if err := t.AppendRow(row...); err != nil {
			return nil, err
		}
	}
	return t, nil
}
