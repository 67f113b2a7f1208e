package calibration

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/simulator"
)

var startPattern = regexp.MustCompile(`--start (\d{4}-\d{2}-\d{2})`)

// ErrNoStartDate is returned when the start script names no start date.
var ErrNoStartDate = errors.New("no start date found in the script")

// Defaults of the next step preparation.
const (
	DefaultScript    = "s_calibrate.sh"
	DefaultNextStudy = "ci_correction"
	DefaultNextParam = "ciCorrection"
	DefaultNextTop   = 5
	// DefaultHorizon is the length of one calibration step in days.
	DefaultHorizon = 14
)

// NextOptions configure PrepareNext. Paths are relative to Dir.
type NextOptions struct {
	Dir    string
	Script string
	Study  string
	Param  string
	Top    int
	// Horizon is the number of days between two correction starts.
	Horizon int
	// Update rewrites the start date in the script.
	Update bool
}

func (o NextOptions) withDefaults() NextOptions {
	if o.Script == "" {
		o.Script = DefaultScript
	}
	if o.Study == "" {
		o.Study = DefaultNextStudy
	}
	if o.Param == "" {
		o.Param = DefaultNextParam
	}
	if o.Top <= 0 {
		o.Top = DefaultNextTop
	}
	if o.Horizon <= 0 {
		o.Horizon = DefaultHorizon
	}
	return o
}

// Next describes the prepared next calibration step.
type Next struct {
	Current  time.Time
	Next     time.Time
	Trial    *db.Trial
	Value    float64
	Snapshot string
	Target   string
	Updated  bool
}

// PrepareNext selects the median-by-parameter trial among the best trials
// of the correction study of the script's current start date, copies the
// snapshot that trial wrote for the next start date and optionally moves
// the script's start date forward.
func PrepareNext(store *db.DB, fsys fsutil.FileSystem, opts NextOptions) (*Next, error) {
	opts = opts.withDefaults()
	scriptPath := filepath.Join(opts.Dir, opts.Script)
	script, err := fsys.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read start script: %w", err)
	}
	current, err := StartDate(string(script))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.Script, err)
	}

	// The median is index (n-1)/2 of the best Top sorted by param, the
	// middle of five by default. Fixed index 3 would pick the second largest.
	best, err := store.BestMedian(opts.Study+"_"+current.Format(time.DateOnly), opts.Param, opts.Top)
	if err != nil {
		return nil, err
	}
	n := &Next{
		Current: current,
		Next:    current.AddDate(0, 0, opts.Horizon),
		Trial:   best,
		Value:   best.Params[opts.Param],
	}
	value, _ := best.Value()
	logf("trial n=%d with error=%v and %s=%v", best.Number, value, opts.Param, n.Value)

	folder := filepath.Join(opts.Dir, simulator.CorrectionDir(current, best.Number, 0))
	files, err := fsys.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	day := n.Next.Format(time.DateOnly)
	for _, f := range files {
		if strings.Contains(f, day) {
			n.Snapshot = filepath.Join(folder, f)
			break
		}
	}
	if n.Snapshot == "" {
		return nil, fmt.Errorf("no snapshot for %s in %s", day, folder)
	}
	logf("found snapshot %s", n.Snapshot)

	n.Target = filepath.Join(opts.Dir, "episim-snapshot-"+day+".zip")
	if err := fsutil.CopyFile(fsys, n.Snapshot, n.Target); err != nil {
		return nil, fmt.Errorf("failed to copy snapshot: %w", err)
	}

	if opts.Update {
		next := startPattern.ReplaceAllString(string(script), "--start "+day)
		if err := fsys.WriteFile(scriptPath, []byte(next), 0755); err != nil {
			return nil, fmt.Errorf("failed to update start script: %w", err)
		}
		n.Updated = true
		logf("set next date %s in %s", day, opts.Script)
	}
	return n, nil
}

// StartDate returns the first --start date of a start script.
func StartDate(script string) (time.Time, error) {
	m := startPattern.FindStringSubmatch(script)
	if m == nil {
		return time.Time{}, ErrNoStartDate
	}
	return time.Parse(time.DateOnly, m[1])
}
