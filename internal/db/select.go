package db

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// BestTrial returns the complete trial with the lowest first objective value.
func (db *DB) BestTrial(studyName string) (*Trial, error) {
	trials, err := db.completeTrials(studyName)
	if err != nil {
		return nil, err
	}
	best := trials[0]
	for _, t := range trials[1:] {
		if t.Values[0] < best.Values[0] {
			best = t
		}
	}
	return best, nil
}

// BestMedian picks among the top complete trials with the lowest value the
// one holding the median of param. With an even count the lower middle is
// chosen.
func (db *DB) BestMedian(studyName, param string, top int) (*Trial, error) {
	if top < 1 {
		return nil, fmt.Errorf("top must be positive, got %d", top)
	}
	trials, err := db.completeTrials(studyName)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Values[0] < trials[j].Values[0] })
	if len(trials) > top {
		trials = trials[:top]
	}
	for _, t := range trials {
		if _, ok := t.Params[param]; !ok {
			return nil, fmt.Errorf("trial %d of %s has no parameter %s", t.Number, studyName, param)
		}
	}
	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Params[param] < trials[j].Params[param] })
	return trials[(len(trials)-1)/2], nil
}

// ParetoFront returns the complete trials of a multi-objective study that
// no other complete trial dominates, in trial number order.
func (db *DB) ParetoFront(studyName string) ([]*Trial, error) {
	s, err := db.GetStudy(studyName)
	if err != nil {
		return nil, err
	}
	trials, err := db.completeTrials(studyName)
	if err != nil {
		return nil, err
	}
	var front []*Trial
	for i, t := range trials {
		dominated := false
		for j, o := range trials {
			if i != j && dominates(o.Values, t.Values, s.Directions) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, t)
		}
	}
	return front, nil
}

// dominates reports whether a is no worse than b in every objective and
// better in at least one.
func dominates(a, b []float64, dirs []Direction) bool {
	if len(a) != len(b) {
		return false
	}
	better := false
	for i := range a {
		x, y := a[i], b[i]
		if i < len(dirs) && dirs[i] == Maximize {
			x, y = -x, -y
		}
		if x > y {
			return false
		}
		if x < y {
			better = true
		}
	}
	return better
}

func (db *DB) completeTrials(studyName string) ([]*Trial, error) {
	s, err := db.GetStudy(studyName)
	if err != nil {
		return nil, err
	}
	trials, err := db.Trials(s.ID, TrialComplete)
	if err != nil {
		return nil, err
	}
	var out []*Trial
	for _, t := range trials {
		if len(t.Values) > 0 {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in study %s", ErrNoCompleteTrials, studyName)
	}
	return out, nil
}

// Columns derived by TrialsFrame from the multi error attributes.
const (
	ColErrorHospital = "error_hospital"
	ColErrorTotal    = "error_total"
)

// TrialsFrame flattens the trials of a study into a table with one row per
// trial: number, state, value columns, params_<name> and user_attrs_<key>.
// Attributes holding objects or lists are left out. When the error_cases,
// error_sick and error_critical attributes exist, error_hospital (sick plus
// critical) and error_total (twice cases plus hospital) are added.
func (db *DB) TrialsFrame(studyName string) (*table.Table, error) {
	s, err := db.GetStudy(studyName)
	if err != nil {
		return nil, err
	}
	trials, err := db.Trials(s.ID)
	if err != nil {
		return nil, err
	}

	params := map[string]bool{}
	attrs := map[string]bool{}
	for _, t := range trials {
		for p := range t.Params {
			params[p] = true
		}
		for k, v := range t.UserAttrs {
			if scalar(v) {
				attrs[k] = true
			}
		}
	}

	header := []string{"number", "state"}
	if len(s.Directions) == 1 {
		header = append(header, "value")
	} else {
		for i := range s.Directions {
			header = append(header, "values_"+strconv.Itoa(i))
		}
	}
	paramNames := sortedKeys(params)
	attrNames := sortedKeys(attrs)
	for _, p := range paramNames {
		header = append(header, "params_"+p)
	}
	for _, k := range attrNames {
		header = append(header, "user_attrs_"+k)
	}
	multi := attrs["error_cases"] && attrs["error_sick"] && attrs["error_critical"]
	if multi {
		header = append(header, ColErrorHospital, ColErrorTotal)
	}

	out := table.New(header...)
	for _, t := range trials {
		row := []string{strconv.Itoa(t.Number), string(t.State)}
		for i := range s.Directions {
			v := math.NaN()
			if i < len(t.Values) {
				v = t.Values[i]
			}
			row = append(row, table.FormatFloat(v))
		}
		for _, p := range paramNames {
			v, ok := t.Params[p]
			if !ok {
				v = math.NaN()
			}
			row = append(row, table.FormatFloat(v))
		}
		for _, k := range attrNames {
			row = append(row, formatAttr(t.UserAttrs[k]))
		}
		if multi {
			cases, sick, crit := number(t.UserAttrs["error_cases"]), number(t.UserAttrs["error_sick"]), number(t.UserAttrs["error_critical"])
			hospital := sick + crit
			row = append(row, table.FormatFloat(hospital), table.FormatFloat(2*cases+hospital))
		}
		if err := out.AppendRow(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scalar(v any) bool {
	switch v.(type) {
	case float64, string, bool:
		return true
	}
	return false
}

func number(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return math.NaN()
}

func formatAttr(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return table.FormatFloat(x)
	case string:
		return x
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
