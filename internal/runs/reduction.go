package runs

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/matsim-org/matsim-episim-libs/internal/archive"
	"github.com/matsim-org/matsim-episim-libs/internal/series"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// RReduction compares the mean rValue of df against a base case. Both tables
// are averaged per seed and key; the reduction 1 - r/baseR is computed per
// seed and then summarized over seeds as rValue, rReduction, std and sem.
// baseVars must be a subset of groupBy; a nil groupBy means baseVars.
// Keys without a matching base case have no reduction.
func RReduction(base, df *table.Table, baseVars, groupBy []string) (*table.Table, error) {
	if groupBy == nil {
		groupBy = baseVars
	}
	for _, v := range baseVars {
		if !contains(groupBy, v) {
			return nil, fmt.Errorf("base variable %s is not grouped by", v)
		}
	}

	baseR, err := meanBy(base, append([]string{archive.ColSeed}, baseVars...))
	if err != nil {
		return nil, fmt.Errorf("base case: %w", err)
	}

	groups, err := df.GroupBy(append([]string{archive.ColSeed}, groupBy...)...)
	if err != nil {
		return nil, err
	}
	r, err := df.Floats("rValue")
	if err != nil {
		return nil, err
	}

	type summary struct {
		key        []string
		r, reduced []float64
	}
	var order []string
	byKey := make(map[string]*summary)
	for _, g := range groups {
		seed, key := g.Key[0], g.Key[1:]

		vals := make([]float64, len(g.Rows))
		for i, row := range g.Rows {
			vals[i] = r[row]
		}
		mean := series.NanMean(vals)

		baseKey := []string{seed}
		for _, v := range baseVars {
			baseKey = append(baseKey, key[indexOf(groupBy, v)])
		}
		reduction := math.NaN()
		if b, ok := baseR[joinKey(baseKey)]; ok {
			reduction = 1 - mean/b
		}

		k := joinKey(key)
		s, ok := byKey[k]
		if !ok {
			s = &summary{key: key}
			byKey[k] = s
			order = append(order, k)
		}
		s.r = append(s.r, mean)
		s.reduced = append(s.reduced, reduction)
	}

	out := table.New(append(append([]string{}, groupBy...), "rValue", "rReduction", "std", "sem")...)
	sort.SliceStable(order, func(i, j int) bool {
		return table.CompareKeys(byKey[order[i]].key, byKey[order[j]].key) < 0
	})
	for _, k := range order {
		s := byKey[k]
		red := series.DropNaN(s.reduced)
		mean, std, sem := math.NaN(), math.NaN(), math.NaN()
		if len(red) > 0 {
			mean = stat.Mean(red, nil)
		}
		if len(red) > 1 {
			std = stat.StdDev(red, nil)
			sem = stat.StdErr(std, float64(len(red)))
		}
		row := append(append([]string{}, s.key...),
			table.FormatFloat(series.NanMean(s.r)),
			table.FormatFloat(mean),
			table.FormatFloat(std),
			table.FormatFloat(sem),
		)
		if err := out.AppendRow(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func meanBy(t *table.Table, cols []string) (map[string]float64, error) {
	groups, err := t.GroupBy(cols...)
	if err != nil {
		return nil, err
	}
	r, err := t.Floats("rValue")
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(groups))
	for _, g := range groups {
		vals := make([]float64, len(g.Rows))
		for i, row := range g.Rows {
			vals[i] = r[row]
		}
		out[joinKey(g.Key)] = series.NanMean(vals)
	}
	return out, nil
}

func joinKey(key []string) string {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = table.JoinKey(k)
	}
	return strings.Join(parts, "\x00")
}

func contains(xs []string, s string) bool {
	return indexOf(xs, s) >= 0
}

func indexOf(xs []string, s string) int {
	for i, x := range xs {
		if x == s {
			return i
		}
	}
	return -1
}
