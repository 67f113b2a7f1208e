package runs

import (
	"fmt"
	"strconv"

	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// DefaultAgePrefix names the bins of infections by age.
const DefaultAgePrefix = "age"

// keyColumns are copied from a by-age table instead of being summed.
var keyColumns = []string{"date", "day"}

// GroupByAge sums single-year age columns into bins [edges[i], edges[i+1]).
// Bins are named <prefix><low>-<high> with high = edges[i+1]-1. Age columns
// are found by name, falling back to their position after the date and day
// columns with the first position being edges[0]. When scale is not nil each
// bin is multiplied by scale[i]. The date and day columns are carried over.
func GroupByAge(t *table.Table, edges []int, prefix string, scale []float64) (*table.Table, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("need at least two age edges, got %d", len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, fmt.Errorf("age edges must increase: %v", edges)
		}
	}
	if scale != nil && len(scale) != len(edges)-1 {
		return nil, fmt.Errorf("got %d scale factors for %d age groups", len(scale), len(edges)-1)
	}

	var ageCols []string
	for _, h := range t.Header() {
		if h != "date" && h != "day" {
			ageCols = append(ageCols, h)
		}
	}

	out := table.New()
	for _, k := range keyColumns {
		if v, err := t.Strings(k); err == nil {
			if err := out.SetStrings(k, v); err != nil {
				return nil, err
			}
		}
	}

	for i := 0; i < len(edges)-1; i++ {
		sum := make([]float64, t.Len())
		for age := edges[i]; age < edges[i+1]; age++ {
			name := strconv.Itoa(age)
			if !t.Has(name) {
				pos := age - edges[0]
				if pos >= len(ageCols) {
					return nil, fmt.Errorf("%w: age %d", table.ErrMissingColumn, age)
				}
				name = ageCols[pos]
			}
			v, err := t.Floats(name)
			if err != nil {
				return nil, err
			}
			for r := range sum {
				sum[r] += v[r]
			}
		}
		if scale != nil {
			for r := range sum {
				sum[r] *= scale[i]
			}
		}
		name := fmt.Sprintf("%s%d-%d", prefix, edges[i], edges[i+1]-1)
		if err := out.SetFloats(name, sum); err != nil {
			return nil, err
		}
	}
	return out, nil
}
