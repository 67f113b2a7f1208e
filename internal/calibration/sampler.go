package calibration

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/matsim-org/matsim-episim-libs/internal/db"
)

// Sampler picks the value of a parameter for a trial. history holds the
// complete trials of the study.
type Sampler interface {
	Sample(history []*db.Trial, number int, name string, d db.Distribution) float64
}

// RandomSampler draws independent values from each distribution.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler creates a sampler with a fixed seed.
func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))}
}

// Sample draws uniformly, log-uniformly for log distributions.
func (s *RandomSampler) Sample(_ []*db.Trial, _ int, _ string, d db.Distribution) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case d.Kind == "int":
		return d.Low + float64(s.rng.IntN(int(d.High-d.Low)+1))
	case d.Log:
		lo, hi := math.Log(d.Low), math.Log(d.High)
		return math.Exp(lo + s.rng.Float64()*(hi-lo))
	default:
		return d.Low + s.rng.Float64()*(d.High-d.Low)
	}
}

const (
	// singleValueMarginRatio is the fraction of a single value used as margin
	// when all top trials agree on it.
	singleValueMarginRatio = 0.1

	// minMargin is the smallest absolute margin around a single value.
	minMargin = 0.001

	// maxValuesPerParam caps the grid resolution.
	maxValuesPerParam = 1000
)

// GridSampler walks a full grid over all parameters in rounds. The first
// round spans the distributions; each later round spans the range of the
// TopK best complete trials widened by one grid step, clipped to the
// distribution.
//
// Trial numbers enumerate grid points in mixed radix over a fixed parameter
// order: the declared parameters sorted by name, or, without a declaration,
// the names seen in the first trial and the history sorted once. Names met
// later are appended so the digits of known parameters never move.
type GridSampler struct {
	ValuesPerParam int
	TopK           int

	mu     sync.Mutex
	order  []string
	frozen bool
	first  int
	seen   map[string]bool
}

// NewGridSampler creates a grid sampler with n values per parameter over
// params, which may be empty.
func NewGridSampler(valuesPerParam, topK int, params ...string) *GridSampler {
	if valuesPerParam <= 0 {
		valuesPerParam = 5
	}
	if valuesPerParam > maxValuesPerParam {
		valuesPerParam = maxValuesPerParam
	}
	if topK <= 0 {
		topK = 5
	}
	g := &GridSampler{ValuesPerParam: valuesPerParam, TopK: topK, first: -1, seen: map[string]bool{}}
	for _, p := range params {
		g.seen[p] = true
	}
	if len(g.seen) > 0 {
		g.freeze()
	}
	return g
}

// freeze fixes the order to the sorted names seen so far. g.mu must be held.
func (g *GridSampler) freeze() {
	g.order = make([]string, 0, len(g.seen))
	for n := range g.seen {
		g.order = append(g.order, n)
	}
	sort.Strings(g.order)
	g.frozen = true
}

// layout returns the parameter order for a trial.
func (g *GridSampler) layout(history []*db.Trial, number int, name string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.frozen {
		if g.first < 0 {
			g.first = number
		}
		g.seen[name] = true
		for _, t := range history {
			for p := range t.Params {
				g.seen[p] = true
			}
		}
		if len(history) == 0 && number == g.first {
			order := make([]string, 0, len(g.seen))
			for n := range g.seen {
				order = append(order, n)
			}
			sort.Strings(order)
			return order
		}
		g.freeze()
	}
	if !g.seen[name] {
		g.seen[name] = true
		g.order = append(g.order, name)
	}
	return append([]string(nil), g.order...)
}

// Sample returns the grid value of name for trial number.
func (g *GridSampler) Sample(history []*db.Trial, number int, name string, d db.Distribution) float64 {
	order := g.layout(history, number, name)

	v := g.ValuesPerParam
	roundSize := 1
	digit := 1
	for _, n := range order {
		if n == name {
			digit = roundSize
		}
		roundSize *= v
	}
	round := number / roundSize
	idx := (number % roundSize) / digit % v

	lo, hi := d.Low, d.High
	if round > 0 {
		if nlo, nhi, ok := narrowBounds(topTrials(history, g.TopK), name, v, d.Log); ok {
			lo, hi = math.Max(lo, nlo), math.Min(hi, nhi)
		}
	}
	if d.Kind == "int" {
		grid := generateIntGrid(lo, hi, v)
		return float64(grid[idx%len(grid)])
	}
	if d.Log {
		grid := generateGrid(math.Log(lo), math.Log(hi), v)
		return math.Exp(grid[idx])
	}
	return generateGrid(lo, hi, v)[idx]
}

// topTrials returns the k complete trials with the lowest first value.
func topTrials(history []*db.Trial, k int) []*db.Trial {
	var ranked []*db.Trial
	for _, t := range history {
		if len(t.Values) > 0 {
			ranked = append(ranked, t)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Values[0] < ranked[j].Values[0] })
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// narrowBounds computes the range of param across the top trials, widened
// by one grid step. Log parameters are narrowed in log space.
func narrowBounds(top []*db.Trial, param string, valuesPerParam int, logScale bool) (lo, hi float64, ok bool) {
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, t := range top {
		v, found := t.Params[param]
		if !found {
			continue
		}
		if logScale {
			v = math.Log(v)
		}
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if math.IsInf(minVal, 1) {
		return 0, 0, false
	}

	var margin float64
	if minVal == maxVal {
		margin = math.Max(math.Abs(minVal)*singleValueMarginRatio, minMargin)
	} else {
		margin = (maxVal - minVal) / float64(valuesPerParam-1)
	}
	lo, hi = minVal-margin, maxVal+margin
	if logScale {
		lo, hi = math.Exp(lo), math.Exp(hi)
	}
	return lo, hi, true
}

// generateGrid creates n evenly spaced values between start and end inclusive.
func generateGrid(start, end float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{(start + end) / 2}
	}
	if n > maxValuesPerParam {
		n = maxValuesPerParam
	}
	grid := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range grid {
		grid[i] = start + step*float64(i)
	}
	return grid
}

// generateIntGrid rounds an evenly spaced grid to integers, dropping
// duplicates while keeping order.
func generateIntGrid(start, end float64, n int) []int {
	if n <= 0 {
		return []int{}
	}
	seen := make(map[int]bool, n)
	out := make([]int, 0, n)
	for _, v := range generateGrid(start, end, n) {
		iv := int(math.Round(v))
		if !seen[iv] {
			seen[iv] = true
			out = append(out, iv)
		}
	}
	return out
}
