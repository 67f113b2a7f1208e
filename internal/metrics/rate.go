package metrics

import (
	"fmt"
	"io"

	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

var logf = monitoring.Component("metrics")

// outbreakShare is the share of the initial susceptibles that must be
// infected before growth rates are measured.
const outbreakShare = 0.002

// InfectionRate measures the growth of nTotalInfected over targetInterval
// days, for days consecutive days starting once 0.2% of the day 1
// susceptibles are infected. The start is moved back when the run is too
// short and moved forward to leave room for the interval. It returns the
// mean growth rate and the mean squared error against targetRate.
func InfectionRate(r io.Reader, district string, targetRate float64, targetInterval, days int) (mean, mse float64, err error) {
	t, err := table.ReadKind(r, table.KindInfections)
	if err != nil {
		return 0, 0, err
	}
	districts, _ := t.Strings("district")
	t = t.Filter(func(row int) bool { return districts[row] == district })
	if t.Len() == 0 {
		return 0, 0, fmt.Errorf("no rows for district %s", district)
	}

	dayCol, err := t.Ints("day")
	if err != nil {
		return 0, 0, err
	}
	total, err := t.Floats("nTotalInfected")
	if err != nil {
		return 0, 0, err
	}
	susceptible, err := t.Floats("nSusceptible")
	if err != nil {
		return 0, 0, err
	}

	byDay := make(map[int]float64, len(dayCol))
	initial := -1.0
	for i, d := range dayCol {
		byDay[int(d)] = total[i]
		if d == 1 && initial < 0 {
			initial = susceptible[i]
		}
	}
	if initial < 0 {
		return 0, 0, fmt.Errorf("district %s has no day 1", district)
	}

	last := int(dayCol[len(dayCol)-1])
	start := last
	for i, v := range total {
		if v >= initial*outbreakShare {
			start = int(dayCol[i])
			break
		}
	}

	if diff := last - start - days; diff < 0 {
		logf("simulation interval may be too short, adjusting start by %d", diff)
		start += diff
	}
	if start-targetInterval <= 0 {
		logf("adjusting start to target interval")
		start = targetInterval + 1
		if n := len(dayCol) - targetInterval; n < days {
			days = n
		}
	}
	if days <= 0 {
		return 0, 0, fmt.Errorf("no days left to measure growth (interval %d, %d rows)", targetInterval, len(dayCol))
	}

	var sum, sqSum float64
	for i := start; i < start+days; i++ {
		prev, ok := byDay[i-targetInterval]
		if !ok {
			return 0, 0, fmt.Errorf("missing day %d", i-targetInterval)
		}
		today, ok := byDay[i]
		if !ok {
			return 0, 0, fmt.Errorf("missing day %d", i)
		}
		rate := today / prev
		sum += rate
		sqSum += (rate - targetRate) * (rate - targetRate)
	}
	n := float64(days)
	return sum / n, sqSum / n, nil
}
