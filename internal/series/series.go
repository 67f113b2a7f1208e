// Package series provides the time series arithmetic used on simulation
// output: differences, rolling means, cumulative sums and weekly resampling.
// Missing values are NaN.
package series

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Diff returns the first difference. The first element is NaN.
func Diff(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = xs[i] - xs[i-1]
	}
	return out
}

// RollingMean returns the trailing mean over window values. Positions
// without a full window, or with a NaN inside the window, are NaN.
func RollingMean(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if window <= 0 || i+1 < window {
			out[i] = math.NaN()
			continue
		}
		w := xs[i+1-window : i+1]
		if floats.HasNaN(w) {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Mean(w, nil)
	}
	return out
}

// NanMean is the mean of the non-NaN values, or NaN if there are none.
func NanMean(xs []float64) float64 {
	valid := DropNaN(xs)
	if len(valid) == 0 {
		return math.NaN()
	}
	return stat.Mean(valid, nil)
}

// DropNaN returns the non-NaN values.
func DropNaN(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// CumSum returns the running total. NaN values are skipped.
func CumSum(xs []float64) []float64 {
	clean := make([]float64, len(xs))
	for i, v := range xs {
		if !math.IsNaN(v) {
			clean[i] = v
		}
	}
	return floats.CumSum(make([]float64, len(xs)), clean)
}

// Scale returns xs multiplied by c.
func Scale(xs []float64, c float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	floats.Scale(c, out)
	return out
}

// Normalize divides every value by the NaN-ignoring mean of the series.
func Normalize(xs []float64) []float64 {
	return Scale(xs, 1/NanMean(xs))
}

// Last returns the last value, or NaN for an empty series.
func Last(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}

// ArgMax returns the index of the largest non-NaN value, or -1.
func ArgMax(xs []float64) int {
	best := -1
	for i, v := range xs {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > xs[best] {
			best = i
		}
	}
	return best
}

// EdgePad extends xs to length n by repeating its last value. Longer input
// is truncated.
func EdgePad(xs []float64, n int) []float64 {
	out := make([]float64, n)
	if len(xs) == 0 {
		return out
	}
	for i := range out {
		if i < len(xs) {
			out[i] = xs[i]
		} else {
			out[i] = xs[len(xs)-1]
		}
	}
	return out
}

// WeekEnd returns the Sunday closing the Monday to Sunday week of d.
func WeekEnd(d time.Time) time.Time {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	offset := (7 - int(d.Weekday())) % 7
	return d.AddDate(0, 0, offset)
}

// Week is one bucket of a weekly resampling.
type Week struct {
	End   time.Time
	Value float64
	Count int
}

// Aggregation reduces the values of one week.
type Aggregation func(values []float64) float64

// Sum ignores NaN values; an all-NaN week sums to zero.
func Sum(values []float64) float64 {
	return floats.Sum(DropNaN(values))
}

// Mean ignores NaN values; an all-NaN week is NaN.
func Mean(values []float64) float64 {
	return NanMean(values)
}

// Weekly groups values into weeks ending on Sunday and reduces each week
// with agg. Dates must be sorted ascending.
func Weekly(dates []time.Time, values []float64, agg Aggregation) []Week {
	var weeks []Week
	var bucket []float64
	var end time.Time
	flush := func() {
		if len(bucket) == 0 {
			return
		}
		weeks = append(weeks, Week{End: end, Value: agg(bucket), Count: len(bucket)})
		bucket = nil
	}
	for i, d := range dates {
		we := WeekEnd(d)
		if len(bucket) > 0 && !we.Equal(end) {
			flush()
		}
		end = we
		bucket = append(bucket, values[i])
	}
	flush()
	return weeks
}
