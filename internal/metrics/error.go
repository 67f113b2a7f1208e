// Package metrics computes the error signals between simulated runs and
// reference data that drive the calibration: log-scale errors, percentage
// errors, reinfection numbers and growth rates.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/matsim-org/matsim-episim-libs/internal/series"
)

var (
	// ErrNegativeInput is returned when a log error receives negative values.
	ErrNegativeInput = errors.New("log error requires non-negative values")
	// ErrEmptyInput is returned when there is nothing to compare.
	ErrEmptyInput = errors.New("no values to compare")
)

// smallCount is the magnitude below which percentage errors are measured
// against the mean of the actual series.
const smallCount = 15

// PercentageError returns (actual-predicted)/actual elementwise. Values with
// |actual| < 15 are divided by the mean of actual instead.
func PercentageError(actual, predicted []float64) ([]float64, error) {
	if len(actual) != len(predicted) {
		return nil, fmt.Errorf("percentage error: %d actual vs %d predicted values", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return nil, fmt.Errorf("percentage error: %w", ErrEmptyInput)
	}
	mean := stat.Mean(actual, nil)
	out := make([]float64, len(actual))
	for i, a := range actual {
		d := a
		if math.Abs(a) < smallCount {
			d = mean
		}
		out[i] = (a - predicted[i]) / d
	}
	return out, nil
}

// MeanAbsolutePercentageError is 100 times the mean absolute percentage
// error.
func MeanAbsolutePercentageError(actual, predicted []float64) (float64, error) {
	pe, err := PercentageError(actual, predicted)
	if err != nil {
		return 0, err
	}
	for i, v := range pe {
		pe[i] = math.Abs(v)
	}
	return stat.Mean(pe, nil) * 100, nil
}

// MSLE is the mean squared log error mean((log1p(yTrue)-log1p(yPred))^2).
// A shorter prediction is padded with its last value, a longer one is
// truncated to len(yTrue).
func MSLE(yTrue, yPred []float64) (float64, error) {
	if len(yTrue) == 0 || len(yPred) == 0 {
		return 0, fmt.Errorf("msle: %w", ErrEmptyInput)
	}
	pred := series.EdgePad(yPred, len(yTrue))

	var sum float64
	for i, t := range yTrue {
		p := pred[i]
		if math.IsNaN(t) || math.IsNaN(p) {
			return 0, fmt.Errorf("msle: NaN at position %d", i)
		}
		if t < 0 || p < 0 {
			return 0, fmt.Errorf("msle: %w: position %d", ErrNegativeInput, i)
		}
		d := math.Log1p(t) - math.Log1p(p)
		sum += d * d
	}
	return sum / float64(len(yTrue)), nil
}
