package calculator

import (
	"errors"
	"math"
)

// ErrNoData is returned when a reduction has no values to work on.
var ErrNoData = errors.New("no data")

// Sum folds the values into their total.
func Sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// Mean returns the arithmetic mean of the values. With no values it returns
// NaN together with ErrNoData.
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return math.NaN(), ErrNoData
	}
	return Sum(values) / float64(len(values)), nil
}

// Range scans the values and returns the high and low.
func Range(values []float64) (high, low float64, err error) {
	if len(values) == 0 {
		return 0, 0, ErrNoData
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, v := range values {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	return high, low, nil
}

// Finite reports whether v is neither NaN nor infinite. Balances parsed from
// remote payloads occasionally are.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
