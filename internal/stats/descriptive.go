// Package stats implements the statistical core of the experimentation
// engine: frequentist hypothesis tests, Bayesian posterior inference,
// sequential stopping boundaries, and power analysis.
//
// Distribution functions (normal, Student's t, chi-squared, beta) come from
// gonum rather than the hand-rolled approximations common in A/B tooling, so
// p-values are accurate to numerical precision rather than "directionally
// correct". Monte Carlo routines take an injectable random source so results
// are reproducible under test.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientData is returned when a computation has too few samples
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMissingVariant is returned when a required variant has no samples
	ErrMissingVariant = errors.New("missing variant data")
	// ErrInvalidInput is returned for out-of-range request parameters
	ErrInvalidInput = errors.New("invalid input")
)

// Summary holds descriptive statistics for one sample
type Summary struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Variance float64 `json:"variance"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Median   float64 `json:"median"`
	P95      float64 `json:"p95"`
	P99      float64 `json:"p99"`
}

// Describe computes descriptive statistics for a sample
func Describe(values []float64) (*Summary, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty sample", ErrInsufficientData)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, variance := stat.MeanVariance(values, nil)
	if len(values) == 1 {
		variance = 0
	}
	return &Summary{
		Count:    len(values),
		Mean:     mean,
		StdDev:   math.Sqrt(variance),
		Variance: variance,
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Median:   Percentile(sorted, 0.5),
		P95:      Percentile(sorted, 0.95),
		P99:      Percentile(sorted, 0.99),
	}, nil
}

// Percentile returns the p-th quantile of a sorted sample using linear
// interpolation between order statistics
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	index := p * float64(n-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// IsBinary reports whether every value in the sample is 0 or 1
func IsBinary(values []float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

// successes counts the 1-values in a binary sample
func successes(values []float64) int {
	n := 0
	for _, v := range values {
		if v == 1 {
			n++
		}
	}
	return n
}
