package indicators

import (
	"fmt"
	"math"

	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// DefaultWindow is the default number of samples for pair statistics.
const DefaultWindow = 24

// MeanStd returns the mean and the sample standard deviation (n-1) of xs.
func MeanStd(xs []float64) (mean, std float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(n)
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// Correlation returns the Pearson correlation of a and b. It is undefined
// when the series differ in length, hold fewer than two samples, or either
// series is constant.
func Correlation(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: series length mismatch %d != %d", ports.ErrInvalidParameters, len(a), len(b))
	}
	if len(a) < 2 {
		return 0, fmt.Errorf("%w: correlation needs 2 samples, have %d", ports.ErrInsufficientData, len(a))
	}
	meanA, _ := MeanStd(a)
	meanB, _ := MeanStd(b)
	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, fmt.Errorf("%w: constant series", ports.ErrInsufficientData)
	}
	r := cov / math.Sqrt(varA*varB)
	return math.Max(-1, math.Min(1, r)), nil
}

// Normalize divides each value by the first one.
func Normalize(xs []float64) ([]float64, error) {
	if len(xs) == 0 || xs[0] == 0 {
		return nil, fmt.Errorf("%w: cannot normalize to a zero or missing first value", ports.ErrInsufficientData)
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x / xs[0]
	}
	return out, nil
}

// Spread returns Normalize(a) - Normalize(b).
func Spread(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: series length mismatch %d != %d", ports.ErrInvalidParameters, len(a), len(b))
	}
	na, err := Normalize(a)
	if err != nil {
		return nil, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(na))
	for i := range na {
		out[i] = na[i] - nb[i]
	}
	return out, nil
}

// SpreadStats summarizes a spread window.
type SpreadStats struct {
	Mean   float64
	Std    float64
	ZScore float64
}

// ZScore scores the last value of xs against the mean and sample std of xs.
// It is undefined when std is zero.
func ZScore(xs []float64) (SpreadStats, error) {
	if len(xs) < 2 {
		return SpreadStats{}, fmt.Errorf("%w: z-score needs 2 samples, have %d", ports.ErrInsufficientData, len(xs))
	}
	mean, std := MeanStd(xs)
	if std == 0 {
		return SpreadStats{Mean: mean}, fmt.Errorf("%w: zero standard deviation", ports.ErrInsufficientData)
	}
	return SpreadStats{Mean: mean, Std: std, ZScore: (xs[len(xs)-1] - mean) / std}, nil
}

// PairSpread normalizes a and b to their first value, builds the spread and
// scores its last value.
func PairSpread(a, b []float64) (SpreadStats, error) {
	spread, err := Spread(a, b)
	if err != nil {
		return SpreadStats{}, err
	}
	return ZScore(spread)
}
