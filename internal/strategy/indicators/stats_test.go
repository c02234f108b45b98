package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), std, 1e-12)

	mean, std = MeanStd([]float64{3})
	assert.Equal(t, 3.0, mean)
	assert.Equal(t, 0.0, std)
}

func TestCorrelation(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}

	r, err := Correlation(a, []float64{2, 4, 6, 8, 10})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-12)

	r, err = Correlation(a, []float64{5, 4, 3, 2, 1})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, r, 1e-12)

	_, err = Correlation(a, []float64{1, 1, 1, 1, 1})
	assert.ErrorIs(t, err, ports.ErrInsufficientData)

	_, err = Correlation(a, []float64{1, 2})
	assert.ErrorIs(t, err, ports.ErrInvalidParameters)

	_, err = Correlation([]float64{1}, []float64{1})
	assert.ErrorIs(t, err, ports.ErrInsufficientData)
}

func TestSpreadAndZScore(t *testing.T) {
	a := []float64{100, 101, 102, 103, 110}
	b := []float64{50, 50.5, 51, 51.5, 52}

	spread, err := Spread(a, b)
	require.NoError(t, err)
	require.Len(t, spread, 5)
	assert.InDelta(t, 0.0, spread[0], 1e-12)
	assert.InDelta(t, 1.10-1.04, spread[4], 1e-12)

	stats, err := PairSpread(a, b)
	require.NoError(t, err)
	mean, std := MeanStd(spread)
	assert.InDelta(t, mean, stats.Mean, 1e-12)
	assert.InDelta(t, std, stats.Std, 1e-12)
	assert.InDelta(t, (spread[4]-mean)/std, stats.ZScore, 1e-12)
	assert.Greater(t, stats.ZScore, 1.0)
}

func TestZScoreUndefined(t *testing.T) {
	// identical moves give a constant zero spread
	_, err := PairSpread([]float64{10, 11, 12}, []float64{20, 22, 24})
	assert.ErrorIs(t, err, ports.ErrInsufficientData)

	_, err = Normalize([]float64{0, 1})
	assert.ErrorIs(t, err, ports.ErrInsufficientData)

	_, err = ZScore([]float64{1})
	assert.ErrorIs(t, err, ports.ErrInsufficientData)
}
