package optimization

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/backtesting"
)

func randomWalk(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		price *= 1 + rng.NormFloat64()*0.01 + 0.0005*math.Sin(float64(i)/20)
		out[i] = price
	}
	return out
}

func TestGrid(t *testing.T) {
	grid := Grid(DefaultFastRange, DefaultSlowRange)
	require.Len(t, grid, 80)
	assert.Equal(t, Combination{Fast: 5, Slow: 25}, grid[0])
	assert.Equal(t, Combination{Fast: 5, Slow: 30}, grid[1])
	assert.Equal(t, Combination{Fast: 23, Slow: 60}, grid[len(grid)-1])

	for i, c := range grid {
		assert.Less(t, c.Fast, c.Slow)
		if i > 0 {
			prev := grid[i-1]
			assert.True(t, prev.Fast < c.Fast || (prev.Fast == c.Fast && prev.Slow < c.Slow), "grid out of order at %d", i)
		}
	}

	overlapping := Grid(ParameterRange{Min: 2, Max: 6, Step: 1}, ParameterRange{Min: 3, Max: 6, Step: 1})
	assert.Equal(t, []Combination{{2, 3}, {2, 4}, {2, 5}, {3, 4}, {3, 5}, {4, 5}}, overlapping)

	assert.Nil(t, ParameterRange{Min: 1, Max: 5}.Values())
}

func TestNewOptimizer(t *testing.T) {
	o, err := NewOptimizer(OptimizerConfig{})
	require.NoError(t, err)
	assert.Equal(t, backtesting.DefaultCapital, o.config.InitialCapital)
	assert.Len(t, o.Combinations(), 80)

	_, err = NewOptimizer(OptimizerConfig{
		FastRange: ParameterRange{Min: 30, Max: 40, Step: 1},
		SlowRange: ParameterRange{Min: 10, Max: 20, Step: 1},
	})
	assert.Error(t, err)
}

func TestOptimize_NoDataFallsBackToDefaults(t *testing.T) {
	o, err := NewOptimizer(OptimizerConfig{})
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), "BTCUSDT", nil)
	require.NoError(t, err)
	assert.True(t, res.Defaulted)
	assert.Equal(t, domain.DefaultParameters("BTCUSDT"), res.Parameters)
}

func TestOptimize_TiesGoToFirstCombination(t *testing.T) {
	o, err := NewOptimizer(OptimizerConfig{})
	require.NoError(t, err)

	flat := make([]float64, 200)
	for i := range flat {
		flat[i] = 100
	}
	res, err := o.Optimize(context.Background(), "BTCUSDT", flat)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Parameters.FastPeriod)
	assert.Equal(t, 25, res.Parameters.SlowPeriod)
	assert.Equal(t, 1000.0, res.FinalCapital)
	assert.Equal(t, 80, res.Evaluated)
}

func TestOptimize_PicksStrictlyGreatest(t *testing.T) {
	closes := randomWalk(3, 720)
	o, err := NewOptimizer(OptimizerConfig{Workers: 4})
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), "ETHUSDT", closes)
	require.NoError(t, err)

	want := Combination{}
	best := math.Inf(-1)
	for _, c := range o.Combinations() {
		v := backtesting.FinalCapital(closes, 1000, c.Fast, c.Slow)
		if v > best {
			best, want = v, c
		}
	}
	assert.Equal(t, want.Fast, res.Parameters.FastPeriod)
	assert.Equal(t, want.Slow, res.Parameters.SlowPeriod)
	assert.Equal(t, best, res.FinalCapital)
	assert.NoError(t, res.Parameters.Validate())
}

func TestOptimize_DeterministicAcrossWorkerCounts(t *testing.T) {
	closes := randomWalk(11, 500)
	one, err := NewOptimizer(OptimizerConfig{Workers: 1})
	require.NoError(t, err)
	many, err := NewOptimizer(OptimizerConfig{Workers: 16})
	require.NoError(t, err)

	a, err := one.Optimize(context.Background(), "SOLUSDT", closes)
	require.NoError(t, err)
	b, err := many.Optimize(context.Background(), "SOLUSDT", closes)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOptimize_Canceled(t *testing.T) {
	o, err := NewOptimizer(OptimizerConfig{Workers: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Optimize(ctx, "BTCUSDT", randomWalk(1, 100))
	assert.ErrorIs(t, err, context.Canceled)
}
