package optimization

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/backtesting"
)

// ParameterRange is the half-open integer range [Min, Max) walked by Step.
type ParameterRange struct {
	Name string
	Min  int
	Max  int
	Step int
}

// Values lists the range in ascending order.
func (r ParameterRange) Values() []int {
	if r.Step <= 0 {
		return nil
	}
	out := make([]int, 0, (r.Max-r.Min)/r.Step+1)
	for v := r.Min; v < r.Max; v += r.Step {
		out = append(out, v)
	}
	return out
}

var (
	DefaultFastRange = ParameterRange{Name: "fast", Min: 5, Max: 25, Step: 2}
	DefaultSlowRange = ParameterRange{Name: "slow", Min: 25, Max: 65, Step: 5}
)

// Combination is one grid point.
type Combination struct {
	Fast int
	Slow int
}

// Grid enumerates fast ascending, then slow ascending, skipping fast >= slow.
func Grid(fast, slow ParameterRange) []Combination {
	var combos []Combination
	for _, f := range fast.Values() {
		for _, s := range slow.Values() {
			if f >= s {
				continue
			}
			combos = append(combos, Combination{Fast: f, Slow: s})
		}
	}
	return combos
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	FastRange      ParameterRange
	SlowRange      ParameterRange
	InitialCapital float64
	Workers        int
}

// OptimizationResult is the winning combination for a symbol.
type OptimizationResult struct {
	Parameters   domain.ParameterSet
	FinalCapital float64
	Evaluated    int
	Defaulted    bool // no history, defaults returned
}

// Optimizer grid-searches crossover periods by backtesting every combination.
type Optimizer struct {
	config OptimizerConfig
	grid   []Combination
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig) (*Optimizer, error) {
	if config.FastRange.Step == 0 {
		config.FastRange = DefaultFastRange
	}
	if config.SlowRange.Step == 0 {
		config.SlowRange = DefaultSlowRange
	}
	if config.InitialCapital == 0 {
		config.InitialCapital = backtesting.DefaultCapital
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.InitialCapital < 0 {
		return nil, fmt.Errorf("%w: initial capital must be positive", ports.ErrInvalidParameters)
	}
	grid := Grid(config.FastRange, config.SlowRange)
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: empty parameter grid", ports.ErrInvalidParameters)
	}
	return &Optimizer{config: config, grid: grid}, nil
}

// Combinations returns the grid in evaluation order.
func (o *Optimizer) Combinations() []Combination {
	return append([]Combination(nil), o.grid...)
}

// Optimize returns the combination with the strictly greatest final capital,
// the earliest grid point winning ties. Without closes it returns the default
// parameters and no error.
func (o *Optimizer) Optimize(ctx context.Context, symbol string, closes []float64) (*OptimizationResult, error) {
	if len(closes) == 0 {
		return &OptimizationResult{
			Parameters:   domain.DefaultParameters(symbol),
			FinalCapital: o.config.InitialCapital,
			Defaulted:    true,
		}, nil
	}

	scores := make([]float64, len(o.grid))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				c := o.grid[i]
				scores[i] = backtesting.FinalCapital(closes, o.config.InitialCapital, c.Fast, c.Slow)
			}
		}()
	}

	var err error
feed:
	for i := range o.grid {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("optimize %s: %w", symbol, err)
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return &OptimizationResult{
		Parameters: domain.ParameterSet{
			Symbol:     symbol,
			FastPeriod: o.grid[best].Fast,
			SlowPeriod: o.grid[best].Slow,
		},
		FinalCapital: scores[best],
		Evaluated:    len(scores),
	}, nil
}
