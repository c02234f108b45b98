package optimization

import (
	"context"
	"fmt"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/metrics"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

const (
	DefaultWalkForwardInterval = 12 * time.Hour
	DefaultLookback            = 30 * 24 * time.Hour
)

// WalkForwardConfig configures the periodic re-optimization loop.
type WalkForwardConfig struct {
	Symbols  []string
	Interval time.Duration
	Lookback time.Duration
}

// WalkForward re-fits crossover parameters for every monitored symbol on a
// fixed period and publishes them to the ParameterBook.
type WalkForward struct {
	config    WalkForwardConfig
	optimizer *Optimizer
	history   ports.CandleHistory
	store     ports.ParameterStore
	book      *ParameterBook
	logger    ports.Logger
	now       func() time.Time
}

// CycleReport counts the outcome of one pass over the symbols.
type CycleReport struct {
	Updated   int
	Defaulted int
	Failed    int
}

func NewWalkForward(config WalkForwardConfig, optimizer *Optimizer, history ports.CandleHistory, store ports.ParameterStore, book *ParameterBook, logger ports.Logger) (*WalkForward, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for walk-forward optimizer")
	}
	if optimizer == nil || history == nil || book == nil {
		return nil, fmt.Errorf("%w: optimizer, history and parameter book are required", ports.ErrConfigurationError)
	}
	if config.Interval <= 0 {
		config.Interval = DefaultWalkForwardInterval
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultLookback
	}
	return &WalkForward{
		config:    config,
		optimizer: optimizer,
		history:   history,
		store:     store,
		book:      book,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run executes one cycle immediately and then one per interval until ctx is done.
func (w *WalkForward) Run(ctx context.Context) error {
	w.logger.Info(ctx, "Walk-forward optimizer started", map[string]interface{}{
		"symbols":  w.config.Symbols,
		"interval": w.config.Interval.String(),
		"lookback": w.config.Lookback.String(),
	})
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		w.RunCycle(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Walk-forward optimizer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle optimizes every symbol once. A failing symbol is logged and skipped.
func (w *WalkForward) RunCycle(ctx context.Context) CycleReport {
	var report CycleReport
	for _, symbol := range w.config.Symbols {
		if ctx.Err() != nil {
			break
		}
		res, err := w.optimizeSymbol(ctx, symbol)
		if err != nil {
			report.Failed++
			metrics.OptimizerRuns.WithLabelValues(symbol, "failed").Inc()
			w.logger.Error(ctx, err, "Walk-forward optimization failed", map[string]interface{}{"symbol": symbol})
			continue
		}
		if res.Defaulted {
			report.Defaulted++
			metrics.OptimizerRuns.WithLabelValues(symbol, "defaulted").Inc()
		} else {
			report.Updated++
			metrics.OptimizerRuns.WithLabelValues(symbol, "updated").Inc()
		}
	}
	w.logger.Info(ctx, "Walk-forward cycle complete", map[string]interface{}{
		"updated":   report.Updated,
		"defaulted": report.Defaulted,
		"failed":    report.Failed,
	})
	return report
}

func (w *WalkForward) optimizeSymbol(ctx context.Context, symbol string) (*OptimizationResult, error) {
	end := w.now().UTC()
	candles, err := w.history.Candles(ctx, symbol, end.Add(-w.config.Lookback), end)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", symbol, err)
	}
	res, err := w.optimizer.Optimize(ctx, symbol, domain.Closes(candles))
	if err != nil {
		return nil, err
	}
	res.Parameters.UpdatedAt = end

	if w.store != nil {
		if err := w.store.SaveParameters(ctx, res.Parameters); err != nil {
			return nil, fmt.Errorf("save parameters for %s: %w", symbol, err)
		}
	}
	if err := w.book.Publish(res.Parameters); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidParameters, err)
	}
	w.logger.Info(ctx, "Parameters updated", map[string]interface{}{
		"symbol":        symbol,
		"fast":          res.Parameters.FastPeriod,
		"slow":          res.Parameters.SlowPeriod,
		"final_capital": res.FinalCapital,
		"candles":       len(candles),
		"defaulted":     res.Defaulted,
	})
	return res, nil
}
