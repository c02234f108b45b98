package arbitrage

import (
	"context"
	"fmt"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/metrics"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// DefaultScanInterval is the live scanning period.
const DefaultScanInterval = 5 * time.Minute

// ScannerConfig configures the periodic pair scan.
type ScannerConfig struct {
	Symbols  []string
	Interval time.Duration
}

// Scanner runs the Detector on a timer over the latest candles of every
// monitored symbol. It is the only writer of pair states.
type Scanner struct {
	config   ScannerConfig
	detector *Detector
	history  ports.CandleHistory
	sink     ports.SignalSink
	pairs    ports.PairStateStore
	logger   ports.Logger
	now      func() time.Time
}

// NewScanner wires a scanner. pairs may be nil when audit persistence is off.
func NewScanner(config ScannerConfig, detector *Detector, history ports.CandleHistory, sink ports.SignalSink, pairs ports.PairStateStore, logger ports.Logger) (*Scanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for scanner")
	}
	if detector == nil || history == nil || sink == nil {
		return nil, fmt.Errorf("%w: detector, history and signal sink are required", ports.ErrConfigurationError)
	}
	if config.Interval <= 0 {
		config.Interval = DefaultScanInterval
	}
	return &Scanner{
		config:   config,
		detector: detector,
		history:  history,
		sink:     sink,
		pairs:    pairs,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run scans immediately and then once per interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Pair scanner started", map[string]interface{}{
		"symbols":  s.config.Symbols,
		"interval": s.config.Interval.String(),
		"window":   s.detector.config.Window,
	})
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.logger.Error(ctx, err, "Pair scan cycle failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Pair scanner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle fetches history, scans, appends signals and records pair states.
// Symbols whose history cannot be fetched are skipped for this cycle.
// Twice the window is fetched so pairs still have Window shared bars when
// one side has gaps.
func (s *Scanner) RunCycle(ctx context.Context) (*ScanResult, error) {
	limit := 2 * s.detector.config.Window
	history := make(map[string][]*domain.Candle, len(s.config.Symbols))
	for _, symbol := range s.config.Symbols {
		candles, err := s.history.Recent(ctx, symbol, limit)
		if err != nil {
			metrics.UpstreamFailures.WithLabelValues("history").Inc()
			s.logger.Warn(ctx, "Skipping symbol in pair scan", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			continue
		}
		history[symbol] = candles
	}

	res := s.detector.ScanCandles(history, s.now())
	metrics.PairsEvaluated.Add(float64(res.Evaluated))

	var firstErr error
	for _, sig := range res.Signals {
		metrics.SignalsTotal.WithLabelValues("arbitrage", string(sig.Kind)).Inc()
		s.logger.Info(ctx, "Pair entry signal", map[string]interface{}{
			"symbol_a":  sig.Symbol,
			"symbol_b":  sig.Counterpart,
			"direction": sig.Direction,
			"z_score":   *sig.ZScore,
			"signal_id": sig.ID,
		})
		if err := s.sink.Append(ctx, sig); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("append pair signal %s: %w", sig.ID, err)
		}
	}
	if s.pairs != nil && len(res.PairStates) > 0 {
		if err := s.pairs.SavePairStates(ctx, res.PairStates); err != nil {
			s.logger.Error(ctx, err, "Failed to persist pair states", map[string]interface{}{"count": len(res.PairStates)})
		}
	}
	s.logger.Debug(ctx, "Pair scan complete", map[string]interface{}{
		"symbols":   len(res.Symbols),
		"excluded":  res.Excluded,
		"evaluated": res.Evaluated,
		"signals":   len(res.Signals),
	})
	return &res, firstErr
}
