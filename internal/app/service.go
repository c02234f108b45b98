package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/metrics"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/strategies"
)

const (
	DefaultWarmupCandles     = 200
	DefaultAppendAttempts    = 5
	DefaultAppendRetryDelay  = 500 * time.Millisecond
	DefaultStreamStopTimeout = 5 * time.Second
)

// Generator is the per-candle signal source, implemented by strategies.MACrossover.
type Generator interface {
	strategies.Strategy
	Warm(symbol string, candles []*domain.Candle) int
	Seed(symbol string, long bool)
}

// PositionSource reports the open ledger positions used to seed the generator.
type PositionSource interface {
	Positions(ctx context.Context) ([]*domain.Position, error)
}

// Loop is a periodic background job such as the pair scanner or the
// walk-forward optimizer. Run blocks until ctx is done.
type Loop interface {
	Run(ctx context.Context) error
}

// OpsServer is the read-only HTTP surface.
type OpsServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Config holds the service settings.
type Config struct {
	Symbols           []string
	Interval          string
	WarmupCandles     int
	AppendAttempts    int
	AppendRetryDelay  time.Duration
	StreamStopTimeout time.Duration
}

// Dependencies groups the collaborators of the service. Candles, Positions,
// Server and Loops are optional.
type Dependencies struct {
	Market    ports.MarketData
	History   ports.CandleHistory
	Candles   ports.CandleStore
	Generator Generator
	Sink      ports.SignalSink
	Positions PositionSource
	Server    OpsServer
	Loops     map[string]Loop
}

type stream struct {
	symbol string
	done   chan struct{}
	stop   chan struct{}
}

// Service runs the live pipeline: candle streams into the signal generator,
// signals into the sink, plus the background loops and the ops server.
type Service struct {
	cfg    Config
	deps   Dependencies
	logger ports.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewService validates the configuration and dependencies.
func NewService(cfg Config, deps Dependencies, logger ports.Logger) (*Service, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for service")
	}
	if deps.Market == nil || deps.Generator == nil || deps.Sink == nil {
		return nil, fmt.Errorf("%w: market data, generator and signal sink are required", ports.ErrConfigurationError)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ports.ErrConfigurationError)
	}
	for _, s := range cfg.Symbols {
		if !domain.ValidSymbol(s) {
			return nil, fmt.Errorf("%w: %q", ports.ErrInvalidSymbol, s)
		}
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.WarmupCandles < 0 {
		return nil, fmt.Errorf("%w: warmup candles cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.AppendAttempts <= 0 {
		cfg.AppendAttempts = DefaultAppendAttempts
	}
	if cfg.AppendRetryDelay <= 0 {
		cfg.AppendRetryDelay = DefaultAppendRetryDelay
	}
	if cfg.StreamStopTimeout <= 0 {
		cfg.StreamStopTimeout = DefaultStreamStopTimeout
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		sleep:  sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs until ctx is cancelled or a candle stream stops on its own.
// The caller owns signal handling; cancelling ctx is a graceful shutdown.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting engine service...", map[string]interface{}{
		"symbols":  s.cfg.Symbols,
		"interval": s.cfg.Interval,
		"strategy": s.deps.Generator.Name(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Re-derive the generator position flags from the ledger
	if err := s.seed(ctx); err != nil {
		return err
	}

	// 2. Fill the indicator windows
	s.warm(ctx)

	// 3. Ops server
	serverErr := make(chan error, 1)
	if s.deps.Server != nil {
		go func() {
			if err := s.deps.Server.Start(); err != nil {
				serverErr <- err
			}
		}()
	}

	// 4. Background loops
	var wg sync.WaitGroup
	for name, loop := range s.deps.Loops {
		wg.Add(1)
		go func(name string, loop Loop) {
			defer wg.Done()
			if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(ctx, err, "Background loop stopped", map[string]interface{}{"loop": name})
			}
		}(name, loop)
	}

	// 5. Candle streams
	streams, err := s.openStreams(ctx)
	if err != nil {
		cancel()
		s.shutdown(ctx, streams, &wg)
		return err
	}

	unexpected := make(chan string, len(streams))
	for _, st := range streams {
		go func(st stream) {
			select {
			case <-st.done:
				unexpected <- st.symbol
			case <-ctx.Done():
			}
		}(st)
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Context cancelled, initiating shutdown...")
	case symbol := <-unexpected:
		if ctx.Err() == nil {
			runErr = fmt.Errorf("%w: candle stream for %s stopped", ports.ErrUpstreamUnavailable, symbol)
			s.logger.Error(ctx, runErr, "Candle stream stopped unexpectedly")
		}
	case err := <-serverErr:
		runErr = fmt.Errorf("ops server failed: %w", err)
		s.logger.Error(ctx, err, "Ops server stopped")
	}

	cancel()
	s.shutdown(ctx, streams, &wg)
	s.logger.Info(ctx, "Engine service stopped.")
	return runErr
}

func (s *Service) seed(ctx context.Context) error {
	if s.deps.Positions == nil {
		return nil
	}
	positions, err := s.deps.Positions.Positions(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load ledger positions")
		return fmt.Errorf("failed to load ledger positions: %w", err)
	}
	for _, p := range positions {
		long := p.Type == domain.Long && !p.IsFlat()
		s.deps.Generator.Seed(p.Symbol, long)
		s.logger.Info(ctx, "Seeded position state", map[string]interface{}{
			"symbol": p.Symbol,
			"amount": p.Amount.String(),
			"long":   long,
		})
	}
	return nil
}

func (s *Service) warm(ctx context.Context) {
	if s.deps.History == nil || s.cfg.WarmupCandles == 0 {
		return
	}
	for _, symbol := range s.cfg.Symbols {
		candles, err := s.deps.History.Recent(ctx, symbol, s.cfg.WarmupCandles)
		if err != nil {
			s.logger.Warn(ctx, "Warmup history unavailable, starting cold", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			continue
		}
		n := s.deps.Generator.Warm(symbol, candles)
		s.logger.Info(ctx, "Loaded warmup candles", map[string]interface{}{"symbol": symbol, "count": n})
	}
}

func (s *Service) openStreams(ctx context.Context) ([]stream, error) {
	streams := make([]stream, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		done, stop, err := s.deps.Market.StreamKlines(ctx, symbol, s.cfg.Interval, s.HandleCandle, s.handleStreamError)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to start candle stream", map[string]interface{}{"symbol": symbol})
			return streams, fmt.Errorf("failed to start candle stream for %s: %w", symbol, err)
		}
		streams = append(streams, stream{symbol: symbol, done: done, stop: stop})
		s.logger.Info(ctx, "Candle stream started", map[string]interface{}{"symbol": symbol, "interval": s.cfg.Interval})
	}
	return streams, nil
}

func (s *Service) shutdown(ctx context.Context, streams []stream, wg *sync.WaitGroup) {
	ctx = context.WithoutCancel(ctx)
	for _, st := range streams {
		close(st.stop)
	}
	timeout := time.After(s.cfg.StreamStopTimeout)
	for _, st := range streams {
		select {
		case <-st.done:
		case <-timeout:
			s.logger.Warn(ctx, "Timeout waiting for candle stream to shut down", map[string]interface{}{"symbol": st.symbol})
		}
	}

	if s.deps.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.StreamStopTimeout)
		defer cancel()
		if err := s.deps.Server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, err, "Failed to shut down ops server")
		}
	}
	wg.Wait()
}

// HandleCandle processes one streamed candle: persist, evaluate, deliver.
func (s *Service) HandleCandle(c *domain.Candle) {
	ctx := context.Background()
	if c == nil || !c.IsFinal {
		return
	}
	metrics.CandlesTotal.WithLabelValues(c.Symbol).Inc()

	if s.deps.Candles != nil {
		if err := s.deps.Candles.SaveCandles(ctx, []*domain.Candle{c}); err != nil {
			s.logger.Warn(ctx, "Failed to persist candle", map[string]interface{}{
				"symbol":    c.Symbol,
				"open_time": c.OpenTime,
				"error":     err.Error(),
			})
		}
	}

	sig, err := s.deps.Generator.OnCandle(ctx, c)
	if err != nil {
		s.logger.Error(ctx, err, "Signal generator rejected candle", map[string]interface{}{"symbol": c.Symbol})
		return
	}
	if sig == nil {
		return
	}
	metrics.SignalsTotal.WithLabelValues("crossover", string(sig.Kind)).Inc()
	if err := s.Deliver(ctx, sig); err != nil {
		s.logger.Error(ctx, err, "Failed to deliver signal", map[string]interface{}{
			"signal_id": sig.ID,
			"symbol":    sig.Symbol,
			"kind":      sig.Kind,
		})
	}
}

// Deliver appends sig to the sink, retrying retryable failures with a linear delay.
func (s *Service) Deliver(ctx context.Context, sig *domain.Signal) error {
	var err error
	for attempt := 1; attempt <= s.cfg.AppendAttempts; attempt++ {
		err = s.deps.Sink.Append(ctx, sig)
		if err == nil || !ports.IsRetryable(err) {
			return err
		}
		if attempt == s.cfg.AppendAttempts {
			break
		}
		s.logger.Warn(ctx, "Signal append failed, retrying", map[string]interface{}{
			"signal_id": sig.ID,
			"attempt":   attempt,
			"error":     err.Error(),
		})
		if sleepErr := s.sleep(ctx, time.Duration(attempt)*s.cfg.AppendRetryDelay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("signal %s not delivered after %d attempts: %w", sig.ID, s.cfg.AppendAttempts, err)
}

func (s *Service) handleStreamError(err error) {
	s.logger.Error(context.Background(), err, "Candle stream error reported")
}
