package strategies

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/indicators"
)

// DefaultBufferSize bounds the per-symbol close history.
const DefaultBufferSize = 500

// MACrossoverConfig holds configuration for the crossover signal generator.
type MACrossoverConfig struct {
	BufferSize int // closes kept per symbol
}

// MACrossover is a per-symbol NO_POSITION/LONG state machine that emits BUY
// on a golden cross and SELL on a death cross, using the periods published
// for each symbol by a ParameterProvider.
type MACrossover struct {
	*BaseStrategy
	config MACrossoverConfig
	params ports.ParameterProvider
	rsi    *indicators.RSIIndicator

	mu     sync.Mutex
	states map[string]*symbolState
}

type symbolState struct {
	closes   []float64
	lastOpen time.Time
	long     bool
}

// NewMACrossover creates a crossover generator.
func NewMACrossover(config MACrossoverConfig, params ports.ParameterProvider, logger ports.Logger) (*MACrossover, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if params == nil {
		return nil, fmt.Errorf("parameter provider is required for strategy")
	}
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.BufferSize < 2 {
		return nil, fmt.Errorf("%w: buffer size %d", ports.ErrInvalidParameters, config.BufferSize)
	}
	return &MACrossover{
		BaseStrategy: NewBaseStrategy(logger),
		config:       config,
		params:       params,
		rsi:          indicators.NewRSI(indicators.RSIConfig{}),
		states:       make(map[string]*symbolState),
	}, nil
}

func (m *MACrossover) Name() string {
	return "MA Crossover"
}

func (m *MACrossover) state(symbol string) *symbolState {
	st, ok := m.states[symbol]
	if !ok {
		st = &symbolState{closes: make([]float64, 0, m.config.BufferSize)}
		m.states[symbol] = st
	}
	return st
}

// accept appends c to the window unless it is out of order.
func (m *MACrossover) accept(st *symbolState, c *domain.Candle) bool {
	if !st.lastOpen.IsZero() && !c.OpenTime.After(st.lastOpen) {
		return false
	}
	st.lastOpen = c.OpenTime
	if len(st.closes) == m.config.BufferSize {
		copy(st.closes, st.closes[1:])
		st.closes = st.closes[:len(st.closes)-1]
	}
	st.closes = append(st.closes, c.Close)
	return true
}

// Warm fills the symbol's window from history without emitting signals.
func (m *MACrossover) Warm(symbol string, candles []*domain.Candle) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(symbol)
	n := 0
	for _, c := range candles {
		if c != nil && m.accept(st, c) {
			n++
		}
	}
	return n
}

// Seed sets the position flag, e.g. from the ledger at startup.
func (m *MACrossover) Seed(symbol string, long bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(symbol).long = long
}

// IsLong reports the current position flag for symbol.
func (m *MACrossover) IsLong(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[symbol]
	return ok && st.long
}

// OnCandle feeds a closed candle to the state machine. Candles that are not
// final or not newer than the last one seen for the symbol are ignored.
func (m *MACrossover) OnCandle(ctx context.Context, c *domain.Candle) (*domain.Signal, error) {
	if c == nil || !c.IsFinal {
		return nil, nil
	}
	if !domain.ValidSymbol(c.Symbol) {
		return nil, fmt.Errorf("%w: %q", ports.ErrInvalidSymbol, c.Symbol)
	}
	params := m.params.Get(c.Symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(c.Symbol)
	if !m.accept(st, c) {
		m.logger.Debug(ctx, "Dropping out-of-order candle", map[string]interface{}{
			"symbol":    c.Symbol,
			"open_time": c.OpenTime,
			"last_open": st.lastOpen,
		})
		return nil, nil
	}

	point, err := DetectCross(st.closes, params.FastPeriod, params.SlowPeriod, len(st.closes)-1)
	if err != nil {
		if IsInsufficientData(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("detect cross for %s: %w", c.Symbol, err)
	}

	var kind domain.SignalKind
	switch {
	case !st.long && point.Cross == GoldenCross:
		kind = domain.SignalBuy
		st.long = true
	case st.long && point.Cross == DeathCross:
		kind = domain.SignalSell
		st.long = false
	default:
		return nil, nil
	}

	rationale := m.crossRationale(point, params, indicators.RSI(st.closes))
	sig := domain.NewSignal(c.Symbol, "", kind, c.Close, c.OpenTime, rationale)
	m.logger.Info(ctx, "Crossover signal", map[string]interface{}{
		"symbol":    c.Symbol,
		"kind":      kind,
		"price":     c.Close,
		"fast":      params.FastPeriod,
		"slow":      params.SlowPeriod,
		"signal_id": sig.ID,
	})
	return sig, nil
}

func (m *MACrossover) crossRationale(p CrossPoint, params domain.ParameterSet, rsi float64) string {
	dir := "above"
	if p.Cross == DeathCross {
		dir = "below"
	}
	momentum := fmt.Sprintf("%s %.1f", m.rsi.Name(), rsi)
	if zone := m.rsi.Zone(rsi); zone != "" {
		momentum += " " + zone
	}
	return fmt.Sprintf("%s: SMA(%d) crossed %s SMA(%d) (fast %.4f, slow %.4f, %s)",
		p.Cross, params.FastPeriod, dir, params.SlowPeriod, p.FastCurr, p.SlowCurr, momentum)
}
