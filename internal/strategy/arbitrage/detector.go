package arbitrage

import (
	"fmt"
	"sort"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/indicators"
)

const (
	DefaultCorrelationThreshold = 0.80
	DefaultZThreshold           = 2.0
)

// DetectorConfig holds the pair scan thresholds.
type DetectorConfig struct {
	Window               int
	CorrelationThreshold float64
	ZThreshold           float64
}

func (c *DetectorConfig) applyDefaults() {
	if c.Window == 0 {
		c.Window = indicators.DefaultWindow
	}
	if c.CorrelationThreshold == 0 {
		c.CorrelationThreshold = DefaultCorrelationThreshold
	}
	if c.ZThreshold == 0 {
		c.ZThreshold = DefaultZThreshold
	}
}

func (c DetectorConfig) validate() error {
	if c.Window < 3 {
		return fmt.Errorf("%w: window must be at least 3, got %d", ports.ErrInvalidParameters, c.Window)
	}
	if c.CorrelationThreshold <= -1 || c.CorrelationThreshold >= 1 {
		return fmt.Errorf("%w: correlation threshold %.2f outside (-1, 1)", ports.ErrInvalidParameters, c.CorrelationThreshold)
	}
	if c.ZThreshold <= 0 {
		return fmt.Errorf("%w: z threshold must be positive", ports.ErrInvalidParameters)
	}
	return nil
}

// Detector scans every unordered pair of symbols for a stretched spread.
type Detector struct {
	config DetectorConfig
}

func NewDetector(config DetectorConfig) (*Detector, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Detector{config: config}, nil
}

// Config returns the effective configuration.
func (d *Detector) Config() DetectorConfig {
	return d.config
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	Symbols    []string // symbols with enough history, sorted
	Excluded   []string // symbols dropped for short history
	Evaluated  int      // unordered pairs checked
	PairStates []domain.PairState
	Signals    []*domain.Signal
}

// Scan evaluates each unordered pair of the symbols in closes exactly once,
// using the last Window closes of each. A correlated pair whose spread z-score
// is above +ZThreshold yields SHORT A / LONG B; below -ZThreshold, LONG A / SHORT B.
// The closes are assumed to be already aligned bar for bar.
func (d *Detector) Scan(closes map[string][]float64, at time.Time) ScanResult {
	w := d.config.Window
	lengths := make(map[string]int, len(closes))
	for sym, series := range closes {
		lengths[sym] = len(series)
	}
	return d.pairwise(lengths, func(a, b string) (*domain.PairState, *domain.Signal) {
		sa, sb := closes[a], closes[b]
		return d.evaluate(a, b, sa[len(sa)-w:], sb[len(sb)-w:], at, at)
	})
}

// ScanCandles is Scan over raw candle history. Each pair is joined on
// OpenTime and evaluated over its last Window shared bars, so a bar missing
// from one symbol never shifts the other. Signals are stamped with the
// OpenTime of the newest shared bar; pair states with evaluatedAt. A pair
// with fewer than Window shared bars is counted but yields no state.
func (d *Detector) ScanCandles(history map[string][]*domain.Candle, evaluatedAt time.Time) ScanResult {
	w := d.config.Window
	lengths := make(map[string]int, len(history))
	for sym, candles := range history {
		lengths[sym] = len(candles)
	}
	return d.pairwise(lengths, func(a, b string) (*domain.PairState, *domain.Signal) {
		bars := align(history[a], history[b])
		if len(bars) < w {
			return nil, nil
		}
		bars = bars[len(bars)-w:]
		sa, sb := make([]float64, w), make([]float64, w)
		for i, bar := range bars {
			sa[i], sb[i] = bar.candleA.Close, bar.candleB.Close
		}
		return d.evaluate(a, b, sa, sb, bars[w-1].candleA.OpenTime, evaluatedAt)
	})
}

// pairwise splits symbols by history length and calls eval once per
// unordered pair of the eligible ones, in sorted order.
func (d *Detector) pairwise(lengths map[string]int, eval func(a, b string) (*domain.PairState, *domain.Signal)) ScanResult {
	var res ScanResult
	for sym, n := range lengths {
		if n < d.config.Window {
			res.Excluded = append(res.Excluded, sym)
			continue
		}
		res.Symbols = append(res.Symbols, sym)
	}
	sort.Strings(res.Symbols)
	sort.Strings(res.Excluded)

	for i := 0; i < len(res.Symbols); i++ {
		for j := i + 1; j < len(res.Symbols); j++ {
			res.Evaluated++
			state, sig := eval(res.Symbols[i], res.Symbols[j])
			if state != nil {
				res.PairStates = append(res.PairStates, *state)
			}
			if sig != nil {
				res.Signals = append(res.Signals, sig)
			}
		}
	}
	return res
}

func (d *Detector) evaluate(a, b string, sa, sb []float64, barTime, evaluatedAt time.Time) (*domain.PairState, *domain.Signal) {
	corr, err := indicators.Correlation(sa, sb)
	if err != nil || corr <= d.config.CorrelationThreshold {
		return nil, nil
	}
	state := &domain.PairState{
		SymbolA:     a,
		SymbolB:     b,
		Correlation: corr,
		Status:      domain.SpreadNeutral,
		EvaluatedAt: evaluatedAt.UTC(),
	}
	stats, err := indicators.PairSpread(sa, sb)
	state.SpreadMean, state.SpreadStd, state.ZScore = stats.Mean, stats.Std, stats.ZScore
	if err != nil {
		return state, nil
	}

	var legs string
	switch {
	case stats.ZScore > d.config.ZThreshold:
		state.Status = domain.ShortSpread
		legs = fmt.Sprintf("SHORT %s / LONG %s", a, b)
	case stats.ZScore < -d.config.ZThreshold:
		state.Status = domain.LongSpread
		legs = fmt.Sprintf("LONG %s / SHORT %s", a, b)
	default:
		return state, nil
	}

	rationale := fmt.Sprintf("%s: spread z-score %.2f beyond ±%.2f, correlation %.2f over %d bars",
		legs, stats.ZScore, d.config.ZThreshold, corr, d.config.Window)
	sig := domain.NewSignal(a, b, domain.SignalPairEntry, sa[len(sa)-1], barTime, rationale)
	sig.Direction = state.Status
	sig.CounterpartPrice = sb[len(sb)-1]
	z, c := stats.ZScore, corr
	sig.ZScore, sig.Correlation = &z, &c
	return state, sig
}
