package arbitrage

import (
	"fmt"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/analytics"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/indicators"
)

// BacktestConfig configures a pairs replay.
type BacktestConfig struct {
	Capital    float64
	Window     int
	ZThreshold float64
}

// BacktestResult summarizes a pairs replay.
type BacktestResult struct {
	SymbolA        string
	SymbolB        string
	Bars           int
	InitialCapital float64
	FinalCapital   float64
	TotalReturnPct float64
	WinRatePct     float64
	TradeCount     int
	Trades         []*domain.Trade
	OpenTrade      *domain.Trade
	EquityCurve    []analytics.EquityPoint
}

type pairBar struct {
	candleA, candleB *domain.Candle
}

// align joins both series on OpenTime, keeping A's order.
func align(a, b []*domain.Candle) []pairBar {
	byTime := make(map[int64]*domain.Candle, len(b))
	for _, c := range b {
		if c != nil {
			byTime[c.OpenTime.UnixNano()] = c
		}
	}
	out := make([]pairBar, 0, len(a))
	for _, c := range a {
		if c == nil {
			continue
		}
		if other, ok := byTime[c.OpenTime.UnixNano()]; ok {
			out = append(out, pairBar{c, other})
		}
	}
	return out
}

// Backtest replays the spread state machine bar by bar. From NEUTRAL it
// enters when the rolling z-score passes ±ZThreshold, splitting equity evenly
// across both legs, and exits when z crosses zero. Realized equity after an
// exit is entry equity plus posA*(pA-entryA) + posB*(pB-entryB).
func Backtest(symbolA, symbolB string, a, b []*domain.Candle, cfg BacktestConfig) (*BacktestResult, error) {
	if cfg.Window == 0 {
		cfg.Window = indicators.DefaultWindow
	}
	if cfg.ZThreshold == 0 {
		cfg.ZThreshold = DefaultZThreshold
	}
	if cfg.Capital <= 0 || cfg.Window < 3 || cfg.ZThreshold < 0 {
		return nil, fmt.Errorf("%w: capital %.2f, window %d, z %.2f", ports.ErrInvalidParameters, cfg.Capital, cfg.Window, cfg.ZThreshold)
	}

	bars := align(a, b)
	res := &BacktestResult{
		SymbolA:        symbolA,
		SymbolB:        symbolB,
		Bars:           len(bars),
		InitialCapital: cfg.Capital,
		EquityCurve:    make([]analytics.EquityPoint, 0, len(bars)),
	}
	pa := make([]float64, len(bars))
	pb := make([]float64, len(bars))
	for i, bar := range bars {
		pa[i], pb[i] = bar.candleA.Close, bar.candleB.Close
	}

	equity := cfg.Capital
	status := domain.SpreadNeutral
	var posA, posB, entryA, entryB, entryEquity float64
	var open *domain.Trade

	mark := func(i int) float64 {
		return posA*(pa[i]-entryA) + posB*(pb[i]-entryB)
	}

	for i := range bars {
		if i >= cfg.Window-1 {
			stats, err := indicators.PairSpread(pa[i-cfg.Window+1:i+1], pb[i-cfg.Window+1:i+1])
			if err == nil {
				z := stats.ZScore
				switch status {
				case domain.SpreadNeutral:
					if z > cfg.ZThreshold || z < -cfg.ZThreshold {
						status = domain.ShortSpread
						sign := -1.0
						if z < 0 {
							status = domain.LongSpread
							sign = 1.0
						}
						entryEquity = equity
						entryA, entryB = pa[i], pb[i]
						posA = sign * (equity / 2) / entryA
						posB = -sign * (equity / 2) / entryB
						open = &domain.Trade{
							Symbol:      symbolA,
							Counterpart: symbolB,
							Direction:   status,
							EntryPrice:  entryA,
							Quantity:    posA,
							EntryIndex:  i,
							EntryTime:   bars[i].candleA.OpenTime,
						}
					}
				case domain.ShortSpread, domain.LongSpread:
					if (status == domain.ShortSpread && z <= 0) || (status == domain.LongSpread && z >= 0) {
						pnl := mark(i)
						equity = entryEquity + pnl
						open.ExitPrice = pa[i]
						open.ExitIndex = i
						open.ExitTime = bars[i].candleA.OpenTime
						open.PNL = pnl
						res.Trades = append(res.Trades, open)
						open = nil
						posA, posB = 0, 0
						status = domain.SpreadNeutral
					}
				}
			}
		}
		value := equity
		if status != domain.SpreadNeutral {
			value = entryEquity + mark(i)
		}
		res.EquityCurve = append(res.EquityCurve, analytics.EquityPoint{
			Index: i,
			Time:  bars[i].candleA.OpenTime,
			Value: value,
		})
	}

	res.FinalCapital = equity
	if open != nil {
		last := len(bars) - 1
		open.PNL = mark(last)
		open.ExitPrice = pa[last]
		open.ExitIndex = last
		open.ExitTime = bars[last].candleA.OpenTime
		open.Open = true
		res.OpenTrade = open
		res.FinalCapital = entryEquity + open.PNL
	}

	res.TradeCount = len(res.Trades)
	res.TotalReturnPct = (res.FinalCapital - cfg.Capital) / cfg.Capital * 100
	if res.TradeCount > 0 {
		wins := 0
		for _, t := range res.Trades {
			if t.PNL > 0 {
				wins++
			}
		}
		res.WinRatePct = float64(wins) / float64(res.TradeCount) * 100
	}
	return res, nil
}
