package backtesting

import (
	"fmt"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/analytics"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/strategies"
)

// DefaultCapital is the starting capital of optimizer backtests.
const DefaultCapital = 1000.0

// Result holds the outcome of a backtest.
type Result struct {
	Symbol         string
	Parameters     domain.ParameterSet
	InitialCapital float64
	FinalCapital   float64
	TotalReturnPct float64
	WinRatePct     float64 // over closed round trips
	TradeCount     int     // closed round trips
	Trades         []*domain.Trade
	OpenTrade      *domain.Trade // position still held at the last bar, marked to market
	EquityCurve    []analytics.EquityPoint
	Metrics        *analytics.PerformanceMetrics
}

// RunCrossover replays the crossover state machine over candles: all-in on
// a golden cross, full exit on a death cross. It has no side effects and does
// not read the clock, so the same input always gives the same result.
func RunCrossover(symbol string, candles []*domain.Candle, capital float64, params domain.ParameterSet) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidParameters, err)
	}
	if capital <= 0 {
		return nil, fmt.Errorf("%w: capital must be positive", ports.ErrInvalidParameters)
	}

	candles = nonNil(candles)
	closes := domain.Closes(candles)
	res := &Result{
		Symbol:         symbol,
		Parameters:     params,
		InitialCapital: capital,
		EquityCurve:    make([]analytics.EquityPoint, 0, len(closes)),
	}
	sim := replay(closes, capital, params.FastPeriod, params.SlowPeriod, func(i int, equity float64) {
		res.EquityCurve = append(res.EquityCurve, analytics.EquityPoint{Index: i, Time: candles[i].OpenTime, Value: equity})
	})

	for _, rt := range sim.trips {
		trade := &domain.Trade{
			Symbol:     symbol,
			EntryPrice: rt.entryPrice,
			ExitPrice:  rt.exitPrice,
			Quantity:   rt.qty,
			PNL:        (rt.exitPrice - rt.entryPrice) * rt.qty,
			EntryIndex: rt.entry,
			ExitIndex:  rt.exit,
			EntryTime:  candles[rt.entry].OpenTime,
			ExitTime:   candles[rt.exit].OpenTime,
			Open:       rt.open,
		}
		if rt.open {
			res.OpenTrade = trade
			continue
		}
		res.Trades = append(res.Trades, trade)
	}

	res.FinalCapital = sim.final
	res.TotalReturnPct = (sim.final - capital) / capital * 100
	res.TradeCount = len(res.Trades)
	res.Metrics = analytics.AnalyzePerformance(res.Trades, capital)
	res.WinRatePct = res.Metrics.WinRate * 100
	values := make([]float64, len(res.EquityCurve))
	for i, p := range res.EquityCurve {
		values[i] = p.Value
	}
	res.Metrics.MaxDrawdown = analytics.MaxDrawdown(values)
	return res, nil
}

func nonNil(candles []*domain.Candle) []*domain.Candle {
	out := make([]*domain.Candle, 0, len(candles))
	for _, c := range candles {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// FinalCapital runs the same replay over bare closes and returns only the
// ending capital. It is the inner loop of the grid search.
func FinalCapital(closes []float64, capital float64, fast, slow int) float64 {
	return replay(closes, capital, fast, slow, nil).final
}

type roundTrip struct {
	entry, exit           int
	entryPrice, exitPrice float64
	qty                   float64
	open                  bool
}

type simulation struct {
	final float64
	trips []roundTrip
}

func replay(closes []float64, capital float64, fast, slow int, onBar func(i int, equity float64)) simulation {
	var sim simulation
	cash, qty := capital, 0.0
	var cur roundTrip
	long := false

	for i := range closes {
		price := closes[i]
		if i > 0 {
			point, err := strategies.DetectCross(closes, fast, slow, i)
			if err == nil {
				switch {
				case !long && point.Cross == strategies.GoldenCross && price > 0:
					qty = cash / price
					cash = 0
					long = true
					cur = roundTrip{entry: i, entryPrice: price, qty: qty}
				case long && point.Cross == strategies.DeathCross:
					cash = qty * price
					qty = 0
					long = false
					cur.exit, cur.exitPrice = i, price
					sim.trips = append(sim.trips, cur)
				}
			}
		}
		if onBar != nil {
			onBar(i, cash+qty*price)
		}
	}

	sim.final = cash
	if long {
		last := len(closes) - 1
		sim.final = cash + qty*closes[last]
		cur.exit, cur.exitPrice, cur.open = last, closes[last], true
		sim.trips = append(sim.trips, cur)
	}
	return sim
}
