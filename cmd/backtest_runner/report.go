package main

import (
	"context"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/arbitrage"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/backtesting"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/indicators"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/optimization"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle(title)
	return t
}

func renderCrossover(w io.Writer, res *backtesting.Result, bars int) {
	t := newTable(w, "Crossover "+res.Symbol+" "+res.Parameters.String())
	t.AppendRows([]table.Row{
		{"Bars", bars},
		{"Initial capital", format2(res.InitialCapital)},
		{"Final capital", format2(res.FinalCapital)},
		{"Return %", format2(res.TotalReturnPct)},
		{"Round trips", res.TradeCount},
		{"Win rate %", format2(res.WinRatePct)},
	})
	if m := res.Metrics; m != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Profit factor", format2(m.ProfitFactor)},
			{"Expectancy", format2(m.Expectancy)},
			{"Max drawdown %", format2(m.MaxDrawdown * 100)},
			{"Max consecutive losses", m.MaxConsecutiveLosses},
			{"Avg trade duration", m.AverageTradeDuration.String()},
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

func movingAverage(kind indicators.MovingAverageType, period int) indicators.Indicator {
	return indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: period},
		Type:            kind,
	})
}

// renderIndicators prints the crossover's inputs at the last bar. Indicators
// without enough history show n/a.
func renderIndicators(ctx context.Context, w io.Writer, candles []*domain.Candle, params domain.ParameterSet) {
	set := []indicators.Indicator{
		movingAverage(indicators.SimpleMovingAverage, params.FastPeriod),
		movingAverage(indicators.SimpleMovingAverage, params.SlowPeriod),
		movingAverage(indicators.ExponentialMovingAverage, params.SlowPeriod),
		indicators.NewRSI(indicators.RSIConfig{}),
	}
	t := newTable(w, "Indicators at last bar")
	t.AppendHeader(table.Row{"Indicator", "Value", "Zone"})
	for _, ind := range set {
		value, zone := "n/a", ""
		if len(candles) >= ind.RequiredDataPoints() {
			if v, err := ind.Calculate(ctx, candles); err == nil {
				value = format4(v)
				if rsi, ok := ind.(*indicators.RSIIndicator); ok {
					zone = rsi.Zone(v)
				}
			}
		}
		t.AppendRow(table.Row{ind.Name(), value, zone})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

func renderPairs(w io.Writer, res *arbitrage.BacktestResult) {
	t := newTable(w, "Pairs "+domain.PairKey(res.SymbolA, res.SymbolB))
	t.AppendRows([]table.Row{
		{"Aligned bars", res.Bars},
		{"Initial capital", format2(res.InitialCapital)},
		{"Final capital", format2(res.FinalCapital)},
		{"Return %", format2(res.TotalReturnPct)},
		{"Round trips", res.TradeCount},
		{"Win rate %", format2(res.WinRatePct)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

func renderTrades(w io.Writer, trades []*domain.Trade, open *domain.Trade) {
	t := newTable(w, "Trades")
	t.AppendHeader(table.Row{"#", "Symbol", "Direction", "Entry", "Exit", "Qty", "PNL", "Entered", "Exited"})
	all := trades
	if open != nil {
		all = append(append([]*domain.Trade{}, trades...), open)
	}
	total := 0.0
	for i, tr := range all {
		exited := tr.ExitTime.Format("2006-01-02 15:04")
		if tr.Open {
			exited = "open"
		}
		dir := string(tr.Direction)
		if dir == "" {
			dir = "LONG"
		}
		t.AppendRow(table.Row{i + 1, tr.Symbol, dir, format4(tr.EntryPrice), format4(tr.ExitPrice), format4(tr.Quantity), format2(tr.PNL), tr.EntryTime.Format("2006-01-02 15:04"), exited})
		total += tr.PNL
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", format2(total), "", ""})
	t.Render()
}

func renderOptimization(w io.Writer, results []*optimization.OptimizationResult, capital float64) {
	t := newTable(w, "Walk-forward grid search")
	t.AppendHeader(table.Row{"Symbol", "Fast", "Slow", "Final capital", "Return %", "Evaluated", "Note"})
	for _, r := range results {
		note := ""
		if r.Defaulted {
			note = "no history, defaults"
		}
		ret := 0.0
		if capital > 0 {
			ret = (r.FinalCapital - capital) / capital * 100
		}
		t.AppendRow(table.Row{r.Parameters.Symbol, r.Parameters.FastPeriod, r.Parameters.SlowPeriod, format2(r.FinalCapital), format2(ret), r.Evaluated, note})
	}
	t.Render()
}
