package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

var barStart = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func series(symbol string, closes []float64) []*domain.Candle {
	out := make([]*domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = &domain.Candle{Symbol: symbol, OpenTime: barStart.Add(time.Duration(i) * time.Hour), Close: c, IsFinal: true}
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var spikeA = []float64{100, 101, 100, 101, 100, 101, 110, 100, 101, 100}

func TestBacktest_ShortSpreadRoundTrip(t *testing.T) {
	cfg := BacktestConfig{Capital: 1000, Window: 5, ZThreshold: 1.5}
	res, err := Backtest("BTC", "ETH", series("BTC", spikeA), series("ETH", flat(len(spikeA), 100)), cfg)
	require.NoError(t, err)

	require.Equal(t, 1, res.TradeCount)
	trade := res.Trades[0]
	assert.Equal(t, domain.ShortSpread, trade.Direction)
	assert.Equal(t, 6, trade.EntryIndex)
	assert.Equal(t, 7, trade.ExitIndex)
	assert.Equal(t, 110.0, trade.EntryPrice)
	assert.Equal(t, 100.0, trade.ExitPrice)
	assert.InDelta(t, -500.0/110.0, trade.Quantity, 1e-9)
	assert.InDelta(t, 5000.0/110.0, trade.PNL, 1e-9)

	assert.InDelta(t, 1000+5000.0/110.0, res.FinalCapital, 1e-9)
	assert.InDelta(t, 500.0/110.0, res.TotalReturnPct, 1e-9)
	assert.Equal(t, 100.0, res.WinRatePct)
	assert.Nil(t, res.OpenTrade)
	require.Len(t, res.EquityCurve, len(spikeA))
	assert.Equal(t, 1000.0, res.EquityCurve[6].Value)
	assert.InDelta(t, res.FinalCapital, res.EquityCurve[9].Value, 1e-9)
}

func TestBacktest_OpenPositionMarkedToMarket(t *testing.T) {
	a := spikeA[:7]
	cfg := BacktestConfig{Capital: 1000, Window: 5, ZThreshold: 1.5}
	res, err := Backtest("BTC", "ETH", series("BTC", a), series("ETH", flat(len(a), 100)), cfg)
	require.NoError(t, err)

	assert.Zero(t, res.TradeCount)
	require.NotNil(t, res.OpenTrade)
	assert.True(t, res.OpenTrade.Open)
	assert.Equal(t, 1000.0, res.FinalCapital)
	assert.Zero(t, res.WinRatePct)
}

func TestBacktest_AlignsOnTimestamps(t *testing.T) {
	a := series("BTC", spikeA)
	b := series("ETH", flat(len(spikeA), 100))
	b = append(b[:2], b[3:]...)

	res, err := Backtest("BTC", "ETH", a, b, BacktestConfig{Capital: 1000, Window: 5, ZThreshold: 1.5})
	require.NoError(t, err)
	assert.Equal(t, len(spikeA)-1, res.Bars)
}

func TestBacktest_Deterministic(t *testing.T) {
	a := series("BTC", trending(100, 0.3, 300, 0))
	b := series("ETH", zigzag(300))
	cfg := BacktestConfig{Capital: 1000}
	first, err := Backtest("BTC", "ETH", a, b, cfg)
	require.NoError(t, err)
	second, err := Backtest("BTC", "ETH", a, b, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.FinalCapital, second.FinalCapital)
	assert.Equal(t, first.TradeCount, second.TradeCount)
}

func TestBacktest_InvalidConfig(t *testing.T) {
	_, err := Backtest("BTC", "ETH", nil, nil, BacktestConfig{})
	assert.ErrorIs(t, err, ports.ErrInvalidParameters)

	res, err := Backtest("BTC", "ETH", nil, nil, BacktestConfig{Capital: 500})
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.FinalCapital)
	assert.Zero(t, res.Bars)
}
