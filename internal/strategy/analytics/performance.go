package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// PerformanceMetrics summarizes the closed round trips of a simulation.
type PerformanceMetrics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64 // fraction of closed trades with PNL > 0
	TotalProfit        float64
	GrossProfit        float64
	GrossLoss          float64
	MaxDrawdown        float64 // fraction of peak balance
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	Expectancy         float64
	FinalBalance       float64
	ReturnOnInvestment float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	MonthlyReturns       map[string]float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Index    int
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates performance metrics from trades.
// Trades still open at the end of a replay are ignored.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t != nil && !t.Open {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return metrics
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].ExitIndex < closed[j].ExitIndex
	})

	balance := initialBalance
	peak := initialBalance
	var wins, losses int
	var totalDuration time.Duration

	for _, trade := range closed {
		metrics.TotalTrades++
		if trade.PNL > 0 {
			metrics.WinningTrades++
			metrics.GrossProfit += trade.PNL
			wins++
			losses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss -= trade.PNL
			losses++
			wins = 0
		}
		if wins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = wins
		}
		if losses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = losses
		}

		balance += trade.PNL
		metrics.TotalProfit += trade.PNL
		if !trade.ExitTime.IsZero() {
			metrics.MonthlyReturns[trade.ExitTime.Format("2006-01")] += trade.PNL
			totalDuration += trade.ExitTime.Sub(trade.EntryTime)
		}

		peak = math.Max(peak, balance)
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - balance) / peak
		}
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Index:    trade.ExitIndex,
			Time:     trade.ExitTime,
			Value:    balance,
			Drawdown: drawdown,
		})
	}

	metrics.FinalBalance = balance
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss > 0 {
		metrics.ProfitFactor = metrics.GrossProfit / metrics.GrossLoss
	}
	metrics.Expectancy = metrics.TotalProfit / float64(metrics.TotalTrades)
	if initialBalance != 0 {
		metrics.ReturnOnInvestment = (balance - initialBalance) / initialBalance
	}
	metrics.AverageTradeDuration = totalDuration / time.Duration(len(closed))
	return metrics
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MaxDrawdown returns the deepest peak-to-trough fall of an equity series.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak)
		}
	}
	return worst
}
