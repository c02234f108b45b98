package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CandlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_candles_total",
			Help: "Closed candles consumed by the signal generator.",
		},
		[]string{"symbol"},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals emitted, by source and kind.",
		},
		[]string{"source", "kind"},
	)

	LedgerAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_ledger_attempts",
			Help:    "Transaction attempts needed per ApplyTrade call.",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	LedgerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_ledger_trades_total",
			Help: "ApplyTrade results by outcome (applied, conflict, busy, insufficient_funds, invalid, error).",
		},
		[]string{"outcome"},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_wallet_equity",
			Help: "Total equity of the shared wallet after the last applied trade.",
		},
	)

	OptimizerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_optimizer_runs_total",
			Help: "Walk-forward optimizations per symbol and result.",
		},
		[]string{"symbol", "result"},
	)

	PairsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_pairs_evaluated_total",
			Help: "Unordered symbol pairs evaluated by the arbitrage scanner.",
		},
	)

	UpstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_upstream_failures_total",
			Help: "Failed calls to market data or history sources.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		CandlesTotal,
		SignalsTotal,
		LedgerAttempts,
		LedgerOutcomes,
		EquityGauge,
		OptimizerRuns,
		PairsEvaluated,
		UpstreamFailures,
	)
}
