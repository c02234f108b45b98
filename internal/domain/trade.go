package domain

import "time"

// Trade represents a completed simulated round trip.
type Trade struct {
	Symbol      string
	Counterpart string       // second leg for pair trades
	Direction   SpreadStatus // pair trades only
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	PNL         float64
	EntryIndex  int
	ExitIndex   int
	EntryTime   time.Time
	ExitTime    time.Time
	Open        bool // still open at the end of the replay, marked to market
}

// PairState is the detector's view of a correlated pair for one scan.
type PairState struct {
	SymbolA     string       `db:"symbol_a" json:"symbol_a"`
	SymbolB     string       `db:"symbol_b" json:"symbol_b"`
	Correlation float64      `db:"correlation" json:"correlation"`
	SpreadMean  float64      `db:"spread_mean" json:"spread_mean"`
	SpreadStd   float64      `db:"spread_std" json:"spread_std"`
	ZScore      float64      `db:"z_score" json:"z_score"`
	Status      SpreadStatus `db:"status" json:"status"`
	EvaluatedAt time.Time    `db:"evaluated_at" json:"evaluated_at"`
}
