package domain

import "time"

// Candle represents a single OHLCV bar for a symbol.
// IsFinal is set by the stream once the interval has closed.
type Candle struct {
	OpenTime  time.Time `db:"open_time"`
	CloseTime time.Time `db:"close_time"`
	Symbol    string    `db:"symbol"`
	Interval  string    `db:"interval"`
	Open      float64   `db:"open"`
	High      float64   `db:"high"`
	Low       float64   `db:"low"`
	Close     float64   `db:"close"`
	Volume    float64   `db:"volume"`
	IsFinal   bool      `db:"-"`
}

// Closes extracts the close prices of candles, oldest first.
func Closes(candles []*Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		if c == nil {
			continue
		}
		out = append(out, c.Close)
	}
	return out
}
