package domain

import (
	"crypto/sha256"
	"strconv"
	"time"

	"github.com/jxskiss/base62"
)

// SignalKind identifies what a signal asks the execution side to do.
type SignalKind string

const (
	SignalBuy       SignalKind = "BUY"
	SignalSell      SignalKind = "SELL"
	SignalPairEntry SignalKind = "PAIR_ENTRY"
)

// Signal is an append-only trading decision.
// Pair entries carry the second leg in Counterpart and the spread statistics.
type Signal struct {
	ID               string       `db:"id" json:"id"`
	Symbol           string       `db:"symbol" json:"symbol"`
	Counterpart      string       `db:"counterpart" json:"counterpart"`
	Kind             SignalKind   `db:"kind" json:"kind"`
	Direction        SpreadStatus `db:"direction" json:"direction"`
	Price            float64      `db:"price" json:"price"`
	CounterpartPrice float64      `db:"counterpart_price" json:"counterpart_price"`
	Timestamp        time.Time    `db:"ts" json:"ts"`
	Rationale        string       `db:"rationale" json:"rationale"`
	Correlation      *float64     `db:"correlation" json:"correlation,omitempty"`
	ZScore           *float64     `db:"z_score" json:"z_score,omitempty"`
}

// NewSignal builds a signal whose ID is derived from its identity fields, so
// a redelivered signal always carries the same ID.
func NewSignal(symbol, counterpart string, kind SignalKind, price float64, ts time.Time, rationale string) *Signal {
	s := &Signal{
		Symbol:      symbol,
		Counterpart: counterpart,
		Kind:        kind,
		Price:       price,
		Timestamp:   ts.UTC(),
		Rationale:   rationale,
	}
	s.ID = SignalID(symbol, counterpart, kind, ts)
	return s
}

// SignalID hashes the identity of a signal into a short base62 string.
func SignalID(symbol, counterpart string, kind SignalKind, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(counterpart))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ts.UnixNano(), 10)))
	return base62.EncodeToString(h.Sum(nil)[:16])
}

// IsPair reports whether the signal has two legs.
func (s *Signal) IsPair() bool {
	return s.Kind == SignalPairEntry
}
