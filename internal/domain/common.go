package domain

import (
	"fmt"
	"regexp"
)

// OrderSide represents the side of a trade (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Valid reports whether the side is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == Buy || s == Sell
}

// PositionType is derived from the sign of a position amount.
type PositionType string

const (
	Long  PositionType = "LONG"
	Short PositionType = "SHORT"
)

// SpreadStatus is the state of a correlated pair.
type SpreadStatus string

const (
	SpreadNeutral SpreadStatus = "NEUTRAL"
	LongSpread    SpreadStatus = "LONG_SPREAD"  // long A / short B
	ShortSpread   SpreadStatus = "SHORT_SPREAD" // short A / long B
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ValidSymbol reports whether s looks like an exchange symbol such as "BTCUSDT".
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

// PairKey returns the canonical key of an unordered pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s/%s", a, b)
}
