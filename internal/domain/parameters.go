package domain

import (
	"fmt"
	"time"
)

const (
	DefaultFastPeriod = 10
	DefaultSlowPeriod = 30
)

// ParameterSet holds the crossover periods tuned for one symbol.
type ParameterSet struct {
	Symbol     string    `db:"symbol" json:"symbol"`
	FastPeriod int       `db:"fast_period" json:"fast_period"`
	SlowPeriod int       `db:"slow_period" json:"slow_period"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultParameters returns the fallback parameters for a symbol.
func DefaultParameters(symbol string) ParameterSet {
	return ParameterSet{Symbol: symbol, FastPeriod: DefaultFastPeriod, SlowPeriod: DefaultSlowPeriod}
}

// Validate checks that both periods are positive and fast < slow.
func (p ParameterSet) Validate() error {
	if p.FastPeriod <= 0 || p.SlowPeriod <= 0 {
		return fmt.Errorf("periods must be positive (fast=%d, slow=%d)", p.FastPeriod, p.SlowPeriod)
	}
	if p.FastPeriod >= p.SlowPeriod {
		return fmt.Errorf("fast period %d must be less than slow period %d", p.FastPeriod, p.SlowPeriod)
	}
	return nil
}

// String renders the pair of periods, e.g. "SMA(10)/SMA(30)".
func (p ParameterSet) String() string {
	return fmt.Sprintf("SMA(%d)/SMA(%d)", p.FastPeriod, p.SlowPeriod)
}
