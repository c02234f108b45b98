package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// RiskConfig holds configuration for paper-trade sizing
type RiskConfig struct {
	PositionSizePercent float64 // fraction of the free balance committed per entry
	MaxPositionNotional float64 // cap on a single entry's notional, 0 for none
	MaxOpenPositions    int     // 0 for no limit
}

// Sizer turns signals into trade amounts.
type Sizer struct {
	config RiskConfig
}

// NewSizer creates a sizer after validating its configuration.
func NewSizer(config RiskConfig) (*Sizer, error) {
	if config.PositionSizePercent <= 0 || config.PositionSizePercent > 1 {
		return nil, fmt.Errorf("position size percent must be in (0, 1], got %f", config.PositionSizePercent)
	}
	if config.MaxPositionNotional < 0 {
		return nil, fmt.Errorf("max position notional cannot be negative")
	}
	if config.MaxOpenPositions < 0 {
		return nil, fmt.Errorf("max open positions cannot be negative")
	}
	return &Sizer{config: config}, nil
}

// EntryNotional is the quote amount to commit for a new entry.
func (s *Sizer) EntryNotional(balance decimal.Decimal) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	notional := balance.Mul(decimal.NewFromFloat(s.config.PositionSizePercent))
	if s.config.MaxPositionNotional > 0 {
		notional = decimal.Min(notional, decimal.NewFromFloat(s.config.MaxPositionNotional))
	}
	return notional
}

// EntryAmount converts EntryNotional to a base amount at price, truncated to 8 decimals.
func (s *Sizer) EntryAmount(balance, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return s.EntryNotional(balance).Div(price).Truncate(8)
}

// ExitAmount is the amount needed to flatten pos.
func (s *Sizer) ExitAmount(pos *domain.Position) decimal.Decimal {
	if pos.IsFlat() {
		return decimal.Zero
	}
	return pos.Amount.Abs()
}

// CanOpen reports whether another position may be opened.
func (s *Sizer) CanOpen(openPositions int) error {
	if s.config.MaxOpenPositions > 0 && openPositions >= s.config.MaxOpenPositions {
		return fmt.Errorf("number of open positions %d reaches maximum allowed %d", openPositions, s.config.MaxOpenPositions)
	}
	return nil
}
