package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionEpsilon is the magnitude below which a position is considered flat.
var PositionEpsilon = decimal.New(1, -5)

// WalletState is the single shared account balance.
type WalletState struct {
	USDTBalance decimal.Decimal `json:"usdt_balance"`
	TotalEquity decimal.Decimal `json:"total_equity"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Position is the signed holding of one symbol: positive is long, negative is short.
type Position struct {
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Type         PositionType    `json:"type"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsFlat reports whether the amount is below PositionEpsilon.
func (p *Position) IsFlat() bool {
	return p == nil || p.Amount.Abs().LessThan(PositionEpsilon)
}

// MarketValue is amount * current price (negative for shorts).
func (p *Position) MarketValue() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Amount.Mul(p.CurrentPrice)
}

// TypeFor derives LONG or SHORT from the sign of amount.
func TypeFor(amount decimal.Decimal) PositionType {
	if amount.IsNegative() {
		return Short
	}
	return Long
}

// LedgerEntry is the journal record committed with every applied trade.
type LedgerEntry struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Cost          decimal.Decimal `json:"cost"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	PositionAfter decimal.Decimal `json:"position_after"`
	CreatedAt     time.Time       `json:"created_at"`
}
