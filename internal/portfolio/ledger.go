package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/metrics"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

const (
	DefaultMaxAttempts   = 5
	DefaultBackoffBase   = 10 * time.Millisecond
	DefaultBackoffJitter = 10 * time.Millisecond

	// MaxBackoff bounds the exponential part of Backoff unless the base
	// itself is larger.
	MaxBackoff = 5 * time.Second
)

// Config holds the ledger configuration.
type Config struct {
	Store          ports.LedgerStore
	Logger         ports.Logger
	InitialCapital decimal.Decimal // balance assumed while the wallet record is absent
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffJitter  time.Duration
}

// Ledger applies trades to the shared wallet and per-symbol positions using
// optimistic transactions with full-jitter retry.
type Ledger struct {
	store          ports.LedgerStore
	logger         ports.Logger
	initialCapital decimal.Decimal
	maxAttempts    int
	base           time.Duration
	jitter         time.Duration

	sleep  func(time.Duration)
	random func(n int64) int64
	now    func() time.Time
	newID  func() string
}

// TradeResult describes an applied trade.
type TradeResult struct {
	Symbol    string
	Side      domain.OrderSide
	NewAmount decimal.Decimal
	Balance   decimal.Decimal
	Equity    decimal.Decimal
	Attempts  int
	Entry     *domain.LedgerEntry
}

// NewLedger creates a ledger over store.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: ledger store is required", ports.ErrConfigurationError)
	}
	if cfg.InitialCapital.IsNegative() {
		return nil, fmt.Errorf("%w: initial capital cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffJitter < 0 {
		cfg.BackoffJitter = 0
	}
	return &Ledger{
		store:          cfg.Store,
		logger:         cfg.Logger,
		initialCapital: cfg.InitialCapital,
		maxAttempts:    cfg.MaxAttempts,
		base:           cfg.BackoffBase,
		jitter:         cfg.BackoffJitter,
		sleep:          time.Sleep,
		random:         rand.Int64N,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}, nil
}

// Backoff is the wait before retry number attempt (0-based):
// min(base * 2^attempt, MaxBackoff) + uniform(0, jitter).
func (l *Ledger) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := MaxBackoff
	if l.base > MaxBackoff {
		wait = l.base
	} else if attempt < 63 && l.base <= MaxBackoff>>uint(attempt) {
		wait = l.base << uint(attempt)
	}
	if l.jitter > 0 {
		wait += time.Duration(l.random(int64(l.jitter) + 1))
	}
	return wait
}

func validateTrade(symbol string, side domain.OrderSide, price, amount decimal.Decimal) error {
	if !domain.ValidSymbol(symbol) {
		return fmt.Errorf("%w: %q", ports.ErrInvalidSymbol, symbol)
	}
	if !side.Valid() {
		return fmt.Errorf("%w: side %q", ports.ErrInvalidParameters, side)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ports.ErrInvalidParameters, price)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ports.ErrInvalidParameters, amount)
	}
	return nil
}

// ApplyTrade atomically applies a fill to the wallet and the symbol's position.
//
// BUY against a flat or long position requires balance >= price*amount and
// fails with ports.ErrInsufficientFunds otherwise; BUY against a short and
// every SELL settle unconditionally. A write conflict is retried with
// full-jitter backoff up to the configured attempts, after which
// ports.ErrLedgerBusy is returned. Once started, the transaction is not
// cancelled by ctx.
func (l *Ledger) ApplyTrade(ctx context.Context, symbol string, side domain.OrderSide, price, amount decimal.Decimal) (*TradeResult, error) {
	op := "ApplyTrade"
	if err := validateTrade(symbol, side, price, amount); err != nil {
		metrics.LedgerOutcomes.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx = context.WithoutCancel(ctx)

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		var result *TradeResult
		err := l.store.Transact(ctx, symbol, func(snap ports.LedgerSnapshot) (*ports.LedgerMutation, error) {
			mut, res, err := l.settle(snap, symbol, side, price, amount)
			result = res
			return mut, err
		})
		switch {
		case err == nil:
			result.Attempts = attempt + 1
			metrics.LedgerAttempts.Observe(float64(result.Attempts))
			metrics.LedgerOutcomes.WithLabelValues("applied").Inc()
			metrics.EquityGauge.Set(result.Equity.InexactFloat64())
			l.logger.Info(ctx, "Trade applied", map[string]interface{}{
				"symbol":     symbol,
				"side":       side,
				"price":      price.String(),
				"amount":     amount.String(),
				"new_amount": result.NewAmount.String(),
				"balance":    result.Balance.String(),
				"attempts":   result.Attempts,
			})
			return result, nil
		case errors.Is(err, ports.ErrLedgerConflict):
			metrics.LedgerOutcomes.WithLabelValues("conflict").Inc()
			if attempt == l.maxAttempts-1 {
				break
			}
			wait := l.Backoff(attempt)
			l.logger.Debug(ctx, "Ledger conflict, retrying", map[string]interface{}{
				"symbol":  symbol,
				"attempt": attempt + 1,
				"wait":    wait.String(),
			})
			l.sleep(wait)
		case errors.Is(err, ports.ErrInsufficientFunds):
			metrics.LedgerOutcomes.WithLabelValues("insufficient_funds").Inc()
			return nil, fmt.Errorf("%s: %w", op, err)
		default:
			metrics.LedgerOutcomes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	metrics.LedgerOutcomes.WithLabelValues("busy").Inc()
	l.logger.Warn(ctx, "Ledger busy after retries", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"attempts": l.maxAttempts,
	})
	return nil, fmt.Errorf("%s: %w after %d attempts", op, ports.ErrLedgerBusy, l.maxAttempts)
}

// settle computes the writes for one trade from a snapshot. It never mutates snap.
func (l *Ledger) settle(snap ports.LedgerSnapshot, symbol string, side domain.OrderSide, price, amount decimal.Decimal) (*ports.LedgerMutation, *TradeResult, error) {
	balance, equity := l.initialCapital, l.initialCapital
	if snap.Wallet != nil {
		balance, equity = snap.Wallet.USDTBalance, snap.Wallet.TotalEquity
	}
	old, oldPrice := decimal.Zero, price
	if snap.Position != nil {
		old, oldPrice = snap.Position.Amount, snap.Position.CurrentPrice
	}

	cost := price.Mul(amount)
	var next decimal.Decimal
	switch side {
	case domain.Buy:
		if !old.IsNegative() && balance.LessThan(cost) {
			return nil, nil, fmt.Errorf("%w: cost %s exceeds balance %s", ports.ErrInsufficientFunds, cost, balance)
		}
		balance = balance.Sub(cost)
		next = old.Add(amount)
	case domain.Sell:
		balance = balance.Add(cost)
		next = old.Sub(amount)
	}

	// The fill itself is value neutral; only the revaluation of the existing
	// holding at the new price moves equity.
	equity = equity.Add(old.Mul(price.Sub(oldPrice)))

	now := l.now().UTC()
	var pos *domain.Position
	if next.Abs().LessThan(domain.PositionEpsilon) {
		// dust is written off so equity stays balance + sum(amount*price)
		equity = equity.Sub(next.Mul(price))
		next = decimal.Zero
	} else {
		pos = &domain.Position{
			Symbol:       symbol,
			Amount:       next,
			AvgPrice:     price,
			CurrentPrice: price,
			Type:         domain.TypeFor(next),
			UpdatedAt:    now,
		}
	}

	entry := &domain.LedgerEntry{
		ID:            l.newID(),
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Amount:        amount,
		Cost:          cost,
		BalanceAfter:  balance,
		PositionAfter: next,
		CreatedAt:     now,
	}
	mut := &ports.LedgerMutation{
		Wallet:   domain.WalletState{USDTBalance: balance, TotalEquity: equity, UpdatedAt: now},
		Position: pos,
		Entry:    entry,
	}
	res := &TradeResult{
		Symbol:    symbol,
		Side:      side,
		NewAmount: next,
		Balance:   balance,
		Equity:    equity,
		Entry:     entry,
	}
	return mut, res, nil
}

// Wallet returns the current wallet, or one holding the initial capital if
// nothing was written yet.
func (l *Ledger) Wallet(ctx context.Context) (*domain.WalletState, error) {
	w, err := l.store.Wallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("Wallet: %w", err)
	}
	if w == nil {
		return &domain.WalletState{USDTBalance: l.initialCapital, TotalEquity: l.initialCapital}, nil
	}
	return w, nil
}

// Positions lists every open position.
func (l *Ledger) Positions(ctx context.Context) ([]*domain.Position, error) {
	positions, err := l.store.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("Positions: %w", err)
	}
	return positions, nil
}

// Position returns the position for symbol or nil when flat.
func (l *Ledger) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	positions, err := l.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, nil
}

// Journal returns up to limit of the most recent ledger entries.
func (l *Ledger) Journal(ctx context.Context, limit int) ([]*domain.LedgerEntry, error) {
	entries, err := l.store.Journal(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("Journal: %w", err)
	}
	return entries, nil
}

// Equity recomputes balance + sum(amount*current_price) from stored records.
func (l *Ledger) Equity(ctx context.Context) (decimal.Decimal, error) {
	w, err := l.Wallet(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	positions, err := l.Positions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := w.USDTBalance
	for _, p := range positions {
		total = total.Add(p.MarketValue())
	}
	return total, nil
}
