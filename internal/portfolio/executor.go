package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/risk"
)

const defaultSeenLimit = 10000

// Executor paper-trades signals against the ledger.
type Executor struct {
	ledger *Ledger
	sizer  *risk.Sizer
	logger ports.Logger

	mu        sync.Mutex
	seen      map[string]struct{}
	seenLimit int
}

// NewExecutor creates an executor that sizes entries with sizer.
func NewExecutor(ledger *Ledger, sizer *risk.Sizer, logger ports.Logger) (*Executor, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for executor")
	}
	if ledger == nil || sizer == nil {
		return nil, fmt.Errorf("%w: ledger and sizer are required", ports.ErrConfigurationError)
	}
	return &Executor{
		ledger:    ledger,
		sizer:     sizer,
		logger:    logger,
		seen:      make(map[string]struct{}),
		seenLimit: defaultSeenLimit,
	}, nil
}

// SetSeenLimit bounds the dedup set; it is cleared once it reaches n IDs.
func (e *Executor) SetSeenLimit(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seenLimit = n
}

// Append implements ports.SignalSink.
func (e *Executor) Append(ctx context.Context, sig *domain.Signal) error {
	return e.Handle(ctx, sig)
}

// Handle executes sig once. Signals are deduplicated by ID; a signal that
// failed with a retryable error may be handled again.
func (e *Executor) Handle(ctx context.Context, sig *domain.Signal) error {
	if sig == nil {
		return fmt.Errorf("%w: nil signal", ports.ErrInvalidRequest)
	}
	if e.wasSeen(sig.ID) {
		e.logger.Debug(ctx, "Skipping already executed signal", map[string]interface{}{"id": sig.ID})
		return nil
	}

	var err error
	switch sig.Kind {
	case domain.SignalBuy:
		err = e.enter(ctx, sig.Symbol, sig.Price)
	case domain.SignalSell:
		err = e.exit(ctx, sig.Symbol, sig.Price)
	case domain.SignalPairEntry:
		err = e.enterPair(ctx, sig)
	default:
		err = fmt.Errorf("%w: unknown signal kind %q", ports.ErrInvalidRequest, sig.Kind)
	}

	if err != nil && ports.IsRetryable(err) {
		return err
	}
	e.markSeen(sig.ID)
	if err != nil {
		e.logger.Warn(ctx, "Signal not executed", map[string]interface{}{
			"id":     sig.ID,
			"symbol": sig.Symbol,
			"kind":   sig.Kind,
			"error":  err.Error(),
		})
		if errors.Is(err, ports.ErrInsufficientFunds) {
			return nil
		}
	}
	return err
}

func (e *Executor) enter(ctx context.Context, symbol string, price float64) error {
	pos, err := e.ledger.Position(ctx, symbol)
	if err != nil {
		return err
	}
	if !pos.IsFlat() {
		e.logger.Debug(ctx, "Position already open, ignoring entry", map[string]interface{}{"symbol": symbol})
		return nil
	}
	positions, err := e.ledger.Positions(ctx)
	if err != nil {
		return err
	}
	if err := e.sizer.CanOpen(len(positions)); err != nil {
		e.logger.Info(ctx, "Entry rejected by risk limits", map[string]interface{}{"symbol": symbol, "reason": err.Error()})
		return nil
	}
	wallet, err := e.ledger.Wallet(ctx)
	if err != nil {
		return err
	}
	p := decimal.NewFromFloat(price)
	amount := e.sizer.EntryAmount(wallet.USDTBalance, p)
	if !amount.IsPositive() {
		e.logger.Info(ctx, "No balance available for entry", map[string]interface{}{"symbol": symbol})
		return nil
	}
	_, err = e.ledger.ApplyTrade(ctx, symbol, domain.Buy, p, amount)
	return err
}

func (e *Executor) exit(ctx context.Context, symbol string, price float64) error {
	pos, err := e.ledger.Position(ctx, symbol)
	if err != nil {
		return err
	}
	if pos.IsFlat() || pos.Type != domain.Long {
		e.logger.Debug(ctx, "No long position to exit", map[string]interface{}{"symbol": symbol})
		return nil
	}
	_, err = e.ledger.ApplyTrade(ctx, symbol, domain.Sell, decimal.NewFromFloat(price), e.sizer.ExitAmount(pos))
	return err
}

// enterPair opens both legs of a spread trade with equal notional.
func (e *Executor) enterPair(ctx context.Context, sig *domain.Signal) error {
	if sig.Counterpart == "" || sig.CounterpartPrice <= 0 {
		return fmt.Errorf("%w: pair signal without counterpart", ports.ErrInvalidRequest)
	}
	longSym, shortSym := sig.Counterpart, sig.Symbol
	longPrice, shortPrice := sig.CounterpartPrice, sig.Price
	if sig.Direction == domain.LongSpread {
		longSym, shortSym = sig.Symbol, sig.Counterpart
		longPrice, shortPrice = sig.Price, sig.CounterpartPrice
	}

	wallet, err := e.ledger.Wallet(ctx)
	if err != nil {
		return err
	}
	notional := e.sizer.EntryNotional(wallet.USDTBalance)
	if !notional.IsPositive() {
		e.logger.Info(ctx, "No balance available for pair entry", map[string]interface{}{"pair": domain.PairKey(sig.Symbol, sig.Counterpart)})
		return nil
	}
	leg := notional.Div(decimal.NewFromInt(2))
	lp, sp := decimal.NewFromFloat(longPrice), decimal.NewFromFloat(shortPrice)

	// a leg already held in the right direction is left alone, so a retried
	// signal completes without doubling the first leg
	if held, err := e.holds(ctx, longSym, domain.Long); err != nil {
		return err
	} else if !held {
		if _, err := e.ledger.ApplyTrade(ctx, longSym, domain.Buy, lp, leg.Div(lp).Truncate(8)); err != nil {
			return err
		}
	}
	if held, err := e.holds(ctx, shortSym, domain.Short); err != nil {
		return err
	} else if !held {
		if _, err := e.ledger.ApplyTrade(ctx, shortSym, domain.Sell, sp, leg.Div(sp).Truncate(8)); err != nil {
			return fmt.Errorf("short leg %s after long leg %s: %w", shortSym, longSym, err)
		}
	}
	return nil
}

func (e *Executor) holds(ctx context.Context, symbol string, typ domain.PositionType) (bool, error) {
	pos, err := e.ledger.Position(ctx, symbol)
	if err != nil {
		return false, err
	}
	return !pos.IsFlat() && pos.Type == typ, nil
}

func (e *Executor) wasSeen(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.seen[id]
	return ok
}

func (e *Executor) markSeen(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.seen) >= e.seenLimit {
		e.seen = make(map[string]struct{})
	}
	e.seen[id] = struct{}{}
}
