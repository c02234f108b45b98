package ports

import (
	"context"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// SignalSink is the durable append-only log of emitted signals.
// Appending a signal whose ID is already stored is a no-op.
type SignalSink interface {
	Append(ctx context.Context, s *domain.Signal) error
}

// ParameterStore persists the tuned parameters, one overwrite per symbol.
type ParameterStore interface {
	SaveParameters(ctx context.Context, p domain.ParameterSet) error
	// LoadParameters returns nil, nil when nothing was stored for the symbol.
	LoadParameters(ctx context.Context, symbol string) (*domain.ParameterSet, error)
	LoadAllParameters(ctx context.Context) ([]domain.ParameterSet, error)
}

// ParameterProvider is the read side used by the signal generator.
// Get never returns an invalid ParameterSet.
type ParameterProvider interface {
	Get(symbol string) domain.ParameterSet
}

// PairStateStore keeps detector pair states for audit.
type PairStateStore interface {
	SavePairStates(ctx context.Context, states []domain.PairState) error
}

// CandleStore persists closed candles.
type CandleStore interface {
	SaveCandles(ctx context.Context, candles []*domain.Candle) error
}
