package strategies

import (
	"context"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// Strategy turns a stream of candles into signals.
type Strategy interface {
	// OnCandle consumes the next candle for its symbol and returns the signal
	// it triggers, or nil.
	OnCandle(ctx context.Context, c *domain.Candle) (*domain.Signal, error)

	Name() string
}

// BaseStrategy provides common functionality for strategies
type BaseStrategy struct {
	logger ports.Logger
}

// NewBaseStrategy creates a new base strategy instance
func NewBaseStrategy(logger ports.Logger) *BaseStrategy {
	return &BaseStrategy{
		logger: logger,
	}
}
