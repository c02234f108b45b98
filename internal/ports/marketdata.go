package ports

import (
	"context"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// MarketData is the tick source: historical and live candles from an exchange.
type MarketData interface {
	// GetKlines retrieves the most recent candles for the symbol, oldest first.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)

	// StreamKlines starts a live candle stream. The stream reconnects on its own;
	// closing stopCh ends it and doneCh is closed once it has fully stopped.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(c *domain.Candle), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}

// CandleHistory provides read-only access to stored or fetched candles.
type CandleHistory interface {
	// Candles returns candles with OpenTime in [start, end), oldest first.
	Candles(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Candle, error)
	// Recent returns up to limit of the latest candles, oldest first.
	Recent(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error)
}
