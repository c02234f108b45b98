// Package guarded wraps an upstream candle source in a circuit breaker with
// an optional local fallback.
package guarded

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/metrics"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// Config holds the breaker settings.
type Config struct {
	Name                string
	ConsecutiveFailures uint32        // failures that open the breaker, default 5
	OpenTimeout         time.Duration // time spent open before a probe, default 30s
	MaxProbes           uint32        // requests allowed while half-open, default 1
}

// History implements ports.CandleHistory. Calls to primary go through the
// breaker; when it fails or is open and a fallback is set, the fallback
// answers instead.
type History struct {
	primary  ports.CandleHistory
	fallback ports.CandleHistory
	cb       *gobreaker.CircuitBreaker
	logger   ports.Logger
}

// NewHistory wraps primary. fallback may be nil.
func NewHistory(cfg Config, primary, fallback ports.CandleHistory, logger ports.Logger) (*History, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for guarded history")
	}
	if primary == nil {
		return nil, fmt.Errorf("%w: primary history is required", ports.ErrConfigurationError)
	}
	if cfg.Name == "" {
		cfg.Name = "history"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.MaxProbes == 0 {
		cfg.MaxProbes = 1
	}

	h := &History{primary: primary, fallback: fallback, logger: logger}
	h.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxProbes,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || callerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return h, nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (h *History) State() string {
	return h.cb.State().String()
}

// callerError reports failures caused by the request or its context. They
// say nothing about upstream health and are returned unwrapped.
func callerError(err error) bool {
	return errors.Is(err, ports.ErrInvalidSymbol) ||
		errors.Is(err, ports.ErrInvalidParameters) ||
		errors.Is(err, ports.ErrInvalidRequest) ||
		errors.Is(err, ports.ErrContextCanceled) ||
		errors.Is(err, context.Canceled)
}

func (h *History) call(ctx context.Context, op, symbol string, primary, fallback func() ([]*domain.Candle, error)) ([]*domain.Candle, error) {
	res, err := h.cb.Execute(func() (interface{}, error) {
		return primary()
	})
	if err == nil {
		return res.([]*domain.Candle), nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.UpstreamFailures.WithLabelValues(h.cb.Name()).Inc()
		err = fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrUpstreamUnavailable, err)
	} else if !callerError(err) && !errors.Is(err, ports.ErrUpstreamUnavailable) {
		err = fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrUpstreamUnavailable, err)
	}
	if h.fallback == nil || ctx.Err() != nil || !errors.Is(err, ports.ErrUpstreamUnavailable) {
		return nil, err
	}

	h.logger.Warn(ctx, "Primary history unavailable, using fallback", map[string]interface{}{
		"operation": op,
		"symbol":    symbol,
		"error":     err.Error(),
	})
	candles, ferr := fallback()
	if ferr != nil {
		return nil, fmt.Errorf("%w (fallback: %v)", err, ferr)
	}
	return candles, nil
}

// Candles implements ports.CandleHistory.
func (h *History) Candles(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Candle, error) {
	return h.call(ctx, "Candles", symbol,
		func() ([]*domain.Candle, error) { return h.primary.Candles(ctx, symbol, start, end) },
		func() ([]*domain.Candle, error) { return h.fallback.Candles(ctx, symbol, start, end) },
	)
}

// Recent implements ports.CandleHistory.
func (h *History) Recent(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	return h.call(ctx, "Recent", symbol,
		func() ([]*domain.Candle, error) { return h.primary.Recent(ctx, symbol, limit) },
		func() ([]*domain.Candle, error) { return h.fallback.Recent(ctx, symbol, limit) },
	)
}
