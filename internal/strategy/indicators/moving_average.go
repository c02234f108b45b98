package indicators

import (
	"context"
	"fmt"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// SMA returns the mean of closes[index-period+1 .. index].
// It fails with ports.ErrInsufficientData when fewer than period closes
// exist up to and including index.
func SMA(closes []float64, period, index int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: period %d", ports.ErrInvalidParameters, period)
	}
	if index < 0 || index >= len(closes) || index+1 < period {
		return 0, fmt.Errorf("%w: SMA(%d) at index %d of %d", ports.ErrInsufficientData, period, index, len(closes))
	}
	total := 0.0
	for i := index - period + 1; i <= index; i++ {
		total += closes[i]
	}
	return total / float64(period), nil
}

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA over candles.
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.config.Type, m.Config.Period)
}

// Calculate computes the moving average at the last candle.
func (m *MovingAverage) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	closes := domain.Closes(candles)
	switch m.config.Type {
	case SimpleMovingAverage:
		return SMA(closes, m.Config.Period, len(closes)-1)
	case ExponentialMovingAverage:
		return EMA(closes, m.Config.Period)
	default:
		return 0, fmt.Errorf("%w: unsupported moving average type %q", ports.ErrInvalidParameters, m.config.Type)
	}
}

// EMA seeds with the SMA of the first period closes and smooths the rest.
func EMA(closes []float64, period int) (float64, error) {
	initial, err := SMA(closes, period, period-1)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate initial SMA for EMA: %w", err)
	}
	multiplier := 2.0 / float64(period+1)
	ema := initial
	for i := period; i < len(closes); i++ {
		ema = (closes[i]-ema)*multiplier + ema
	}
	return ema, nil
}
