package indicators

import (
	"context"
	"fmt"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// RSIWindow is the number of deltas RSI looks at.
const RSIWindow = 14

const (
	DefaultOverbought = 70.0
	DefaultOversold   = 30.0
)

// RSI computes the relative strength index over the last RSIWindow deltas
// using simple averages of gains and losses. It returns 50 when there are
// not enough closes or no movement, and 100 when the window holds gains only.
func RSI(closes []float64) float64 {
	if len(closes) < RSIWindow+1 {
		return 50
	}
	var gains, losses float64
	for i := len(closes) - RSIWindow; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / RSIWindow
	avgLoss := losses / RSIWindow
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RSIConfig holds configuration for the RSI indicator. Zero thresholds take
// the defaults.
type RSIConfig struct {
	Overbought float64
	Oversold   float64
}

// RSIIndicator adapts RSI to the Indicator interface with threshold helpers.
type RSIIndicator struct {
	BaseIndicator
	config RSIConfig
}

func NewRSI(config RSIConfig) *RSIIndicator {
	if config.Overbought == 0 {
		config.Overbought = DefaultOverbought
	}
	if config.Oversold == 0 {
		config.Oversold = DefaultOversold
	}
	return &RSIIndicator{
		BaseIndicator: BaseIndicator{Config: IndicatorConfig{Period: RSIWindow + 1}},
		config:        config,
	}
}

func (r *RSIIndicator) Name() string {
	return fmt.Sprintf("RSI(%d)", RSIWindow)
}

func (r *RSIIndicator) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	return RSI(domain.Closes(candles)), nil
}

// IsOverbought checks if the RSI value indicates an overbought condition
func (r *RSIIndicator) IsOverbought(value float64) bool {
	return value >= r.config.Overbought
}

// IsOversold checks if the RSI value indicates an oversold condition
func (r *RSIIndicator) IsOversold(value float64) bool {
	return value <= r.config.Oversold
}

// Zone names the threshold value falls in: "overbought", "oversold" or "".
func (r *RSIIndicator) Zone(value float64) string {
	switch {
	case r.IsOverbought(value):
		return "overbought"
	case r.IsOversold(value):
		return "oversold"
	default:
		return ""
	}
}
