package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

func TestNewSizer(t *testing.T) {
	tests := []struct {
		name    string
		config  RiskConfig
		wantErr bool
	}{
		{"valid", RiskConfig{PositionSizePercent: 0.1}, false},
		{"zero fraction", RiskConfig{}, true},
		{"fraction above one", RiskConfig{PositionSizePercent: 1.5}, true},
		{"negative cap", RiskConfig{PositionSizePercent: 0.1, MaxPositionNotional: -1}, true},
		{"negative open positions", RiskConfig{PositionSizePercent: 0.1, MaxOpenPositions: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSizer(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSizer_EntryAmount(t *testing.T) {
	s, err := NewSizer(RiskConfig{PositionSizePercent: 0.1, MaxPositionNotional: 500})
	require.NoError(t, err)

	amount := s.EntryAmount(decimal.NewFromInt(2000), decimal.NewFromInt(100))
	assert.True(t, amount.Equal(decimal.NewFromInt(2)), amount.String())

	capped := s.EntryAmount(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	assert.True(t, capped.Equal(decimal.NewFromInt(5)), capped.String())

	assert.True(t, s.EntryAmount(decimal.NewFromInt(1000), decimal.Zero).IsZero())
	assert.True(t, s.EntryAmount(decimal.NewFromInt(-5), decimal.NewFromInt(10)).IsZero())

	odd := s.EntryAmount(decimal.NewFromInt(1000), decimal.NewFromInt(3))
	assert.Equal(t, "33.33333333", odd.String())
}

func TestSizer_ExitAndLimits(t *testing.T) {
	s, err := NewSizer(RiskConfig{PositionSizePercent: 0.5, MaxOpenPositions: 2})
	require.NoError(t, err)

	short := &domain.Position{Amount: decimal.NewFromFloat(-1.5)}
	assert.True(t, s.ExitAmount(short).Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, s.ExitAmount(nil).IsZero())

	assert.NoError(t, s.CanOpen(1))
	assert.Error(t, s.CanOpen(2))
}
