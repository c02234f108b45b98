package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/logger"
)

// chdirTemp keeps a developer .env out of the test.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SYMBOLS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, "badger", cfg.LedgerBackend)
	assert.Equal(t, 5, cfg.LedgerMaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.LedgerBackoffBase)
	assert.Equal(t, 10, cfg.DefaultFastPeriod)
	assert.Equal(t, 30, cfg.DefaultSlowPeriod)
	assert.Equal(t, 12*time.Hour, cfg.OptimizerInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.OptimizerLookback)
	assert.Equal(t, 5*time.Minute, cfg.ArbInterval)
	assert.Equal(t, 24, cfg.ArbWindow)
	assert.Equal(t, 0.80, cfg.ArbCorrelationThreshold)
	assert.Equal(t, 2.0, cfg.ArbZThreshold)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.PaperTrading)
}

func TestLoadConfig_Overrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SYMBOLS", " btcusdt, SOLUSDT ,")
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("ARB_Z_THRESHOLD", "1.5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HISTORY_SOURCE", "EXCHANGE")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, "redis", cfg.LedgerBackend)
	assert.Equal(t, 1.5, cfg.ArbZThreshold)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "exchange", cfg.HistorySource)
}

func TestLoadConfig_CollectsErrors(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SYMBOLS", "BTC-USDT")
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("DEFAULT_FAST_PERIOD", "40")
	t.Setenv("TRADE_FRACTION", "abc")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "0")

	_, err := LoadConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `invalid symbol "BTC-USDT"`)
	assert.Contains(t, msg, "REDIS_ADDR must be set")
	assert.Contains(t, msg, "DEFAULT_FAST_PERIOD")
	assert.Contains(t, msg, "invalid TRADE_FRACTION")
	assert.Contains(t, msg, "LEDGER_MAX_ATTEMPTS must be positive")
}
