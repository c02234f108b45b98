package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "engine-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

var base = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_AppendSignal(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	corr, z := 0.93, 2.4
	pair := domain.NewSignal("ETHUSDT", "BTCUSDT", domain.SignalPairEntry, 20, base, "SHORT ETHUSDT / LONG BTCUSDT")
	pair.Direction = domain.ShortSpread
	pair.CounterpartPrice = 100
	pair.Correlation = &corr
	pair.ZScore = &z
	buy := domain.NewSignal("BTCUSDT", "", domain.SignalBuy, 101.5, base.Add(time.Hour), "golden cross")

	tests := []struct {
		name    string
		sig     *domain.Signal
		wantErr error
	}{
		{name: "pair entry", sig: pair},
		{name: "crossover buy", sig: buy},
		{name: "duplicate is ignored", sig: buy},
		{name: "missing id", sig: &domain.Signal{Symbol: "BTCUSDT"}, wantErr: ports.ErrInvalidRequest},
		{name: "nil signal", sig: nil, wantErr: ports.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Append(ctx, tt.sig)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	all, err := repo.Signals(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, buy.ID, all[0].ID, "newest first")

	btc, err := repo.Signals(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, btc, 2, "counterpart leg is included")

	eth, err := repo.Signals(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, eth, 1)
	got := eth[0]
	assert.Equal(t, domain.ShortSpread, got.Direction)
	assert.Equal(t, 100.0, got.CounterpartPrice)
	require.NotNil(t, got.Correlation)
	require.NotNil(t, got.ZScore)
	assert.InDelta(t, 0.93, *got.Correlation, 1e-12)
	assert.InDelta(t, 2.4, *got.ZScore, 1e-12)
	assert.True(t, got.Timestamp.Equal(base))

	assert.Nil(t, all[0].Correlation)
}

func TestRepository_Parameters(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p, err := repo.LoadParameters(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, repo.SaveParameters(ctx, domain.ParameterSet{Symbol: "BTCUSDT", FastPeriod: 7, SlowPeriod: 30, UpdatedAt: base}))
	require.NoError(t, repo.SaveParameters(ctx, domain.ParameterSet{Symbol: "BTCUSDT", FastPeriod: 9, SlowPeriod: 45}))
	require.NoError(t, repo.SaveParameters(ctx, domain.ParameterSet{Symbol: "ETHUSDT", FastPeriod: 5, SlowPeriod: 25, UpdatedAt: base}))

	err = repo.SaveParameters(ctx, domain.ParameterSet{Symbol: "ETHUSDT", FastPeriod: 30, SlowPeriod: 25})
	assert.ErrorIs(t, err, ports.ErrInvalidParameters)

	p, err = repo.LoadParameters(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 9, p.FastPeriod)
	assert.Equal(t, 45, p.SlowPeriod)
	assert.False(t, p.UpdatedAt.IsZero())

	all, err := repo.LoadAllParameters(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BTCUSDT", all[0].Symbol)
	assert.Equal(t, 5, all[1].FastPeriod)
}

func TestRepository_PairStates(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.SavePairStates(ctx, nil))
	require.NoError(t, repo.SavePairStates(ctx, []domain.PairState{
		{SymbolA: "BTCUSDT", SymbolB: "ETHUSDT", Correlation: 0.9, ZScore: 0.5, Status: domain.SpreadNeutral, EvaluatedAt: base},
		{SymbolA: "BTCUSDT", SymbolB: "SOLUSDT", Correlation: 0.85, ZScore: -2.5, Status: domain.LongSpread, EvaluatedAt: base},
	}))
	require.NoError(t, repo.SavePairStates(ctx, []domain.PairState{
		{SymbolA: "BTCUSDT", SymbolB: "ETHUSDT", Correlation: 0.91, ZScore: 2.2, Status: domain.ShortSpread, EvaluatedAt: base.Add(5 * time.Minute)},
	}))

	latest, err := repo.LatestPairStates(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, domain.ShortSpread, latest[0].Status)
	assert.Equal(t, "SOLUSDT", latest[1].SymbolB)
	assert.Equal(t, domain.LongSpread, latest[1].Status)
}

func makeCandles(symbol string, n int) []*domain.Candle {
	out := make([]*domain.Candle, n)
	for i := range out {
		open := base.Add(time.Duration(i) * time.Hour)
		out[i] = &domain.Candle{
			Symbol:    symbol,
			Interval:  "1h",
			OpenTime:  open,
			CloseTime: open.Add(time.Hour - time.Millisecond),
			Open:      100 + float64(i),
			High:      101 + float64(i),
			Low:       99 + float64(i),
			Close:     100.5 + float64(i),
			Volume:    10,
			IsFinal:   true,
		}
	}
	return out
}

func TestRepository_Candles(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	candles := makeCandles("BTCUSDT", 250)
	require.NoError(t, repo.SaveCandles(ctx, candles))
	// replays overwrite instead of duplicating
	require.NoError(t, repo.SaveCandles(ctx, candles[:10]))
	require.NoError(t, repo.SaveCandles(ctx, makeCandles("ETHUSDT", 5)))

	got, err := repo.Candles(ctx, "BTCUSDT", base.Add(10*time.Hour), base.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.True(t, got[0].OpenTime.Equal(base.Add(10*time.Hour)))
	assert.Equal(t, 110.5, got[0].Close)
	assert.True(t, got[0].IsFinal)

	recent, err := repo.Recent(ctx, "BTCUSDT", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []float64{347.5, 348.5, 349.5}, domain.Closes(recent), "oldest first")

	_, err = repo.Recent(ctx, "BTCUSDT", 0)
	assert.ErrorIs(t, err, ports.ErrInvalidParameters)

	none, err := repo.Recent(ctx, "SOLUSDT", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
