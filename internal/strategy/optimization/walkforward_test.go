package optimization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeHistory struct {
	closes map[string][]float64
	fail   map[string]error
	mu     sync.Mutex
	ranges []time.Duration
}

func (f *fakeHistory) Candles(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Candle, error) {
	f.mu.Lock()
	f.ranges = append(f.ranges, end.Sub(start))
	f.mu.Unlock()
	if err := f.fail[symbol]; err != nil {
		return nil, err
	}
	out := make([]*domain.Candle, 0, len(f.closes[symbol]))
	for i, c := range f.closes[symbol] {
		out = append(out, &domain.Candle{Symbol: symbol, OpenTime: start.Add(time.Duration(i) * time.Hour), Close: c, IsFinal: true})
	}
	return out, nil
}

func (f *fakeHistory) Recent(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	return nil, errors.New("not used")
}

type fakeParamStore struct {
	mu    sync.Mutex
	saved map[string]domain.ParameterSet
	fail  bool
}

func (f *fakeParamStore) SaveParameters(ctx context.Context, p domain.ParameterSet) error {
	if f.fail {
		return fmt.Errorf("%w: disk full", ports.ErrUpdateFailed)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]domain.ParameterSet)
	}
	f.saved[p.Symbol] = p
	return nil
}

func (f *fakeParamStore) LoadParameters(ctx context.Context, symbol string) (*domain.ParameterSet, error) {
	return nil, nil
}

func (f *fakeParamStore) LoadAllParameters(ctx context.Context) ([]domain.ParameterSet, error) {
	return nil, nil
}

func newWalkForward(t *testing.T, history *fakeHistory, store *fakeParamStore, book *ParameterBook, symbols ...string) *WalkForward {
	t.Helper()
	o, err := NewOptimizer(OptimizerConfig{Workers: 2})
	require.NoError(t, err)
	w, err := NewWalkForward(WalkForwardConfig{Symbols: symbols}, o, history, store, book, &mockLogger{})
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return w
}

func TestWalkForward_FailingSymbolDoesNotAbortCycle(t *testing.T) {
	history := &fakeHistory{
		closes: map[string][]float64{
			"BTCUSDT": randomWalk(5, 720),
			"SOLUSDT": randomWalk(6, 720),
		},
		fail: map[string]error{"ETHUSDT": fmt.Errorf("%w: timeout", ports.ErrUpstreamUnavailable)},
	}
	store := &fakeParamStore{}
	book := NewParameterBook()
	w := newWalkForward(t, history, store, book, "BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT")

	report := w.RunCycle(context.Background())

	assert.Equal(t, CycleReport{Updated: 2, Defaulted: 1, Failed: 1}, report)
	assert.Len(t, store.saved, 3)
	assert.Equal(t, domain.DefaultParameters("XRPUSDT").FastPeriod, store.saved["XRPUSDT"].FastPeriod)

	btc := book.Get("BTCUSDT")
	assert.Equal(t, store.saved["BTCUSDT"].FastPeriod, btc.FastPeriod)
	assert.Equal(t, store.saved["BTCUSDT"].SlowPeriod, btc.SlowPeriod)
	assert.False(t, btc.UpdatedAt.IsZero())
	assert.Equal(t, domain.DefaultParameters("ETHUSDT"), book.Get("ETHUSDT"))

	for _, r := range history.ranges {
		assert.Equal(t, DefaultLookback, r)
	}
}

func TestWalkForward_StoreFailureSkipsPublish(t *testing.T) {
	history := &fakeHistory{closes: map[string][]float64{"BTCUSDT": randomWalk(8, 300)}}
	book := NewParameterBook()
	w := newWalkForward(t, history, &fakeParamStore{fail: true}, book, "BTCUSDT")

	report := w.RunCycle(context.Background())
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, book.Snapshot())
}

func TestWalkForward_RunStopsOnCancel(t *testing.T) {
	history := &fakeHistory{closes: map[string][]float64{"BTCUSDT": randomWalk(9, 200)}}
	store := &fakeParamStore{}
	w := newWalkForward(t, history, store, NewParameterBook(), "BTCUSDT")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.saved) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("walk-forward loop did not stop")
	}
}

func TestNewWalkForward_Validation(t *testing.T) {
	o, err := NewOptimizer(OptimizerConfig{})
	require.NoError(t, err)
	_, err = NewWalkForward(WalkForwardConfig{}, o, &fakeHistory{}, nil, NewParameterBook(), nil)
	assert.Error(t, err)
	_, err = NewWalkForward(WalkForwardConfig{}, nil, &fakeHistory{}, nil, NewParameterBook(), &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	w, err := NewWalkForward(WalkForwardConfig{}, o, &fakeHistory{}, nil, NewParameterBook(), &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, DefaultWalkForwardInterval, w.config.Interval)
}
