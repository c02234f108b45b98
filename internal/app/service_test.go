package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/optimization"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/strategies"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockMarket struct {
	mu      sync.Mutex
	kills   map[string]chan struct{}
	failFor string
}

func newMockMarket() *mockMarket {
	return &mockMarket{kills: make(map[string]chan struct{})}
}

func (m *mockMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	return nil, nil
}

func (m *mockMarket) StreamKlines(ctx context.Context, symbol, interval string, handler func(c *domain.Candle), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	if symbol == m.failFor {
		return nil, nil, ports.ErrConnectionFailed
	}
	done := make(chan struct{})
	stop := make(chan struct{})
	kill := make(chan struct{})
	go func() {
		select {
		case <-stop:
		case <-kill:
		}
		close(done)
	}()
	m.mu.Lock()
	m.kills[symbol] = kill
	m.mu.Unlock()
	return done, stop, nil
}

func (m *mockMarket) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.kills)
}

// drop simulates a stream that gave up reconnecting.
func (m *mockMarket) drop(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.kills[symbol])
}

type mockHistory struct {
	candles map[string][]*domain.Candle
	err     error
}

func (m *mockHistory) Candles(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Candle, error) {
	return nil, m.err
}

func (m *mockHistory) Recent(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.candles[symbol], nil
}

type mockSink struct {
	mu       sync.Mutex
	failures []error
	calls    int
	signals  []*domain.Signal
}

func (m *mockSink) Append(ctx context.Context, s *domain.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	m.signals = append(m.signals, s)
	return nil
}

type mockCandleStore struct {
	saved []*domain.Candle
}

func (m *mockCandleStore) SaveCandles(ctx context.Context, candles []*domain.Candle) error {
	m.saved = append(m.saved, candles...)
	return nil
}

type mockPositions struct {
	positions []*domain.Position
}

func (m *mockPositions) Positions(ctx context.Context) ([]*domain.Position, error) {
	return m.positions, nil
}

type mockLoop struct {
	started chan struct{}
}

func (m *mockLoop) Run(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return ctx.Err()
}

func newGenerator(t *testing.T, logger ports.Logger, params ...domain.ParameterSet) *strategies.MACrossover {
	t.Helper()
	gen, err := strategies.NewMACrossover(strategies.MACrossoverConfig{}, optimization.NewParameterBook(params...), logger)
	require.NoError(t, err)
	return gen
}

func candle(symbol string, i int, close float64) *domain.Candle {
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	return &domain.Candle{
		Symbol:    symbol,
		Interval:  "1h",
		OpenTime:  open,
		CloseTime: open.Add(time.Hour - time.Millisecond),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		IsFinal:   true,
	}
}

func newTestService(t *testing.T, deps Dependencies, symbols ...string) (*Service, *mockLogger, *[]time.Duration) {
	t.Helper()
	logger := &mockLogger{}
	if deps.Generator == nil {
		deps.Generator = newGenerator(t, logger)
	}
	svc, err := NewService(Config{Symbols: symbols, AppendRetryDelay: 10 * time.Millisecond, StreamStopTimeout: time.Second}, deps, logger)
	require.NoError(t, err)
	var waits []time.Duration
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return svc, logger, &waits
}

func TestNewService_Validation(t *testing.T) {
	logger := &mockLogger{}
	deps := Dependencies{Market: newMockMarket(), Generator: newGenerator(t, logger), Sink: &mockSink{}}

	_, err := NewService(Config{Symbols: []string{"BTCUSDT"}}, deps, nil)
	assert.Error(t, err)

	_, err = NewService(Config{Symbols: []string{"BTCUSDT"}}, Dependencies{Market: deps.Market}, logger)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewService(Config{}, deps, logger)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewService(Config{Symbols: []string{"btc/usdt"}}, deps, logger)
	assert.ErrorIs(t, err, ports.ErrInvalidSymbol)

	svc, err := NewService(Config{Symbols: []string{"BTCUSDT"}}, deps, logger)
	require.NoError(t, err)
	assert.Equal(t, "1h", svc.cfg.Interval)
	assert.Equal(t, DefaultAppendAttempts, svc.cfg.AppendAttempts)
}

func TestDeliver_RetriesRetryableErrors(t *testing.T) {
	sink := &mockSink{failures: []error{ports.ErrLedgerBusy, ports.ErrUpstreamUnavailable}}
	svc, _, waits := newTestService(t, Dependencies{Market: newMockMarket(), Sink: sink}, "BTCUSDT")
	sig := domain.NewSignal("BTCUSDT", "", domain.SignalBuy, 100, time.Now(), "test")

	require.NoError(t, svc.Deliver(context.Background(), sig))
	assert.Equal(t, 3, sink.calls)
	assert.Len(t, sink.signals, 1)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestDeliver_TerminalErrorIsNotRetried(t *testing.T) {
	sink := &mockSink{failures: []error{ports.ErrInvalidRequest}}
	svc, _, waits := newTestService(t, Dependencies{Market: newMockMarket(), Sink: sink}, "BTCUSDT")
	sig := domain.NewSignal("BTCUSDT", "", domain.SignalBuy, 100, time.Now(), "test")

	err := svc.Deliver(context.Background(), sig)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.Equal(t, 1, sink.calls)
	assert.Empty(t, *waits)
}

func TestDeliver_GivesUp(t *testing.T) {
	failures := make([]error, DefaultAppendAttempts)
	for i := range failures {
		failures[i] = ports.ErrLedgerBusy
	}
	sink := &mockSink{failures: failures}
	svc, _, waits := newTestService(t, Dependencies{Market: newMockMarket(), Sink: sink}, "BTCUSDT")
	sig := domain.NewSignal("BTCUSDT", "", domain.SignalBuy, 100, time.Now(), "test")

	err := svc.Deliver(context.Background(), sig)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrLedgerBusy)
	assert.Equal(t, DefaultAppendAttempts, sink.calls)
	assert.Len(t, *waits, DefaultAppendAttempts-1)
}

func TestHandleCandle_EmitsCrossoverSignal(t *testing.T) {
	logger := &mockLogger{}
	gen := newGenerator(t, logger, domain.ParameterSet{Symbol: "BTCUSDT", FastPeriod: 2, SlowPeriod: 3})
	sink := &mockSink{}
	store := &mockCandleStore{}
	svc, _, _ := newTestService(t, Dependencies{Market: newMockMarket(), Generator: gen, Sink: sink, Candles: store}, "BTCUSDT")

	live := candle("BTCUSDT", 0, 50)
	live.IsFinal = false
	svc.HandleCandle(live)
	svc.HandleCandle(nil)
	assert.Empty(t, store.saved)

	for i, c := range []float64{10, 9, 8, 7, 12} {
		svc.HandleCandle(candle("BTCUSDT", i, c))
	}
	assert.Len(t, store.saved, 5)
	require.Len(t, sink.signals, 1)
	assert.Equal(t, domain.SignalBuy, sink.signals[0].Kind)
	assert.Equal(t, 12.0, sink.signals[0].Price)
	assert.True(t, gen.IsLong("BTCUSDT"))

	// replayed candle after a reconnect is dropped
	svc.HandleCandle(candle("BTCUSDT", 4, 12))
	assert.Len(t, sink.signals, 1)
}

func TestStart_SeedsWarmsAndShutsDown(t *testing.T) {
	logger := &mockLogger{}
	gen := newGenerator(t, logger)
	market := newMockMarket()
	loop := &mockLoop{started: make(chan struct{})}
	history := &mockHistory{candles: map[string][]*domain.Candle{
		"BTCUSDT": {candle("BTCUSDT", 0, 1), candle("BTCUSDT", 1, 2)},
	}}
	positions := &mockPositions{positions: []*domain.Position{
		{Symbol: "ETHUSDT", Amount: decimal.NewFromInt(2), Type: domain.Long},
		{Symbol: "BTCUSDT", Amount: decimal.NewFromInt(-1), Type: domain.Short},
	}}
	svc, _, _ := newTestService(t, Dependencies{
		Market:    market,
		History:   history,
		Generator: gen,
		Sink:      &mockSink{},
		Positions: positions,
		Loops:     map[string]Loop{"test": loop},
	}, "BTCUSDT", "ETHUSDT")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	select {
	case <-loop.started:
	case <-time.After(2 * time.Second):
		t.Fatal("background loop did not start")
	}
	require.Eventually(t, func() bool { return market.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, gen.IsLong("ETHUSDT"))
	assert.False(t, gen.IsLong("BTCUSDT"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStart_StreamDropIsAnError(t *testing.T) {
	market := newMockMarket()
	svc, _, _ := newTestService(t, Dependencies{Market: market, Sink: &mockSink{}}, "BTCUSDT")

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(context.Background()) }()
	require.Eventually(t, func() bool { return market.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	market.drop("BTCUSDT")
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ports.ErrUpstreamUnavailable)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStart_StreamOpenFailure(t *testing.T) {
	market := newMockMarket()
	market.failFor = "ETHUSDT"
	svc, _, _ := newTestService(t, Dependencies{Market: market, Sink: &mockSink{}}, "BTCUSDT", "ETHUSDT")

	err := svc.Start(context.Background())
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
}

func TestFanOut(t *testing.T) {
	a := &mockSink{}
	b := &mockSink{failures: []error{ports.ErrLedgerBusy}}
	f := NewFanOut(a, nil, b)
	sig := domain.NewSignal("BTCUSDT", "", domain.SignalSell, 100, time.Now(), "test")

	err := f.Append(context.Background(), sig)
	require.Error(t, err)
	assert.True(t, ports.IsRetryable(err))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	require.NoError(t, f.Append(context.Background(), sig))
	assert.Len(t, a.signals, 2)
	assert.Len(t, b.signals, 1)
	assert.False(t, errors.Is(err, ports.ErrInvalidRequest))
}
