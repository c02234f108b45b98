package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/metrics"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
)

// Client implements ports.MarketData and ports.CandleHistory on the Binance
// futures public endpoints.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	limiter              *rate.Limiter
	interval             string
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	Interval             string        // candle interval used by Candles and Recent, e.g. "1h"
	RequestsPerSecond    float64       // REST rate limit, 0 for the default of 10
	ReconnectDelay       time.Duration // first reconnect delay (e.g., 1 * time.Second)
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int // consecutive failures before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	interval := cfg.Interval
	if interval == "" {
		interval = "1h"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay < reconnectDelay {
		maxDelay = 60 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		limiter:              rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		interval:             interval,
		reconnectDelay:       reconnectDelay,
		maxReconnectDelay:    maxDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	metrics.UpstreamFailures.WithLabelValues("binance").Inc()

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1121: // Invalid symbol
			mappedErr = ports.ErrInvalidSymbol
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUpstreamUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Non-API errors (network, context cancellation, parsing)
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "no such host"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func (c *Client) wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w: %w", operation, ports.ErrContextCanceled, err)
	}
	return nil
}

// GetKlines retrieves the latest klines for the symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Candle, error) {
	op := "GetKlines"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	candles := make([]*domain.Candle, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dc, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		candles = append(candles, dc)
	}
	return candles, nil
}

// GetKlinesRange fetches all klines for a symbol/interval with open time in [start, end).
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Candle, error) {
	op := "GetKlinesRange"
	var all []*domain.Candle
	from := start

	for from.Before(end) {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli() - 1).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dc, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			all = append(all, dc)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if len(klines) < maxKlinesPerRequest {
			break
		}
	}
	return all, nil
}

// Candles implements ports.CandleHistory using the configured interval.
func (c *Client) Candles(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Candle, error) {
	return c.GetKlinesRange(ctx, symbol, c.interval, start, end)
}

// Recent implements ports.CandleHistory using the configured interval. The
// still-open kline is dropped.
func (c *Client) Recent(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("Recent: %w: limit must be positive", ports.ErrInvalidParameters)
	}
	candles, err := c.GetKlines(ctx, symbol, c.interval, min(limit+1, maxKlinesPerRequest))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if n := len(candles); n > 0 && candles[n-1].CloseTime.After(now) {
		candles = candles[:n-1]
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// StreamKlines starts a WebSocket stream for kline data that reconnects with
// exponential backoff until stopCh is closed, ctx is done, or
// MaxReconnectAttempts consecutive connection attempts fail.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(c *domain.Candle), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	if !domain.ValidSymbol(symbol) {
		return nil, nil, fmt.Errorf("%s: %w: %q", op, ports.ErrInvalidSymbol, symbol)
	}
	wsCtx, cancelWs := context.WithCancel(ctx)
	fields := map[string]interface{}{"symbol": symbol, "interval": interval}

	binanceHandler := func(event *futures.WsKlineEvent) {
		candle, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate WebSocket kline event")
			return
		}
		handler(candle)
	}
	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		if errHandler != nil {
			errHandler(translatedErr)
		}
	}

	b := &backoff.Backoff{
		Min:    c.reconnectDelay,
		Max:    c.maxReconnectDelay,
		Factor: 2,
		Jitter: true,
	}

	go func() {
		defer cancelWs()
		for {
			if wsCtx.Err() != nil {
				return
			}
			c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", withAttempt(fields, int(b.Attempt())+1))
			innerDoneCh, innerStopCh, connectErr := futures.WsKlineServe(symbol, interval, binanceHandler, binanceErrHandler)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				if int(b.Attempt())+1 >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", withAttempt(fields, c.maxReconnectAttempts))
					if errHandler != nil {
						errHandler(fmt.Errorf("%s: %w: %w", op, ports.ErrUpstreamUnavailable, connectErr))
					}
					return
				}
				delay := b.Duration()
				c.logger.Info(wsCtx, op+": Connection failed, retrying...", map[string]interface{}{"symbol": symbol, "interval": interval, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established.", fields)
			b.Reset()

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
				select {
				case <-time.After(b.Duration()):
				case <-wsCtx.Done():
					return
				}
			case <-wsCtx.Done():
				close(innerStopCh)
				<-innerDoneCh
				c.logger.Info(wsCtx, op+": WebSocket stopped.", fields)
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.", fields)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

func withAttempt(fields map[string]interface{}, attempt int) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["attempt"] = attempt
	return out
}

// --- Translation Helpers ---

func parsePrices(open, high, low, cls, vol string) ([5]float64, error) {
	var out [5]float64
	for i, f := range []struct{ name, v string }{
		{"open price", open}, {"high price", high}, {"low price", low}, {"close price", cls}, {"volume", vol},
	} {
		x, err := strconv.ParseFloat(f.v, 64)
		if err != nil {
			return out, fmt.Errorf("parsing %s '%s': %w", f.name, f.v, err)
		}
		out[i] = x
	}
	return out, nil
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Candle, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	p, err := parsePrices(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Candle{
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		CloseTime: time.UnixMilli(k.EndTime).UTC(),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      p[0],
		High:      p[1],
		Low:       p[2],
		Close:     p[3],
		Volume:    p[4],
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Candle, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	p, err := parsePrices(bk.Open, bk.High, bk.Low, bk.Close, bk.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Candle{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Symbol:    symbol, // not part of futures.Kline
		Interval:  interval,
		Open:      p[0],
		High:      p[1],
		Low:       p[2],
		Close:     p[3],
		Volume:    p[4],
		IsFinal:   true,
	}, nil
}
