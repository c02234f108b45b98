package strategies

import (
	"errors"

	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/indicators"
)

// Cross is the relation change between a fast and a slow moving average.
type Cross int

const (
	NoCross Cross = iota
	GoldenCross
	DeathCross
)

func (c Cross) String() string {
	switch c {
	case GoldenCross:
		return "golden cross"
	case DeathCross:
		return "death cross"
	default:
		return "none"
	}
}

// CrossPoint holds the averages that produced a Cross.
type CrossPoint struct {
	Cross    Cross
	FastPrev float64
	SlowPrev float64
	FastCurr float64
	SlowCurr float64
}

// DetectCross compares SMA(fast) and SMA(slow) at index-1 and index.
// Golden cross: fast_prev <= slow_prev and fast_curr > slow_curr.
// Death cross: fast_prev >= slow_prev and fast_curr < slow_curr.
// It returns ports.ErrInsufficientData when either average is undefined at index-1.
func DetectCross(closes []float64, fast, slow, index int) (CrossPoint, error) {
	var p CrossPoint
	var err error
	if p.FastPrev, err = indicators.SMA(closes, fast, index-1); err != nil {
		return p, err
	}
	if p.SlowPrev, err = indicators.SMA(closes, slow, index-1); err != nil {
		return p, err
	}
	if p.FastCurr, err = indicators.SMA(closes, fast, index); err != nil {
		return p, err
	}
	if p.SlowCurr, err = indicators.SMA(closes, slow, index); err != nil {
		return p, err
	}
	switch {
	case p.FastPrev <= p.SlowPrev && p.FastCurr > p.SlowCurr:
		p.Cross = GoldenCross
	case p.FastPrev >= p.SlowPrev && p.FastCurr < p.SlowCurr:
		p.Cross = DeathCross
	}
	return p, nil
}

// IsInsufficientData reports whether err only means the window is too short.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ports.ErrInsufficientData)
}
