package app

import (
	"context"
	"errors"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// FanOut appends every signal to each sink in order. All sinks are tried;
// the errors are joined so a retry reaches the ones that failed. Sinks must
// be idempotent on the signal ID.
type FanOut struct {
	sinks []ports.SignalSink
}

// NewFanOut skips nil sinks.
func NewFanOut(sinks ...ports.SignalSink) *FanOut {
	f := &FanOut{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *FanOut) Append(ctx context.Context, sig *domain.Signal) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Append(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
