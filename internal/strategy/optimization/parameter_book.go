package optimization

import (
	"sync/atomic"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// ParameterBook publishes the current ParameterSet per symbol. Writers swap
// in a fresh copy of the map, so readers never take a lock.
type ParameterBook struct {
	sets atomic.Pointer[map[string]domain.ParameterSet]
}

// NewParameterBook creates a book seeded with the given sets; invalid sets are skipped.
func NewParameterBook(initial ...domain.ParameterSet) *ParameterBook {
	b := &ParameterBook{}
	m := make(map[string]domain.ParameterSet, len(initial))
	for _, p := range initial {
		if p.Validate() == nil {
			m[p.Symbol] = p
		}
	}
	b.sets.Store(&m)
	return b
}

// Get returns the published set for symbol, or the defaults.
func (b *ParameterBook) Get(symbol string) domain.ParameterSet {
	if p, ok := (*b.sets.Load())[symbol]; ok {
		return p
	}
	return domain.DefaultParameters(symbol)
}

// Publish atomically replaces the set for p.Symbol. Invalid sets are rejected.
func (b *ParameterBook) Publish(p domain.ParameterSet) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for {
		old := b.sets.Load()
		next := make(map[string]domain.ParameterSet, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[p.Symbol] = p
		if b.sets.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// Snapshot copies every published set.
func (b *ParameterBook) Snapshot() map[string]domain.ParameterSet {
	cur := *b.sets.Load()
	out := make(map[string]domain.ParameterSet, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}
