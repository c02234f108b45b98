package optimization

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

func TestParameterBook(t *testing.T) {
	book := NewParameterBook(
		domain.ParameterSet{Symbol: "BTCUSDT", FastPeriod: 7, SlowPeriod: 35},
		domain.ParameterSet{Symbol: "BAD", FastPeriod: 40, SlowPeriod: 35},
	)

	assert.Equal(t, 7, book.Get("BTCUSDT").FastPeriod)
	assert.Equal(t, domain.DefaultParameters("BAD"), book.Get("BAD"))
	assert.Equal(t, domain.DefaultParameters("ETHUSDT"), book.Get("ETHUSDT"))

	require.NoError(t, book.Publish(domain.ParameterSet{Symbol: "ETHUSDT", FastPeriod: 9, SlowPeriod: 45}))
	assert.Equal(t, 45, book.Get("ETHUSDT").SlowPeriod)
	assert.Error(t, book.Publish(domain.ParameterSet{Symbol: "ETHUSDT", FastPeriod: 45, SlowPeriod: 45}))
	assert.Equal(t, 45, book.Get("ETHUSDT").SlowPeriod)

	snap := book.Snapshot()
	assert.Len(t, snap, 2)
	snap["XRPUSDT"] = domain.ParameterSet{}
	assert.Len(t, book.Snapshot(), 2)
}

func TestParameterBook_ConcurrentPublish(t *testing.T) {
	book := NewParameterBook()
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, s := range symbols {
			wg.Add(2)
			go func(s string, fast int) {
				defer wg.Done()
				_ = book.Publish(domain.ParameterSet{Symbol: s, FastPeriod: fast, SlowPeriod: 60})
			}(s, 5+i%20)
			go func(s string) {
				defer wg.Done()
				assert.NoError(t, book.Get(s).Validate())
			}(s)
		}
	}
	wg.Wait()
	assert.Len(t, book.Snapshot(), len(symbols))
}
