package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegistered(t *testing.T) {
	SignalsTotal.WithLabelValues("crossover", "BUY").Inc()
	LedgerOutcomes.WithLabelValues("applied").Inc()
	LedgerAttempts.Observe(2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["engine_signals_total"])
	assert.True(t, names["engine_ledger_trades_total"])
	assert.True(t, names["engine_ledger_attempts"])
}
