package utils

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

func TestWriteAndReadKlines(t *testing.T) {
	open := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	klines := []*domain.Candle{
		{OpenTime: open, CloseTime: open.Add(time.Hour - time.Second), Symbol: "BTCUSDT", Interval: "1h", Open: 1, High: 2.5, Low: 0.5, Close: 2, Volume: 10},
		nil,
		{OpenTime: open.Add(time.Hour), CloseTime: open.Add(2*time.Hour - time.Second), Symbol: "BTCUSDT", Interval: "1h", Open: 2, High: 3, Low: 1.75, Close: 2.25, Volume: 12.5},
	}
	filename := filepath.Join(t.TempDir(), "nested", "btc.csv")

	require.NoError(t, WriteKlinesToCSV(klines, filename))
	got, err := ReadKlinesFromCSV(filename)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].OpenTime.Equal(open))
	assert.Equal(t, 2.25, got[1].Close)
	assert.Equal(t, 12.5, got[1].Volume)
	assert.True(t, got[1].IsFinal)
}

func TestReadKlines_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad header", "time,a,b,c,d,e,f,g,h\n", "unexpected header"},
		{"bad price", "open_time,close_time,symbol,interval,open,high,low,close,volume\n" +
			"2024-03-01T00:00:00Z,2024-03-01T00:59:59Z,BTCUSDT,1h,x,1,1,1,1\n", "line 2: open"},
		{"bad time", "open_time,close_time,symbol,interval,open,high,low,close,volume\n" +
			"yesterday,2024-03-01T00:59:59Z,BTCUSDT,1h,1,1,1,1,1\n", "open_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadKlines(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	got, err := ReadKlines(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}
