package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

var csvHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteKlinesToCSV writes candles with a header row, creating parent directories.
func WriteKlinesToCSV(klines []*domain.Candle, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, k := range klines {
		if k == nil {
			continue
		}
		if err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesFromCSV reads a file written by WriteKlinesToCSV. Rows come back
// in file order and are marked final.
func ReadKlinesFromCSV(filename string) ([]*domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadKlines(file)
}

// ReadKlines parses CSV candle rows from r.
func ReadKlines(r io.Reader) ([]*domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != csvHeader[0] {
		return nil, fmt.Errorf("unexpected header %q", header[0])
	}

	var out []*domain.Candle
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
}

func parseRow(rec []string) (*domain.Candle, error) {
	openTime, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := time.Parse(time.RFC3339, rec[1])
	if err != nil {
		return nil, fmt.Errorf("close_time: %w", err)
	}
	var prices [5]float64
	for i := range prices {
		prices[i], err = strconv.ParseFloat(rec[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", csvHeader[4+i], err)
		}
	}
	return &domain.Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    rec[2],
		Interval:  rec[3],
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   true,
	}, nil
}
