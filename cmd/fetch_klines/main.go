package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/urpe/trading-system-gcp-sub000/config"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/binanceclient"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/logger"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/sqlite"
	"github.com/urpe/trading-system-gcp-sub000/internal/utils"
)

type options struct {
	symbols  []string
	interval string
	days     int
	csvDir   string
	noDB     bool
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "fetch_klines",
		Short: "Download historical candles from Binance into the engine database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.symbols, "symbols", nil, "symbols to fetch (default: SYMBOLS from the environment)")
	cmd.Flags().StringVar(&opts.interval, "interval", "", "candle interval (default: INTERVAL from the environment)")
	cmd.Flags().IntVar(&opts.days, "days", 90, "days of history to fetch")
	cmd.Flags().StringVar(&opts.csvDir, "csv-dir", "", "also write one CSV file per symbol into this directory")
	cmd.Flags().BoolVar(&opts.noDB, "no-db", false, "skip writing to the database")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if len(opts.symbols) == 0 {
		opts.symbols = cfg.Symbols
	}
	if opts.interval == "" {
		opts.interval = cfg.Interval
	}
	if opts.days <= 0 {
		return fmt.Errorf("--days must be positive")
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Output: "console"})
	defer appLogger.Sync()

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		Interval:             opts.interval,
		RequestsPerSecond:    cfg.RequestsPerSecond,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	var repo *sqlite.Repository
	if !opts.noDB {
		repo, err = sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			return fmt.Errorf("failed to initialize database repository: %w", err)
		}
		defer repo.Close()
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -opts.days)
	for _, symbol := range opts.symbols {
		symbol = strings.ToUpper(symbol)
		fmt.Printf("Fetching klines for %s %s from %s to %s...\n", symbol, opts.interval, start.Format(time.RFC3339), end.Format(time.RFC3339))
		klines, err := binanceClient.GetKlinesRange(ctx, symbol, opts.interval, start, end)
		if err != nil {
			appLogger.Error(ctx, err, "Error fetching klines", map[string]interface{}{"symbol": symbol})
			return fmt.Errorf("fetch %s: %w", symbol, err)
		}
		appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"symbol": symbol, "count": len(klines)})

		if repo != nil {
			if err := repo.SaveCandles(ctx, klines); err != nil {
				return fmt.Errorf("save %s: %w", symbol, err)
			}
		}
		if opts.csvDir != "" {
			filename := fmt.Sprintf("%s/%s_%s_%s_to_%s.csv", opts.csvDir, symbol, opts.interval, start.Format("20060102"), end.Format("20060102"))
			if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
				return fmt.Errorf("write %s: %w", filename, err)
			}
			appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
		}
	}
	return nil
}
