package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/urpe/trading-system-gcp-sub000/config"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/badgerledger"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/binanceclient"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/guarded"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/httpserver"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/logger"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/redisledger"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/sqlite"
	"github.com/urpe/trading-system-gcp-sub000/internal/app"
	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/portfolio"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
	"github.com/urpe/trading-system-gcp-sub000/internal/risk"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/arbitrage"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/optimization"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/strategies"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Output: cfg.LogOutput,
		File:   cfg.LogFile,
	})
	defer appLogger.Sync()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "output": cfg.LogOutput})

	// 3. Initialize Repository (signals, parameters, candles, pair audit)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})

	// 4. Initialize Ledger Store
	store, err := newLedgerStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger store")
		log.Fatalf("FATAL: Failed to initialize ledger store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing ledger store")
		}
	}()
	appLogger.Info(ctx, "Ledger store initialized", map[string]interface{}{"backend": cfg.LedgerBackend})

	ledger, err := portfolio.NewLedger(portfolio.Config{
		Store:          store,
		Logger:         appLogger,
		InitialCapital: decimal.NewFromFloat(cfg.InitialCapital),
		MaxAttempts:    cfg.LedgerMaxAttempts,
		BackoffBase:    cfg.LedgerBackoffBase,
		BackoffJitter:  cfg.LedgerBackoffJitter,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger")
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}

	// 5. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		Interval:             cfg.Interval,
		RequestsPerSecond:    cfg.RequestsPerSecond,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	var history ports.CandleHistory = repo
	if cfg.HistorySource == "exchange" {
		history, err = guarded.NewHistory(guarded.Config{Name: "binance-history"}, binanceClient, repo, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize history guard")
			log.Fatalf("FATAL: Failed to initialize history guard: %v", err)
		}
	}

	// 6. Load published parameters
	book, err := loadParameterBook(ctx, cfg, repo)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to load parameter sets")
		log.Fatalf("FATAL: Failed to load parameter sets: %v", err)
	}
	appLogger.Info(ctx, "Parameter sets loaded", map[string]interface{}{"count": len(book.Snapshot())})

	// 7. Signal sink: repository first, then the paper executor
	var executor *portfolio.Executor
	if cfg.PaperTrading {
		sizer, err := risk.NewSizer(risk.RiskConfig{
			PositionSizePercent: cfg.TradeFraction,
			MaxPositionNotional: cfg.MaxPositionNotional,
			MaxOpenPositions:    cfg.MaxOpenPositions,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize position sizer")
			log.Fatalf("FATAL: Failed to initialize position sizer: %v", err)
		}
		executor, err = portfolio.NewExecutor(ledger, sizer, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize paper executor")
			log.Fatalf("FATAL: Failed to initialize paper executor: %v", err)
		}
		executor.SetSeenLimit(cfg.SeenSetLimit)
	}
	var sink ports.SignalSink = repo
	if executor != nil {
		sink = app.NewFanOut(repo, executor)
	}

	// 8. Strategies
	generator, err := strategies.NewMACrossover(strategies.MACrossoverConfig{}, book, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal generator")
		log.Fatalf("FATAL: Failed to initialize signal generator: %v", err)
	}

	detector, err := arbitrage.NewDetector(arbitrage.DetectorConfig{
		Window:               cfg.ArbWindow,
		CorrelationThreshold: cfg.ArbCorrelationThreshold,
		ZThreshold:           cfg.ArbZThreshold,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize pair detector")
		log.Fatalf("FATAL: Failed to initialize pair detector: %v", err)
	}
	scanner, err := arbitrage.NewScanner(arbitrage.ScannerConfig{
		Symbols:  cfg.Symbols,
		Interval: cfg.ArbInterval,
	}, detector, history, sink, repo, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize pair scanner")
		log.Fatalf("FATAL: Failed to initialize pair scanner: %v", err)
	}

	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		InitialCapital: cfg.OptimizerCapital,
		Workers:        cfg.OptimizerWorkers,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize optimizer")
		log.Fatalf("FATAL: Failed to initialize optimizer: %v", err)
	}
	walkForward, err := optimization.NewWalkForward(optimization.WalkForwardConfig{
		Symbols:  cfg.Symbols,
		Interval: cfg.OptimizerInterval,
		Lookback: cfg.OptimizerLookback,
	}, optimizer, history, repo, book, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize walk-forward optimizer")
		log.Fatalf("FATAL: Failed to initialize walk-forward optimizer: %v", err)
	}

	// 9. Ops server
	server, err := httpserver.New(httpserver.Config{
		Addr:       cfg.MetricsAddr,
		Logger:     appLogger,
		Ledger:     ledger,
		Signals:    repo,
		Pairs:      repo,
		Parameters: book,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ops server")
		log.Fatalf("FATAL: Failed to initialize ops server: %v", err)
	}

	// 10. Initialize Application Service
	deps := app.Dependencies{
		Market:    binanceClient,
		History:   history,
		Candles:   repo,
		Generator: generator,
		Sink:      sink,
		Server:    server,
		Loops: map[string]app.Loop{
			"pair_scanner": scanner,
			"walk_forward": walkForward,
		},
	}
	if executor != nil {
		deps.Positions = ledger
	}
	service, err := app.NewService(app.Config{
		Symbols:       cfg.Symbols,
		Interval:      cfg.Interval,
		WarmupCandles: cfg.WarmupCandles,
	}, deps, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize engine service")
		log.Fatalf("FATAL: Failed to initialize engine service: %v", err)
	}
	appLogger.Info(ctx, "Engine service initialized", map[string]interface{}{"paper_trading": cfg.PaperTrading})

	// 11. Start the Service
	if err := service.Start(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Engine service exited with error")
		exitCode = 1
		return
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

func newLedgerStore(ctx context.Context, cfg *config.Config, l ports.Logger) (ports.LedgerStore, error) {
	if cfg.LedgerBackend == "redis" {
		return redisledger.New(ctx, redisledger.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   l,
		})
	}
	return badgerledger.New(badgerledger.Config{
		Path:   cfg.LedgerPath,
		Logger: l,
	})
}

// loadParameterBook seeds the book with stored sets, falling back to the
// configured defaults for symbols that were never optimized.
func loadParameterBook(ctx context.Context, cfg *config.Config, store ports.ParameterStore) (*optimization.ParameterBook, error) {
	stored, err := store.LoadAllParameters(ctx)
	if err != nil {
		return nil, err
	}
	initial := make([]domain.ParameterSet, 0, len(cfg.Symbols)+len(stored))
	for _, s := range cfg.Symbols {
		initial = append(initial, domain.ParameterSet{Symbol: s, FastPeriod: cfg.DefaultFastPeriod, SlowPeriod: cfg.DefaultSlowPeriod})
	}
	initial = append(initial, stored...)
	return optimization.NewParameterBook(initial...), nil
}
