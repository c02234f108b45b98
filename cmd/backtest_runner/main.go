package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/urpe/trading-system-gcp-sub000/config"
	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/sqlite"
	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/arbitrage"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/backtesting"
	"github.com/urpe/trading-system-gcp-sub000/internal/strategy/optimization"
	"github.com/urpe/trading-system-gcp-sub000/internal/utils"
)

// historyFlags select where candles come from: CSV files (one per symbol, in
// argument order) or the engine database.
type historyFlags struct {
	files  []string
	dbPath string
	days   int
}

func main() {
	root := &cobra.Command{
		Use:          "backtest_runner",
		Short:        "Offline backtests and parameter search over stored candles",
		SilenceUsage: true,
	}
	hist := &historyFlags{}
	root.PersistentFlags().StringSliceVar(&hist.files, "csv", nil, "CSV files written by fetch_klines, one per symbol")
	root.PersistentFlags().StringVar(&hist.dbPath, "db", "", "engine database (default: DB_PATH from the environment)")
	root.PersistentFlags().IntVar(&hist.days, "days", 30, "days of history read from the database")

	root.AddCommand(crossoverCmd(hist), pairsCmd(hist), optimizeCmd(hist))

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func crossoverCmd(hist *historyFlags) *cobra.Command {
	var (
		fast, slow int
		capital    float64
		showTrades bool
	)
	cmd := &cobra.Command{
		Use:   "crossover SYMBOL",
		Short: "Replay the moving-average crossover for one symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			series, err := hist.load(cmd.Context(), symbol)
			if err != nil {
				return err
			}
			params := domain.ParameterSet{Symbol: symbol, FastPeriod: fast, SlowPeriod: slow}
			res, err := backtesting.RunCrossover(symbol, series[symbol], capital, params)
			if err != nil {
				return err
			}
			renderCrossover(os.Stdout, res, len(series[symbol]))
			renderIndicators(cmd.Context(), os.Stdout, series[symbol], params)
			if showTrades {
				renderTrades(os.Stdout, res.Trades, res.OpenTrade)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&fast, "fast", domain.DefaultFastPeriod, "fast SMA period")
	cmd.Flags().IntVar(&slow, "slow", domain.DefaultSlowPeriod, "slow SMA period")
	cmd.Flags().Float64Var(&capital, "capital", backtesting.DefaultCapital, "starting capital")
	cmd.Flags().BoolVar(&showTrades, "trades", false, "list every round trip")
	return cmd
}

func pairsCmd(hist *historyFlags) *cobra.Command {
	var (
		window     int
		zThreshold float64
		capital    float64
		showTrades bool
	)
	cmd := &cobra.Command{
		Use:   "pairs SYMBOL_A SYMBOL_B",
		Short: "Replay the spread z-score strategy on a symbol pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b := strings.ToUpper(args[0]), strings.ToUpper(args[1])
			series, err := hist.load(cmd.Context(), a, b)
			if err != nil {
				return err
			}
			res, err := arbitrage.Backtest(a, b, series[a], series[b], arbitrage.BacktestConfig{
				Capital:    capital,
				Window:     window,
				ZThreshold: zThreshold,
			})
			if err != nil {
				return err
			}
			renderPairs(os.Stdout, res)
			if showTrades {
				renderTrades(os.Stdout, res.Trades, res.OpenTrade)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&window, "window", 24, "rolling window for the spread statistics")
	cmd.Flags().Float64Var(&zThreshold, "z", arbitrage.DefaultZThreshold, "absolute z-score that opens a trade")
	cmd.Flags().Float64Var(&capital, "capital", backtesting.DefaultCapital, "starting capital")
	cmd.Flags().BoolVar(&showTrades, "trades", false, "list every round trip")
	return cmd
}

func optimizeCmd(hist *historyFlags) *cobra.Command {
	var (
		capital float64
		workers int
	)
	cmd := &cobra.Command{
		Use:   "optimize SYMBOL...",
		Short: "Grid-search crossover periods for each symbol",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := make([]string, len(args))
			for i, s := range args {
				symbols[i] = strings.ToUpper(s)
			}
			series, err := hist.load(cmd.Context(), symbols...)
			if err != nil {
				return err
			}
			optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
				InitialCapital: capital,
				Workers:        workers,
			})
			if err != nil {
				return err
			}
			results := make([]*optimization.OptimizationResult, 0, len(symbols))
			for _, s := range symbols {
				res, err := optimizer.Optimize(cmd.Context(), s, domain.Closes(series[s]))
				if err != nil {
					return fmt.Errorf("optimize %s: %w", s, err)
				}
				results = append(results, res)
			}
			renderOptimization(os.Stdout, results, capital)
			return nil
		},
	}
	cmd.Flags().Float64Var(&capital, "capital", 1000, "capital each combination is replayed with")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel backtests (default: number of CPUs)")
	return cmd
}

// load returns candles keyed by symbol, oldest first.
func (h *historyFlags) load(ctx context.Context, symbols ...string) (map[string][]*domain.Candle, error) {
	out := make(map[string][]*domain.Candle, len(symbols))
	if len(h.files) > 0 {
		if len(h.files) != len(symbols) {
			return nil, fmt.Errorf("got %d CSV files for %d symbols", len(h.files), len(symbols))
		}
		for i, s := range symbols {
			candles, err := utils.ReadKlinesFromCSV(h.files[i])
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", h.files[i], err)
			}
			out[s] = candles
		}
		return out, nil
	}

	dbPath := h.dbPath
	if dbPath == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.DBPath
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: dbPath, Logger: quietLogger{}})
	if err != nil {
		return nil, err
	}
	defer repo.Close()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -h.days)
	for _, s := range symbols {
		candles, err := repo.Candles(ctx, s, start, end)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", s, err)
		}
		if len(candles) == 0 {
			return nil, fmt.Errorf("no candles stored for %s in the last %d days, run fetch_klines first", s, h.days)
		}
		out[s] = candles
	}
	return out, nil
}

// quietLogger drops repository logs so only the report reaches stdout.
type quietLogger struct{}

func (quietLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (quietLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (quietLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (quietLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
}
