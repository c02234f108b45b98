package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/urpe/trading-system-gcp-sub000/internal/adapters/logger"
	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Market data
	Symbols              []string
	Interval             string
	IsTestnet            bool
	APIKey               string // optional, klines are public
	SecretKey            string
	RequestsPerSecond    float64
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	WarmupCandles        int    // closed candles loaded per symbol before streaming
	HistorySource        string // "db" or "exchange" for optimizer and scanner history

	// Storage
	DBPath        string
	LedgerBackend string // "badger" or "redis"
	LedgerPath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ledger
	InitialCapital      float64
	LedgerMaxAttempts   int
	LedgerBackoffBase   time.Duration
	LedgerBackoffJitter time.Duration

	// Signal generator
	DefaultFastPeriod int
	DefaultSlowPeriod int

	// Walk-forward optimizer
	OptimizerInterval time.Duration
	OptimizerLookback time.Duration
	OptimizerCapital  float64
	OptimizerWorkers  int

	// Arbitrage detector
	ArbInterval             time.Duration
	ArbWindow               int
	ArbCorrelationThreshold float64
	ArbZThreshold           float64

	// Paper trading
	PaperTrading        bool
	TradeFraction       float64 // fraction of the free balance per entry (e.g., 0.1)
	MaxPositionNotional float64 // 0 for no cap
	MaxOpenPositions    int     // 0 for no limit
	SeenSetLimit        int

	// Ops
	MetricsAddr string

	// Logging
	LogLevel  logger.LogLevel
	LogOutput string
	LogFile   string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Market data
	cfg.Symbols = getEnvAsList("SYMBOLS", []string{"BTCUSDT", "ETHUSDT"})
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	for _, s := range cfg.Symbols {
		if !domain.ValidSymbol(s) {
			errs = append(errs, fmt.Sprintf("invalid symbol %q in SYMBOLS", s))
		}
	}
	cfg.Interval = getEnv("INTERVAL", "1h")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")

	cfg.RequestsPerSecond, err = getEnvAsFloatRequired("REST_REQUESTS_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REST_REQUESTS_PER_SECOND: %v", err))
	} else if cfg.RequestsPerSecond <= 0 {
		errs = append(errs, "REST_REQUESTS_PER_SECOND must be positive")
	}

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.WarmupCandles = getEnvAsInt("WARMUP_CANDLES", 200)
	if cfg.WarmupCandles < 0 || cfg.WarmupCandles > 1500 {
		errs = append(errs, "WARMUP_CANDLES must be between 0 and 1500")
	}

	cfg.HistorySource = strings.ToLower(getEnv("HISTORY_SOURCE", "db"))
	if cfg.HistorySource != "db" && cfg.HistorySource != "exchange" {
		errs = append(errs, "HISTORY_SOURCE must be 'db' or 'exchange'")
	}

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/engine.db")
	cfg.LedgerBackend = strings.ToLower(getEnv("LEDGER_BACKEND", "badger"))
	cfg.LedgerPath = getEnv("LEDGER_PATH", "./data/ledger")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	switch cfg.LedgerBackend {
	case "badger":
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR must be set when LEDGER_BACKEND=redis")
		}
	default:
		errs = append(errs, "LEDGER_BACKEND must be 'badger' or 'redis'")
	}

	// Ledger
	cfg.InitialCapital, err = getEnvAsFloatRequired("INITIAL_CAPITAL", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if cfg.InitialCapital < 0 {
		errs = append(errs, "INITIAL_CAPITAL cannot be negative")
	}

	cfg.LedgerMaxAttempts, err = getEnvAsIntRequired("LEDGER_MAX_ATTEMPTS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEDGER_MAX_ATTEMPTS: %v", err))
	} else if cfg.LedgerMaxAttempts <= 0 {
		errs = append(errs, "LEDGER_MAX_ATTEMPTS must be positive")
	}
	cfg.LedgerBackoffBase = time.Duration(getEnvAsInt("LEDGER_BACKOFF_BASE_MS", 10)) * time.Millisecond
	cfg.LedgerBackoffJitter = time.Duration(getEnvAsInt("LEDGER_BACKOFF_JITTER_MS", 10)) * time.Millisecond
	if cfg.LedgerBackoffBase <= 0 || cfg.LedgerBackoffJitter < 0 {
		errs = append(errs, "LEDGER_BACKOFF_BASE_MS must be positive and LEDGER_BACKOFF_JITTER_MS non-negative")
	}

	// Signal generator
	cfg.DefaultFastPeriod = getEnvAsInt("DEFAULT_FAST_PERIOD", domain.DefaultFastPeriod)
	cfg.DefaultSlowPeriod = getEnvAsInt("DEFAULT_SLOW_PERIOD", domain.DefaultSlowPeriod)
	defaults := domain.ParameterSet{FastPeriod: cfg.DefaultFastPeriod, SlowPeriod: cfg.DefaultSlowPeriod}
	if err := defaults.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_FAST_PERIOD/DEFAULT_SLOW_PERIOD: %v", err))
	}

	// Walk-forward optimizer
	optimizerHours := getEnvAsInt("OPTIMIZER_INTERVAL_HOURS", 12)
	lookbackDays := getEnvAsInt("OPTIMIZER_LOOKBACK_DAYS", 30)
	if optimizerHours <= 0 || lookbackDays <= 0 {
		errs = append(errs, "OPTIMIZER_INTERVAL_HOURS and OPTIMIZER_LOOKBACK_DAYS must be positive")
	}
	cfg.OptimizerInterval = time.Duration(optimizerHours) * time.Hour
	cfg.OptimizerLookback = time.Duration(lookbackDays) * 24 * time.Hour

	cfg.OptimizerCapital, err = getEnvAsFloatRequired("OPTIMIZER_CAPITAL", 1000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid OPTIMIZER_CAPITAL: %v", err))
	} else if cfg.OptimizerCapital <= 0 {
		errs = append(errs, "OPTIMIZER_CAPITAL must be positive")
	}
	cfg.OptimizerWorkers = getEnvAsInt("OPTIMIZER_WORKERS", 4)
	if cfg.OptimizerWorkers <= 0 {
		errs = append(errs, "OPTIMIZER_WORKERS must be positive")
	}

	// Arbitrage detector
	arbMinutes := getEnvAsInt("ARB_INTERVAL_MINUTES", 5)
	if arbMinutes <= 0 {
		errs = append(errs, "ARB_INTERVAL_MINUTES must be positive")
	}
	cfg.ArbInterval = time.Duration(arbMinutes) * time.Minute
	cfg.ArbWindow = getEnvAsInt("ARB_WINDOW", 24)
	if cfg.ArbWindow < 3 {
		errs = append(errs, "ARB_WINDOW must be at least 3")
	}
	cfg.ArbCorrelationThreshold, err = getEnvAsFloatRequired("ARB_CORRELATION_THRESHOLD", 0.80)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ARB_CORRELATION_THRESHOLD: %v", err))
	} else if cfg.ArbCorrelationThreshold <= -1 || cfg.ArbCorrelationThreshold >= 1 {
		errs = append(errs, "ARB_CORRELATION_THRESHOLD must be between -1 and 1 (exclusive)")
	}
	cfg.ArbZThreshold, err = getEnvAsFloatRequired("ARB_Z_THRESHOLD", 2.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ARB_Z_THRESHOLD: %v", err))
	} else if cfg.ArbZThreshold <= 0 {
		errs = append(errs, "ARB_Z_THRESHOLD must be positive")
	}

	// Paper trading
	cfg.PaperTrading = getEnvAsBool("PAPER_TRADING", true)
	cfg.TradeFraction, err = getEnvAsFloatRequired("TRADE_FRACTION", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_FRACTION: %v", err))
	} else if cfg.TradeFraction <= 0 || cfg.TradeFraction > 1 {
		errs = append(errs, "TRADE_FRACTION must be in (0, 1]")
	}
	cfg.MaxPositionNotional, err = getEnvAsFloatRequired("MAX_POSITION_NOTIONAL", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_NOTIONAL: %v", err))
	} else if cfg.MaxPositionNotional < 0 {
		errs = append(errs, "MAX_POSITION_NOTIONAL cannot be negative")
	}
	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 0)
	if cfg.MaxOpenPositions < 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS cannot be negative")
	}
	cfg.SeenSetLimit = getEnvAsInt("SEEN_SET_LIMIT", 10000)
	if cfg.SeenSetLimit <= 0 {
		errs = append(errs, "SEEN_SET_LIMIT must be positive")
	}

	// Ops
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogOutput = strings.ToLower(getEnv("LOG_OUTPUT", "console"))
	cfg.LogFile = getEnv("LOG_FILE", "./logs/engine.log")
	if cfg.LogOutput != "console" && cfg.LogOutput != "file" && cfg.LogOutput != "both" {
		errs = append(errs, "LOG_OUTPUT must be 'console', 'file' or 'both'")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, trimming and upper-casing items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
