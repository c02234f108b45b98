package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// Repository implements the signal log, parameter store, pair state audit
// and candle history on SQLite.
type Repository struct {
	db     *sqlx.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/engine.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		counterpart TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL,
		counterpart_price REAL NOT NULL DEFAULT 0,
		ts TIMESTAMP NOT NULL,
		rationale TEXT NOT NULL DEFAULT '',
		correlation REAL NULL,
		z_score REAL NULL
	);

	CREATE TABLE IF NOT EXISTS parameter_sets (
		symbol TEXT PRIMARY KEY,
		fast_period INTEGER NOT NULL,
		slow_period INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time INTEGER NOT NULL, -- unix millis
		close_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, open_time)
	);

	CREATE TABLE IF NOT EXISTS pair_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol_a TEXT NOT NULL,
		symbol_b TEXT NOT NULL,
		correlation REAL NOT NULL,
		spread_mean REAL NOT NULL,
		spread_std REAL NOT NULL,
		z_score REAL NOT NULL,
		status TEXT NOT NULL,
		evaluated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals (symbol, ts);
	CREATE INDEX IF NOT EXISTS idx_pair_states_pair ON pair_states (symbol_a, symbol_b, evaluated_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- SignalSink Implementation ---

// Append stores a signal. A signal with an existing ID is ignored.
func (r *Repository) Append(ctx context.Context, s *domain.Signal) error {
	op := "Append"
	if s == nil || s.ID == "" {
		return fmt.Errorf("%s: %w: signal without id", op, ports.ErrInvalidRequest)
	}
	const query = `
	INSERT OR IGNORE INTO signals
		(id, symbol, counterpart, kind, direction, price, counterpart_price, ts, rationale, correlation, z_score)
	VALUES
		(:id, :symbol, :counterpart, :kind, :direction, :price, :counterpart_price, :ts, :rationale, :correlation, :z_score)`
	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// Signals returns up to limit signals for symbol, newest first. An empty
// symbol lists every symbol.
func (r *Repository) Signals(ctx context.Context, symbol string, limit int) ([]*domain.Signal, error) {
	op := "Signals"
	if limit <= 0 {
		limit = 100
	}
	var out []*domain.Signal
	var err error
	if symbol == "" {
		err = r.db.SelectContext(ctx, &out, `SELECT * FROM signals ORDER BY ts DESC, id LIMIT ?`, limit)
	} else {
		err = r.db.SelectContext(ctx, &out, `SELECT * FROM signals WHERE symbol = ? OR counterpart = ? ORDER BY ts DESC, id LIMIT ?`, symbol, symbol, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return out, nil
}

// --- ParameterStore Implementation ---

// SaveParameters overwrites the stored parameters for p.Symbol.
func (r *Repository) SaveParameters(ctx context.Context, p domain.ParameterSet) error {
	op := "SaveParameters"
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrInvalidParameters, err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	const query = `
	INSERT INTO parameter_sets (symbol, fast_period, slow_period, updated_at)
	VALUES (:symbol, :fast_period, :slow_period, :updated_at)
	ON CONFLICT(symbol) DO UPDATE SET
		fast_period = excluded.fast_period,
		slow_period = excluded.slow_period,
		updated_at = excluded.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// LoadParameters returns nil, nil when nothing is stored for symbol.
func (r *Repository) LoadParameters(ctx context.Context, symbol string) (*domain.ParameterSet, error) {
	op := "LoadParameters"
	var p domain.ParameterSet
	err := r.db.GetContext(ctx, &p, `SELECT symbol, fast_period, slow_period, updated_at FROM parameter_sets WHERE symbol = ?`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return &p, nil
}

// LoadAllParameters lists every stored parameter set ordered by symbol.
func (r *Repository) LoadAllParameters(ctx context.Context) ([]domain.ParameterSet, error) {
	op := "LoadAllParameters"
	var out []domain.ParameterSet
	if err := r.db.SelectContext(ctx, &out, `SELECT symbol, fast_period, slow_period, updated_at FROM parameter_sets ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return out, nil
}

// --- PairStateStore Implementation ---

// SavePairStates appends one row per pair state.
func (r *Repository) SavePairStates(ctx context.Context, states []domain.PairState) error {
	op := "SavePairStates"
	if len(states) == 0 {
		return nil
	}
	const query = `
	INSERT INTO pair_states (symbol_a, symbol_b, correlation, spread_mean, spread_std, z_score, status, evaluated_at)
	VALUES (:symbol_a, :symbol_b, :correlation, :spread_mean, :spread_std, :z_score, :status, :evaluated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, states); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// LatestPairStates returns the most recent state of every evaluated pair.
func (r *Repository) LatestPairStates(ctx context.Context) ([]domain.PairState, error) {
	op := "LatestPairStates"
	const query = `
	SELECT p.symbol_a, p.symbol_b, p.correlation, p.spread_mean, p.spread_std, p.z_score, p.status, p.evaluated_at
	FROM pair_states p
	JOIN (SELECT symbol_a, symbol_b, MAX(id) AS id FROM pair_states GROUP BY symbol_a, symbol_b) latest
		ON latest.id = p.id
	ORDER BY p.symbol_a, p.symbol_b`
	var out []domain.PairState
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return out, nil
}

// --- Candle history ---

type candleRow struct {
	Symbol    string  `db:"symbol"`
	Interval  string  `db:"interval"`
	OpenTime  int64   `db:"open_time"`
	CloseTime int64   `db:"close_time"`
	Open      float64 `db:"open"`
	High      float64 `db:"high"`
	Low       float64 `db:"low"`
	Close     float64 `db:"close"`
	Volume    float64 `db:"volume"`
}

func toRow(c *domain.Candle) candleRow {
	return candleRow{
		Symbol:    c.Symbol,
		Interval:  c.Interval,
		OpenTime:  c.OpenTime.UnixMilli(),
		CloseTime: c.CloseTime.UnixMilli(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

func (row candleRow) candle() *domain.Candle {
	return &domain.Candle{
		Symbol:    row.Symbol,
		Interval:  row.Interval,
		OpenTime:  time.UnixMilli(row.OpenTime).UTC(),
		CloseTime: time.UnixMilli(row.CloseTime).UTC(),
		Open:      row.Open,
		High:      row.High,
		Low:       row.Low,
		Close:     row.Close,
		Volume:    row.Volume,
		IsFinal:   true,
	}
}

// SaveCandles upserts closed candles keyed by symbol and open time.
func (r *Repository) SaveCandles(ctx context.Context, candles []*domain.Candle) error {
	op := "SaveCandles"
	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		if c != nil {
			rows = append(rows, toRow(c))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	const query = `
	INSERT OR REPLACE INTO candles (symbol, interval, open_time, close_time, open, high, low, close, volume)
	VALUES (:symbol, :interval, :open_time, :close_time, :open, :high, :low, :close, :volume)`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrDBConnection, err)
	}
	defer tx.Rollback()
	// batches keep the statement under SQLite's variable limit
	const batch = 100
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		if _, err := tx.NamedExecContext(ctx, query, rows[start:end]); err != nil {
			return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// Candles implements ports.CandleHistory.
func (r *Repository) Candles(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Candle, error) {
	op := "Candles"
	var rows []candleRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM candles WHERE symbol = ? AND open_time >= ? AND open_time < ? ORDER BY open_time`,
		symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return toCandles(rows), nil
}

// Recent implements ports.CandleHistory.
func (r *Repository) Recent(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	op := "Recent"
	if limit <= 0 {
		return nil, fmt.Errorf("%s: %w: limit must be positive", op, ports.ErrInvalidParameters)
	}
	var rows []candleRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM (SELECT * FROM candles WHERE symbol = ? ORDER BY open_time DESC LIMIT ?) ORDER BY open_time`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return toCandles(rows), nil
}

func toCandles(rows []candleRow) []*domain.Candle {
	out := make([]*domain.Candle, len(rows))
	for i, row := range rows {
		out[i] = row.candle()
	}
	return out
}
