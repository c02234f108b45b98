// Package redisledger keeps the shared wallet in Redis so several engine
// processes can trade against one account.
package redisledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

// Config holds configuration for the Redis ledger store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "ledger:"
	Logger    ports.Logger
}

// Store implements ports.LedgerStore with WATCH/MULTI/EXEC.
type Store struct {
	client *redis.Client
	prefix string
	logger ports.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for redis ledger store")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", ports.ErrConfigurationError)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		err = fmt.Errorf("%w: redis at %s: %w", ports.ErrDBConnection, cfg.Addr, err)
		cfg.Logger.Error(ctx, err, "Ledger store initialization failed")
		return nil, err
	}
	return NewFromClient(client, cfg.KeyPrefix, cfg.Logger), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string, logger ports.Logger) *Store {
	if prefix == "" {
		prefix = "ledger:"
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) walletKey() string { return s.prefix + "wallet" }
func (s *Store) positionIndexKey() string { return s.prefix + "positions" }
func (s *Store) positionKey(sym string) string { return s.prefix + "position:" + sym }
func (s *Store) journalKey() string { return s.prefix + "journal" }

func getJSON(ctx context.Context, c redis.Cmdable, key string, v interface{}) (bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

// Transact implements ports.LedgerStore.
func (s *Store) Transact(ctx context.Context, symbol string, fn func(ports.LedgerSnapshot) (*ports.LedgerMutation, error)) error {
	op := "Transact"
	walletKey, posKey := s.walletKey(), s.positionKey(symbol)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var snap ports.LedgerSnapshot
		var wallet domain.WalletState
		found, err := getJSON(ctx, tx, walletKey, &wallet)
		if err != nil {
			return fmt.Errorf("%w: read wallet: %w", ports.ErrQueryFailed, err)
		}
		if found {
			snap.Wallet = &wallet
		}
		var pos domain.Position
		found, err = getJSON(ctx, tx, posKey, &pos)
		if err != nil {
			return fmt.Errorf("%w: read position %s: %w", ports.ErrQueryFailed, symbol, err)
		}
		if found {
			snap.Position = &pos
		}

		mut, err := fn(snap)
		if err != nil {
			return err
		}
		if mut == nil {
			return nil
		}

		walletData, err := json.Marshal(mut.Wallet)
		if err != nil {
			return err
		}
		var posData, entryData []byte
		if mut.Position != nil {
			if posData, err = json.Marshal(mut.Position); err != nil {
				return err
			}
		}
		if mut.Entry != nil {
			if entryData, err = json.Marshal(mut.Entry); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, walletKey, walletData, 0)
			if posData == nil {
				pipe.Del(ctx, posKey)
				pipe.SRem(ctx, s.positionIndexKey(), symbol)
			} else {
				pipe.Set(ctx, posKey, posData, 0)
				pipe.SAdd(ctx, s.positionIndexKey(), symbol)
			}
			if entryData != nil {
				pipe.ZAdd(ctx, s.journalKey(), redis.Z{
					Score:  float64(mut.Entry.CreatedAt.UnixNano()),
					Member: entryData,
				})
			}
			return nil
		})
		return err
	}, walletKey, posKey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%s: %w", op, ports.ErrLedgerConflict)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Wallet implements ports.LedgerStore.
func (s *Store) Wallet(ctx context.Context) (*domain.WalletState, error) {
	var w domain.WalletState
	found, err := getJSON(ctx, s.client, s.walletKey(), &w)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet: %w", ports.ErrQueryFailed, err)
	}
	if !found {
		return nil, nil
	}
	return &w, nil
}

// Positions implements ports.LedgerStore. Results are ordered by symbol.
func (s *Store) Positions(ctx context.Context) ([]*domain.Position, error) {
	symbols, err := s.client.Sort(ctx, s.positionIndexKey(), &redis.Sort{Alpha: true}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: position index: %w", ports.ErrQueryFailed, err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = s.positionKey(sym)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %w", ports.ErrQueryFailed, err)
	}
	out := make([]*domain.Position, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Position
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("%w: decode position: %w", ports.ErrQueryFailed, err)
		}
		out = append(out, &p)
	}
	return out, nil
}

// Journal implements ports.LedgerStore.
func (s *Store) Journal(ctx context.Context, limit int) ([]*domain.LedgerEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := s.client.ZRevRange(ctx, s.journalKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: journal: %w", ports.ErrQueryFailed, err)
	}
	out := make([]*domain.LedgerEntry, 0, len(members))
	for _, m := range members {
		var e domain.LedgerEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("%w: decode journal entry: %w", ports.ErrQueryFailed, err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// Close closes the client.
func (s *Store) Close() error {
	s.logger.Info(context.Background(), "Closing redis ledger store")
	return s.client.Close()
}
