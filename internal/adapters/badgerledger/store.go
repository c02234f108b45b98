package badgerledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
	"github.com/urpe/trading-system-gcp-sub000/internal/ports"
)

var (
	walletKey      = []byte("wallet")
	positionPrefix = []byte("position/")
	journalPrefix  = []byte("journal/")
)

// Store implements ports.LedgerStore on BadgerDB. Badger's serializable
// transactions detect concurrent writes to the wallet or a position at commit.
type Store struct {
	db     *badger.DB
	logger ports.Logger
}

// Config holds configuration for the Badger ledger store.
type Config struct {
	Path     string
	InMemory bool
	Logger   ports.Logger
}

// New opens (or creates) the ledger database.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for badger ledger store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := cfg.Path
		if path == "" {
			path = "./data/ledger"
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory '%s': %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	// Badger's own logging is disabled; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		err = fmt.Errorf("%w: failed to open badger at '%s': %w", ports.ErrDBConnection, cfg.Path, err)
		cfg.Logger.Error(context.Background(), err, "Ledger store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Badger ledger store opened", map[string]interface{}{
		"path":      cfg.Path,
		"in_memory": cfg.InMemory,
	})
	return &Store{db: db, logger: cfg.Logger}, nil
}

func positionKey(symbol string) []byte {
	return append(append([]byte{}, positionPrefix...), symbol...)
}

// journalKey orders entries by time; the zero padded nanos keep lexical and
// chronological order the same.
func journalKey(e *domain.LedgerEntry) []byte {
	return []byte(fmt.Sprintf("%s%020d-%s", journalPrefix, e.CreatedAt.UnixNano(), e.ID))
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		if len(val) == 0 {
			return errors.New("empty value in ledger store")
		}
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// Transact implements ports.LedgerStore.
func (s *Store) Transact(ctx context.Context, symbol string, fn func(ports.LedgerSnapshot) (*ports.LedgerMutation, error)) error {
	op := "Transact"
	err := s.db.Update(func(txn *badger.Txn) error {
		var snap ports.LedgerSnapshot
		var wallet domain.WalletState
		found, err := getJSON(txn, walletKey, &wallet)
		if err != nil {
			return fmt.Errorf("%w: read wallet: %w", ports.ErrQueryFailed, err)
		}
		if found {
			snap.Wallet = &wallet
		}
		var pos domain.Position
		found, err = getJSON(txn, positionKey(symbol), &pos)
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

		if err := setJSON(txn, walletKey, mut.Wallet); err != nil {
			return fmt.Errorf("%w: write wallet: %w", ports.ErrUpdateFailed, err)
		}
		if mut.Position == nil {
			if err := txn.Delete(positionKey(symbol)); err != nil {
				return fmt.Errorf("%w: delete position %s: %w", ports.ErrUpdateFailed, symbol, err)
			}
		} else if err := setJSON(txn, positionKey(symbol), mut.Position); err != nil {
			return fmt.Errorf("%w: write position %s: %w", ports.ErrUpdateFailed, symbol, err)
		}
		if mut.Entry != nil {
			if err := setJSON(txn, journalKey(mut.Entry), mut.Entry); err != nil {
				return fmt.Errorf("%w: write journal: %w", ports.ErrUpdateFailed, err)
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%s: %w", op, ports.ErrLedgerConflict)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Wallet implements ports.LedgerStore.
func (s *Store) Wallet(ctx context.Context) (*domain.WalletState, error) {
	var w domain.WalletState
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, walletKey, &w)
		return err
	})
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
	var out []*domain.Position
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Prefix: positionPrefix})
		defer it.Close()
		for it.Seek(positionPrefix); it.ValidForPrefix(positionPrefix); it.Next() {
			var p domain.Position
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				return err
			}
			out = append(out, &p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %w", ports.ErrQueryFailed, err)
	}
	return out, nil
}

// Journal implements ports.LedgerStore.
func (s *Store) Journal(ctx context.Context, limit int) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Reverse: true, Prefix: journalPrefix})
		defer it.Close()
		seek := append(append([]byte{}, journalPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(journalPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var e domain.LedgerEntry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: journal: %w", ports.ErrQueryFailed, err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.logger.Info(context.Background(), "Closing badger ledger store")
	return s.db.Close()
}
