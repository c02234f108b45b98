package ports

import (
	"context"

	"github.com/urpe/trading-system-gcp-sub000/internal/domain"
)

// LedgerSnapshot is what a ledger transaction reads.
// Wallet and Position are nil when the record does not exist yet.
type LedgerSnapshot struct {
	Wallet   *domain.WalletState
	Position *domain.Position
}

// LedgerMutation is what a ledger transaction writes.
// A nil Position deletes the symbol's position record.
type LedgerMutation struct {
	Wallet   domain.WalletState
	Position *domain.Position
	Entry    *domain.LedgerEntry
}

// LedgerStore supports optimistic read-modify-write of the wallet and one position.
type LedgerStore interface {
	// Transact reads the wallet and the symbol's position, passes them to fn and
	// commits the returned mutation atomically. If another transaction committed
	// a change to the same records first, Transact returns ErrLedgerConflict and
	// nothing is written. An error from fn aborts the transaction unchanged.
	Transact(ctx context.Context, symbol string, fn func(LedgerSnapshot) (*LedgerMutation, error)) error

	// Wallet returns nil, nil when the wallet has never been written.
	Wallet(ctx context.Context) (*domain.WalletState, error)
	Positions(ctx context.Context) ([]*domain.Position, error)
	// Journal returns up to limit of the most recent entries, newest first.
	Journal(ctx context.Context, limit int) ([]*domain.LedgerEntry, error)
	Close() error
}
