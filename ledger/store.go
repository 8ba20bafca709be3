/*
store.go - Persistence interface for the coin ledger

PURPOSE:
  Defines the interface between the ledger logic and the database. The Store
  is APPEND-ONLY for transactions: no Update, no Delete, ever. The only
  mutable row is the user record, whose coin counter is a display cache.

QUERY SHAPES:
  The engine needs exactly three indexed lookup paths over transactions:
   (a) all transactions for a user, most recent first      -> History
   (b) a user's CREDITs by expiry range, expiry ascending   -> ActiveCredits,
       ExpiredCredits, ExpiringCredits (cross-user variant)
   (c) all debits referencing a given credit id             -> DebitsAgainst

FIFO CONTRACT:
  ActiveCredits MUST return credits ordered by ExpiresAt ascending, ties
  broken by CreatedAt ascending then ID ascending. This ordering IS the FIFO
  guarantee; the engine walks it without re-sorting.

IMPLEMENTATIONS:
  - store/sqlite:      durable SQLite store (production)
  - ledger/store:      in-memory store (tests)
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Append-only transaction persistence plus the user record
// =============================================================================

type Store interface {
	// Append persists one transaction. This is the only transaction write.
	Append(ctx context.Context, tx Transaction) error

	// History returns all transactions for a user, most recent first
	// (CreatedAt descending, ID descending for determinism).
	History(ctx context.Context, userID string) ([]Transaction, error)

	// ActiveCredits returns the user's CREDIT transactions with
	// ExpiresAt > asOf, in FIFO order (ExpiresAt asc, CreatedAt asc, ID asc).
	ActiveCredits(ctx context.Context, userID string, asOf time.Time) ([]Transaction, error)

	// ExpiredCredits returns the user's CREDIT transactions with
	// ExpiresAt <= asOf, ExpiresAt ascending. Previously reconciled credits
	// are included; the reconciler re-derives what is left to do.
	ExpiredCredits(ctx context.Context, userID string, asOf time.Time) ([]Transaction, error)

	// DebitsAgainst returns every debit transaction whose SourceCreditID is
	// the given credit id, CreatedAt ascending.
	DebitsAgainst(ctx context.Context, creditID string) ([]Transaction, error)

	// ExpiringCredits returns CREDIT transactions across all users with
	// from < ExpiresAt <= to, ExpiresAt ascending. Used by the expiring-soon
	// summary refresh.
	ExpiringCredits(ctx context.Context, from, to time.Time) ([]Transaction, error)

	// GetUser returns the user record, or nil if the user has never been
	// created.
	GetUser(ctx context.Context, userID string) (*User, error)

	// SaveUser upserts the user record.
	SaveUser(ctx context.Context, u *User) error

	// UserIDs returns every known user id. Drives the periodic sweep.
	UserIDs(ctx context.Context) ([]string, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic read-compute-write sequences
// =============================================================================

// TxStore wraps Store with transaction support. Every consume and reconcile
// step runs its read-compute-write sequence inside WithTx so that a
// concurrent writer cannot insert a conflicting debit between the remaining
// computation and the append.
type TxStore interface {
	Store

	// WithTx executes fn within a store transaction. If fn returns an error
	// the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
