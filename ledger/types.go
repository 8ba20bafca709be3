/*
Package ledger implements the reward coin ledger: an append-only log of
credit/debit events from which every balance is derived.

PURPOSE:
  Users are granted coins (credits) that carry individual expiration times.
  Redemption and expiry consume the earliest-expiring credit first, splitting
  a single request across multiple credits when needed. The ledger is the
  only source of truth; no mutable counter is ever trusted over it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: an immutable ledger record (credit or debit)
  - Kind: CREDIT, DEBIT_REDEEM, DEBIT_EXPIRE
  - User: ledger owner with a display-only coin counter
  - AvailableCredit: a credit paired with its derived remaining amount

DESIGN PRINCIPLES:
  1. Immutability: records are never updated or deleted, only appended
  2. Traceability: every debit names the credit it consumed via SourceCreditID
  3. Derivation: balance and per-credit remainders are always recomputed
     from the log, never cached as ground truth

SEE ALSO:
  - balance.go:  remaining/balance derivation
  - consume.go:  FIFO consumption engine
  - expiry.go:   idempotent expiry reconciliation
  - service.go:  credit/redeem/view facade
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TRANSACTION KIND
// =============================================================================

type Kind string

const (
	KindCredit Kind = "CREDIT"        // Coins granted, expires at a fixed time
	KindRedeem Kind = "DEBIT_REDEEM"  // Coins spent by the user
	KindExpire Kind = "DEBIT_EXPIRE"  // Coins written off after expiry
)

// IsCredit reports whether the kind adds coins to the balance.
func (k Kind) IsCredit() bool { return k == KindCredit }

// IsDebit reports whether the kind removes coins from the balance.
func (k Kind) IsDebit() bool { return k == KindRedeem || k == KindExpire }

// =============================================================================
// TRANSACTION - Immutable ledger record
// =============================================================================

// Transaction is one ledger record. Once appended it is never modified.
//
// Field presence rules:
//   - ExpiresAt is set (and in the future at creation) iff Kind == KindCredit
//   - SourceCreditID is set iff Kind is a debit; it references the CREDIT
//     transaction the coins were consumed from
type Transaction struct {
	ID             string
	UserID         string
	Kind           Kind
	Amount         int64 // always > 0
	ExpiresAt      time.Time
	SourceCreditID string
	CreatedAt      time.Time
}

// NewCredit builds a CREDIT transaction. The expiry must be in the future
// relative to now and the amount positive.
func NewCredit(userID string, amount int64, expiresAt, now time.Time) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, &InvalidAmountError{Field: "amount", Value: amount}
	}
	if !expiresAt.After(now) {
		return Transaction{}, &InvalidAmountError{Field: "expires_at", Value: 0}
	}
	return Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      KindCredit,
		Amount:    amount,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now.UTC(),
	}, nil
}

// NewDebit builds a DEBIT_REDEEM or DEBIT_EXPIRE transaction consuming coins
// from the given source credit.
func NewDebit(userID string, kind Kind, amount int64, sourceCreditID string, now time.Time) (Transaction, error) {
	if !kind.IsDebit() {
		return Transaction{}, &InvalidAmountError{Field: "kind", Value: 0}
	}
	if amount <= 0 {
		return Transaction{}, &InvalidAmountError{Field: "amount", Value: amount}
	}
	if sourceCreditID == "" {
		return Transaction{}, ErrMissingSourceCredit
	}
	return Transaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		Amount:         amount,
		SourceCreditID: sourceCreditID,
		CreatedAt:      now.UTC(),
	}, nil
}

// BalanceImpact returns the signed effect on the user's balance.
func (t Transaction) BalanceImpact() int64 {
	if t.Kind.IsDebit() {
		return -t.Amount
	}
	return t.Amount
}

// Expired reports whether a credit's expiry has passed at the given instant.
// Always false for debits.
func (t Transaction) Expired(at time.Time) bool {
	return t.Kind == KindCredit && !t.ExpiresAt.After(at)
}

// ExpiringWithin reports whether a still-active credit expires inside
// (at, at+window].
func (t Transaction) ExpiringWithin(at time.Time, window time.Duration) bool {
	if t.Kind != KindCredit || t.Expired(at) {
		return false
	}
	return !t.ExpiresAt.After(at.Add(window))
}

// =============================================================================
// USER
// =============================================================================

// User owns a slice of the ledger. Coins is a display cache refreshed after
// facade mutations; it is never read for any ledger decision.
type User struct {
	ID        string
	Coins     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// AVAILABLE CREDIT - Derived view of a credit's unconsumed coins
// =============================================================================

// AvailableCredit pairs a CREDIT transaction with its remaining (unconsumed)
// amount derived from the debits that reference it.
type AvailableCredit struct {
	Credit    Transaction
	Remaining int64
}
