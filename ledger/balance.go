/*
balance.go - Balance and per-credit remainder derivation

PURPOSE:
  Answers "how many coins does this user have?" and "how much is left on this
  credit?" purely from ledger contents. There is no stored balance to read:
  the user row's coin counter is a display cache and is never consulted here.

DERIVATION:
  remainingOf(c) = c.Amount - sum(debits referencing c)
  balance(u)     = sum(remainingOf(c) for c in active credits of u)

  The second form is equivalent to the closed-form sum
  (active credit total - redeemed total - expired total) because every debit
  references exactly one credit and expired credits are fully written off.
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// Calculator derives balances from a Store. It holds no state of its own, so
// the same Calculator can be pointed at a transactional store view to get
// reads consistent with in-flight writes.
type Calculator struct {
	Store Store
}

func NewCalculator(store Store) *Calculator {
	return &Calculator{Store: store}
}

// RemainingOf returns the credit's unconsumed amount: the original amount
// minus every debit that references it.
func (c *Calculator) RemainingOf(ctx context.Context, credit Transaction) (int64, error) {
	debits, err := c.Store.DebitsAgainst(ctx, credit.ID)
	if err != nil {
		return 0, fmt.Errorf("load debits for credit %s: %w", credit.ID, err)
	}

	remaining := credit.Amount
	for _, d := range debits {
		remaining -= d.Amount
	}
	if remaining < 0 {
		// A credit consumed past its amount means the ledger itself is
		// corrupt. Surface loudly.
		return 0, fmt.Errorf("%w: credit %s over-consumed by %d",
			ErrConsistencyViolation, credit.ID, -remaining)
	}
	return remaining, nil
}

// AvailableCredits returns the user's not-yet-expired credits that still have
// coins left, in FIFO order (expiring soonest first). Fully consumed credits
// are excluded from the result, not merely zero-weighted.
func (c *Calculator) AvailableCredits(ctx context.Context, userID string, asOf time.Time) ([]AvailableCredit, error) {
	credits, err := c.Store.ActiveCredits(ctx, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("load active credits for user %s: %w", userID, err)
	}

	available := make([]AvailableCredit, 0, len(credits))
	for _, credit := range credits {
		remaining, err := c.RemainingOf(ctx, credit)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			available = append(available, AvailableCredit{Credit: credit, Remaining: remaining})
		}
	}
	return available, nil
}

// TotalAvailableBalance returns the user's spendable balance at asOf.
func (c *Calculator) TotalAvailableBalance(ctx context.Context, userID string, asOf time.Time) (int64, error) {
	available, err := c.AvailableCredits(ctx, userID, asOf)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, a := range available {
		total += a.Remaining
	}
	return total, nil
}

// SumAvailable totals the remaining coins of an already-derived credit list.
func SumAvailable(credits []AvailableCredit) int64 {
	var total int64
	for _, a := range credits {
		total += a.Remaining
	}
	return total
}
