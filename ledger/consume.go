/*
consume.go - FIFO consumption engine

PURPOSE:
  Allocates a requested debit amount across a user's unconsumed credits,
  earliest-expiring first, producing one debit record per credit touched.
  Both redemption and expiry write-off go through the primitives here.

ALGORITHM (Consume):
  1. Inside one store transaction, derive the available credits in FIFO order.
  2. For REDEEM, fail with InsufficientBalance before writing anything if the
     total available is short (all-or-nothing).
  3. Walk the credit list: take = min(outstanding, remaining(credit)), append
     one debit of that size referencing the credit, decrement outstanding.
  4. Stop when outstanding hits zero. Exhausting the list first after the
     balance check passed is a ConsistencyViolation - the transaction rolls
     back and the error is logged at top severity.

ISOLATION:
  The whole read-compute-write sequence runs under WithTx, so a concurrent
  consumer cannot slip a conflicting debit against the same credit between
  the remaining computation and the append. The Service additionally holds
  the per-user lock around every call (see service.go).

SEE ALSO:
  - balance.go: remaining derivation used at every step
  - expiry.go:  reconciler built on ExpireCredit
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// FIFO CONSUMPTION ENGINE
// =============================================================================

type Engine struct {
	Store TxStore
}

func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store}
}

// Consume debits totalAmount from the user's credits in FIFO order and
// returns the debit transactions created, one per credit touched.
//
// kind must be KindRedeem or KindExpire. A totalAmount of zero is a no-op:
// empty result, no error, no writes. For KindRedeem the available balance is
// checked first and InsufficientBalanceError returned with nothing written.
func (e *Engine) Consume(ctx context.Context, userID string, kind Kind, totalAmount int64, asOf time.Time) ([]Transaction, error) {
	if totalAmount == 0 {
		return []Transaction{}, nil
	}
	if totalAmount < 0 {
		return nil, &InvalidAmountError{Field: "amount", Value: totalAmount}
	}
	if !kind.IsDebit() {
		return nil, fmt.Errorf("consume: kind %q is not a debit", kind)
	}

	var created []Transaction
	err := e.Store.WithTx(ctx, func(s Store) error {
		calc := NewCalculator(s)

		available, err := calc.AvailableCredits(ctx, userID, asOf)
		if err != nil {
			return err
		}

		if kind == KindRedeem {
			if total := SumAvailable(available); total < totalAmount {
				return &InsufficientBalanceError{
					UserID:    userID,
					Available: total,
					Requested: totalAmount,
				}
			}
		}

		outstanding := totalAmount
		for _, a := range available {
			if outstanding == 0 {
				break
			}
			take := a.Remaining
			if take > outstanding {
				take = outstanding
			}

			debit, err := NewDebit(userID, kind, take, a.Credit.ID, asOf)
			if err != nil {
				return err
			}
			if err := s.Append(ctx, debit); err != nil {
				return fmt.Errorf("append %s debit against credit %s: %w", kind, a.Credit.ID, err)
			}
			created = append(created, debit)
			outstanding -= take
		}

		if outstanding > 0 {
			// The balance check above must make this unreachable. If it
			// fires, the ledger and the derivation disagree: abort the whole
			// transaction and report the consistency bug.
			log.Printf("[Engine] CONSISTENCY VIOLATION: user %s, kind %s: %d coins unsatisfied after credit list exhausted",
				userID, kind, outstanding)
			return fmt.Errorf("%w: %d of %d coins unallocated for user %s",
				ErrConsistencyViolation, outstanding, totalAmount, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ExpireCredit writes off whatever is left on a single expired credit,
// creating exactly one DEBIT_EXPIRE that drives its remaining amount to zero.
//
// The remaining amount is re-derived inside the store transaction, which is
// the idempotency mechanism: a credit already written off (or fully redeemed
// in the meantime) yields remaining == 0 and the call creates nothing.
// Returns the created debit, or created == false when there was nothing to do.
func (e *Engine) ExpireCredit(ctx context.Context, credit Transaction, asOf time.Time) (debit Transaction, created bool, err error) {
	err = e.Store.WithTx(ctx, func(s Store) error {
		calc := NewCalculator(s)

		remaining, err := calc.RemainingOf(ctx, credit)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}

		d, err := NewDebit(credit.UserID, KindExpire, remaining, credit.ID, asOf)
		if err != nil {
			return err
		}
		if err := s.Append(ctx, d); err != nil {
			return fmt.Errorf("append expiry debit against credit %s: %w", credit.ID, err)
		}
		debit = d
		created = true
		return nil
	})
	if err != nil {
		return Transaction{}, false, err
	}
	return debit, created, nil
}
