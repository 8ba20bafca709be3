/*
expiry.go - expiry reconciliation

PURPOSE:
  Finds credits whose expiry instant has passed and writes off whatever is
  left on each of them with a DEBIT_EXPIRE. Safe to run any number of times:
  the write-off amount is re-derived from the ledger on every run, so a
  credit already reconciled simply produces nothing.

  Reconciliation runs lazily before every redeem and view (so a user never
  observes an expired credit as spendable) and periodically across all users
  as a backstop (see api/scheduler.go).
*/
package ledger

import (
	"context"
	"log"
	"time"
)

// =============================================================================
// EXPIRY RECONCILER
// =============================================================================

type Reconciler struct {
	Engine *Engine
	Store  TxStore
}

func NewReconciler(store TxStore) *Reconciler {
	return &Reconciler{Engine: NewEngine(store), Store: store}
}

// ReconcileUser writes off every expired credit of one user that still has
// coins remaining, and returns the number of expiry debits created.
//
// A failure on one credit does not abort the rest: it is logged and the
// remaining credits are still attempted. The first error encountered is
// returned after the loop so callers can surface it, alongside the count of
// write-offs that did succeed.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID string, asOf time.Time) (int, error) {
	expired, err := r.Store.ExpiredCredits(ctx, userID, asOf)
	if err != nil {
		return 0, err
	}

	var firstErr error
	written := 0
	for _, credit := range expired {
		debit, created, err := r.Engine.ExpireCredit(ctx, credit, asOf)
		if err != nil {
			log.Printf("[Reconciler] Failed to expire credit %s (user %s): %v", credit.ID, userID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if created {
			written++
			log.Printf("[Reconciler] Expired %d coins from credit %s (user %s)", debit.Amount, credit.ID, userID)
		}
	}
	return written, firstErr
}

// SweepAll reconciles every known user. Per-user failures are logged and do
// not stop the sweep; the total number of expiry debits created is returned.
func (r *Reconciler) SweepAll(ctx context.Context, asOf time.Time) (int, error) {
	userIDs, err := r.Store.UserIDs(ctx)
	if err != nil {
		return 0, err
	}

	var firstErr error
	total := 0
	for _, userID := range userIDs {
		n, err := r.ReconcileUser(ctx, userID, asOf)
		total += n
		if err != nil {
			log.Printf("[Reconciler] Sweep: user %s finished with error: %v", userID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}
