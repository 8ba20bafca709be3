/*
service.go - ledger service facade

PURPOSE:
  The single entry point the HTTP layer and scheduler talk to. Composes the
  calculator, consumption engine and reconciler, and adds the concerns that
  sit above them:

  - Input validation (amount must be positive, expiry must be in the future)
  - Lazy user creation on first credit
  - Per-user serialization: every mutating or observing operation on a user
    runs under that user's lock, so redeem/expiry/view interleavings cannot
    observe half-applied state
  - Opportunistic reconciliation: credit, redeem, view and balance first
    write off expired credits, so a caller never sees expired coins as
    spendable
  - The display balance cached on the user record (refreshed after every
    operation - the ledger remains the source of truth)

CONCURRENCY MODEL:
  One mutex per user ID, held for the whole operation. Operations on
  different users run in parallel; operations on the same user serialize.
  Combined with the store transaction inside the engine this gives the
  atomicity the ledger invariants need on a single node.
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultExpiringSoonWindow is how far ahead View looks when reporting
// coins that are about to expire.
const DefaultExpiringSoonWindow = 30 * time.Minute

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store      TxStore
	calc       *Calculator
	engine     *Engine
	reconciler *Reconciler

	// Now is the clock used for every time comparison. Overridable in tests.
	Now func() time.Time

	// ExpiringSoonWindow controls the "expiring soon" figure in views.
	ExpiringSoonWindow time.Duration

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

func NewService(store TxStore) *Service {
	return &Service{
		store:              store,
		calc:               NewCalculator(store),
		engine:             NewEngine(store),
		reconciler:         NewReconciler(store),
		Now:                time.Now,
		ExpiringSoonWindow: DefaultExpiringSoonWindow,
		locks:              make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex for one user, creating it on first use.
// Lock entries are never removed; the set of users is small and long-lived.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// =============================================================================
// CREDIT - Award coins
// =============================================================================

// Credit awards amount coins to a user, valid until now+validity. The user
// record is created on first credit; crediting never fails with UserNotFound.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, validity time.Duration) (Transaction, error) {
	if userID == "" {
		return Transaction{}, ErrMissingUserID
	}
	if amount <= 0 {
		return Transaction{}, &InvalidAmountError{Field: "amount", Value: amount}
	}
	if validity <= 0 {
		return Transaction{}, &InvalidAmountError{Field: "validityMinutes", Value: int64(validity / time.Minute)}
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.Now().UTC()
	credit, err := NewCredit(userID, amount, now.Add(validity), now)
	if err != nil {
		return Transaction{}, err
	}

	// Write off anything already expired so the refreshed display balance
	// below reflects only live coins.
	if _, err := s.reconciler.ReconcileUser(ctx, userID, now); err != nil {
		return Transaction{}, fmt.Errorf("reconcile before credit: %w", err)
	}

	err = s.store.WithTx(ctx, func(st Store) error {
		user, err := st.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			user = &User{ID: userID, CreatedAt: now}
			log.Printf("[Service] Creating user %s on first credit", userID)
		}
		if err := st.Append(ctx, credit); err != nil {
			return err
		}
		balance, err := NewCalculator(st).TotalAvailableBalance(ctx, userID, now)
		if err != nil {
			return err
		}
		user.Coins = balance
		user.UpdatedAt = now
		return st.SaveUser(ctx, user)
	})
	if err != nil {
		return Transaction{}, err
	}

	log.Printf("[Service] Credited %d coins to user %s (expires %s)", amount, userID, credit.ExpiresAt.Format(time.RFC3339))
	return credit, nil
}

// =============================================================================
// REDEEM - Spend coins FIFO
// =============================================================================

// Redeem spends amount coins from the user's oldest-expiring credits and
// returns the debit transactions written, one per credit touched. The whole
// redemption succeeds or nothing is written. Redeeming zero coins succeeds
// with an empty result.
func (s *Service) Redeem(ctx context.Context, userID string, amount int64) ([]Transaction, error) {
	if amount < 0 {
		return nil, &InvalidAmountError{Field: "amount", Value: amount}
	}
	// Redeeming zero coins is a no-op: empty result, nothing written.
	if amount == 0 {
		return []Transaction{}, nil
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.Now().UTC()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &UserNotFoundError{UserID: userID}
	}

	// Write off anything that expired before this instant so the balance
	// check below only sees live coins.
	if _, err := s.reconciler.ReconcileUser(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("reconcile before redeem: %w", err)
	}

	debits, err := s.engine.Consume(ctx, userID, KindRedeem, amount, now)
	if err != nil {
		return nil, err
	}

	if err := s.refreshBalance(ctx, userID, now); err != nil {
		log.Printf("[Service] Failed to refresh display balance for user %s: %v", userID, err)
	}

	log.Printf("[Service] Redeemed %d coins from user %s across %d credits", amount, userID, len(debits))
	return debits, nil
}

// =============================================================================
// VIEW - Full account snapshot
// =============================================================================

// CreditBreakdown describes one still-active credit in FIFO order.
type CreditBreakdown struct {
	CreditID  string
	FIFORank  int // 1-based position in consumption order
	Original  int64
	Remaining int64
	Redeemed  int64
	Expired   int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ViewSummary is the full account picture at one instant.
type ViewSummary struct {
	UserID            string
	Balance           int64
	Transactions      []Transaction // newest first
	AvailableCredits  []CreditBreakdown
	ActiveCredits     int
	CoinsExpiringSoon int64
	GeneratedAt       time.Time
}

// View reconciles expired credits and returns the user's balance, history,
// and per-credit breakdown in FIFO order.
func (s *Service) View(ctx context.Context, userID string) (*ViewSummary, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.Now().UTC()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &UserNotFoundError{UserID: userID}
	}

	if _, err := s.reconciler.ReconcileUser(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("reconcile before view: %w", err)
	}

	available, err := s.calc.AvailableCredits(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	summary := &ViewSummary{
		UserID:      userID,
		Balance:     SumAvailable(available),
		GeneratedAt: now,
	}

	soonCutoff := now.Add(s.ExpiringSoonWindow)
	for rank, a := range available {
		redeemed, expired, err := s.debitTotals(ctx, a.Credit.ID)
		if err != nil {
			return nil, err
		}
		summary.AvailableCredits = append(summary.AvailableCredits, CreditBreakdown{
			CreditID:  a.Credit.ID,
			FIFORank:  rank + 1,
			Original:  a.Credit.Amount,
			Remaining: a.Remaining,
			Redeemed:  redeemed,
			Expired:   expired,
			ExpiresAt: a.Credit.ExpiresAt,
			CreatedAt: a.Credit.CreatedAt,
		})
		if a.Credit.ExpiringWithin(now, soonCutoff.Sub(now)) {
			summary.CoinsExpiringSoon += a.Remaining
		}
	}
	summary.ActiveCredits = len(summary.AvailableCredits)

	history, err := s.store.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary.Transactions = history

	if err := s.refreshBalance(ctx, userID, now); err != nil {
		log.Printf("[Service] Failed to refresh display balance for user %s: %v", userID, err)
	}
	return summary, nil
}

// debitTotals sums the redeemed and expired amounts charged against a credit.
func (s *Service) debitTotals(ctx context.Context, creditID string) (redeemed, expired int64, err error) {
	debits, err := s.store.DebitsAgainst(ctx, creditID)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range debits {
		switch d.Kind {
		case KindRedeem:
			redeemed += d.Amount
		case KindExpire:
			expired += d.Amount
		}
	}
	return redeemed, expired, nil
}

// =============================================================================
// BALANCE
// =============================================================================

// BalanceOf reconciles expired credits and returns the spendable balance.
func (s *Service) BalanceOf(ctx context.Context, userID string) (int64, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.Now().UTC()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, &UserNotFoundError{UserID: userID}
	}

	if _, err := s.reconciler.ReconcileUser(ctx, userID, now); err != nil {
		return 0, fmt.Errorf("reconcile before balance: %w", err)
	}

	balance, err := s.calc.TotalAvailableBalance(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	if err := s.refreshBalance(ctx, userID, now); err != nil {
		log.Printf("[Service] Failed to refresh display balance for user %s: %v", userID, err)
	}
	return balance, nil
}

// refreshBalance recomputes the display balance cached on the user record.
// Advisory only: the ledger stays authoritative, so failure is non-fatal.
func (s *Service) refreshBalance(ctx context.Context, userID string, now time.Time) error {
	balance, err := s.calc.TotalAvailableBalance(ctx, userID, now)
	if err != nil {
		return err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	user.Coins = balance
	user.UpdatedAt = now
	return s.store.SaveUser(ctx, user)
}

// =============================================================================
// RECONCILIATION ENTRY POINTS
// =============================================================================

// ReconcileUser writes off one user's expired credits under their lock.
func (s *Service) ReconcileUser(ctx context.Context, userID string) (int, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.Now().UTC()
	n, err := s.reconciler.ReconcileUser(ctx, userID, now)
	if n > 0 {
		if rerr := s.refreshBalance(ctx, userID, now); rerr != nil {
			log.Printf("[Service] Failed to refresh display balance for user %s: %v", userID, rerr)
		}
	}
	return n, err
}

// Sweep reconciles every known user, taking each user's lock in turn.
// Returns the total number of expiry debits written.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	userIDs, err := s.store.UserIDs(ctx)
	if err != nil {
		return 0, err
	}
	var firstErr error
	total := 0
	for _, userID := range userIDs {
		n, err := s.ReconcileUser(ctx, userID)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// ExpiringWithin returns the credits across all users expiring inside the
// window starting now. Used to warm the expiring-soon cache.
func (s *Service) ExpiringWithin(ctx context.Context, window time.Duration) ([]Transaction, error) {
	now := s.Now().UTC()
	return s.store.ExpiringCredits(ctx, now, now.Add(window))
}

// RemainingOf derives the unconsumed portion of one credit.
func (s *Service) RemainingOf(ctx context.Context, credit Transaction) (int64, error) {
	return s.calc.RemainingOf(ctx, credit)
}
