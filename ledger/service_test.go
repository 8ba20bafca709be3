package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudonull-1/reward-management/ledger"
)

// newTestService returns a service with a controllable clock starting at t0.
func newTestService() (*ledger.Service, *time.Time) {
	st := newTestStore()
	now := t0
	svc := ledger.NewService(st)
	svc.Now = func() time.Time { return now }
	return svc, &now
}

// =============================================================================
// CREDIT
// =============================================================================

func TestService_CreditCreatesUserLazily(t *testing.T) {
	// GIVEN: an unknown user
	// WHEN: crediting coins
	// THEN: the user record appears and the balance reflects the credit

	svc, _ := newTestService()
	ctx := context.Background()

	tx, err := svc.Credit(ctx, "newbie", 100, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindCredit, tx.Kind)
	assert.Equal(t, t0.Add(time.Hour), tx.ExpiresAt)

	balance, err := svc.BalanceOf(ctx, "newbie")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestService_CreditValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "alice", 0, time.Hour)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "alice", -10, time.Hour)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "alice", 10, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "alice", 10, -time.Minute)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "", 10, time.Hour)
	assert.ErrorIs(t, err, ledger.ErrMissingUserID)
}

// =============================================================================
// REDEEM
// =============================================================================

func TestService_RedeemUnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Redeem(context.Background(), "ghost", 10)
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestService_RedeemZeroAmountIsNoOp(t *testing.T) {
	// GIVEN: a user holding 100 coins
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "alice", 100, time.Hour)
	require.NoError(t, err)

	// WHEN: redeeming zero coins
	debits, err := svc.Redeem(ctx, "alice", 0)

	// THEN: no error, no debits, and nothing new on the ledger
	require.NoError(t, err)
	assert.Empty(t, debits)

	view, err := svc.View(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, view.Transactions, 1)
	assert.Equal(t, int64(100), view.Balance)
}

func TestService_RedeemNegativeAmountRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Redeem(context.Background(), "alice", -5)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestService_RedeemReconcilesExpiredFirst(t *testing.T) {
	// GIVEN: 100 coins that expire after 10 minutes
	// WHEN: redeeming 50 coins once the clock has passed the expiry
	// THEN: the redemption fails with insufficient balance, not stale coins

	svc, clock := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "alice", 100, 10*time.Minute)
	require.NoError(t, err)

	*clock = t0.Add(time.Hour)

	_, err = svc.Redeem(ctx, "alice", 50)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficientErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Zero(t, insufficientErr.Available)
}

func TestService_RedeemThenExpireRemainder(t *testing.T) {
	// GIVEN: 100 coins credited, 30 redeemed while live
	// WHEN: the credit expires and the balance is read
	// THEN: only the remaining 70 are written off and the balance is zero

	svc, clock := newTestService()
	ctx := context.Background()

	tx, err := svc.Credit(ctx, "bob", 100, 30*time.Minute)
	require.NoError(t, err)

	debits, err := svc.Redeem(ctx, "bob", 30)
	require.NoError(t, err)
	require.Len(t, debits, 1)
	assert.Equal(t, tx.ID, debits[0].SourceCreditID)

	*clock = t0.Add(time.Hour)

	balance, err := svc.BalanceOf(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, balance)

	view, err := svc.View(ctx, "bob")
	require.NoError(t, err)

	var expired int64
	for _, h := range view.Transactions {
		if h.Kind == ledger.KindExpire {
			expired += h.Amount
		}
	}
	assert.Equal(t, int64(70), expired)
}

// =============================================================================
// VIEW
// =============================================================================

func TestService_ViewBreakdown(t *testing.T) {
	// GIVEN: two credits, touched partially by one redemption
	// WHEN: viewing the account
	// THEN: FIFO ranks, per-credit tallies, and the balance identity hold

	svc, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.Credit(ctx, "carol", 50, 1*time.Hour)
	require.NoError(t, err)
	c2, err := svc.Credit(ctx, "carol", 100, 2*time.Hour)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, "carol", 70)
	require.NoError(t, err)

	view, err := svc.View(ctx, "carol")
	require.NoError(t, err)

	assert.Equal(t, int64(80), view.Balance)
	assert.Equal(t, 1, view.ActiveCredits)
	require.Len(t, view.AvailableCredits, 1)

	breakdown := view.AvailableCredits[0]
	assert.Equal(t, c2.ID, breakdown.CreditID)
	assert.Equal(t, 1, breakdown.FIFORank)
	assert.Equal(t, int64(100), breakdown.Original)
	assert.Equal(t, int64(80), breakdown.Remaining)
	assert.Equal(t, int64(20), breakdown.Redeemed)
	assert.Zero(t, breakdown.Expired)

	// The drained first credit no longer appears, but its history does
	var sawFirst bool
	for _, tx := range view.Transactions {
		if tx.ID == c1.ID {
			sawFirst = true
		}
	}
	assert.True(t, sawFirst)

	// History is newest first
	for i := 1; i < len(view.Transactions); i++ {
		assert.False(t, view.Transactions[i-1].CreatedAt.Before(view.Transactions[i].CreatedAt))
	}
}

func TestService_ViewCountsCoinsExpiringSoon(t *testing.T) {
	// GIVEN: one credit expiring within the window and one far out
	// WHEN: viewing
	// THEN: only the near-expiry remainder is counted

	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "dave", 40, 10*time.Minute)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "dave", 60, 48*time.Hour)
	require.NoError(t, err)

	view, err := svc.View(ctx, "dave")
	require.NoError(t, err)

	assert.Equal(t, int64(40), view.CoinsExpiringSoon)
	assert.Equal(t, int64(100), view.Balance)
}

func TestService_ViewUnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.View(context.Background(), "ghost")
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// =============================================================================
// BALANCE IDENTITY
// =============================================================================

func TestService_BalanceEqualsCreditsMinusDebits(t *testing.T) {
	// GIVEN: a mix of credits, redemptions, and an expiry
	// WHEN: reading the balance
	// THEN: it equals total credits minus total debits in the history

	svc, clock := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "erin", 100, 20*time.Minute)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "erin", 200, 3*time.Hour)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, "erin", 120)
	require.NoError(t, err)

	*clock = t0.Add(time.Hour)

	balance, err := svc.BalanceOf(ctx, "erin")
	require.NoError(t, err)

	view, err := svc.View(ctx, "erin")
	require.NoError(t, err)

	var net int64
	for _, tx := range view.Transactions {
		net += tx.BalanceImpact()
	}
	assert.Equal(t, net, balance)
	assert.Equal(t, int64(180), balance)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestService_SweepWritesOffAllUsers(t *testing.T) {
	svc, clock := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 10, 5*time.Minute)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u2", 20, 5*time.Minute)
	require.NoError(t, err)

	*clock = t0.Add(time.Hour)

	written, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	written, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, written)
}
