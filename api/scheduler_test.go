package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudonull-1/reward-management/api"
	"github.com/sudonull-1/reward-management/cache"
	"github.com/sudonull-1/reward-management/ledger"
	"github.com/sudonull-1/reward-management/ledger/store"
)

func TestSweeper_WritesOffExpiredCredits(t *testing.T) {
	// GIVEN: a user whose only credit has expired
	// WHEN: the sweeper runs
	// THEN: the balance converges to zero without any API call

	now := t0
	svc := ledger.NewService(store.NewTxMemory())
	svc.Now = func() time.Time { return now }

	ctx := context.Background()
	_, err := svc.Credit(ctx, "idle-user", 100, 5*time.Minute)
	require.NoError(t, err)

	now = t0.Add(time.Hour)

	sweeper := api.NewSweeper(svc, cache.NewNoop())
	sweeper.SweepInterval = 10 * time.Millisecond
	sweeper.Start()
	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()

	balance, err := svc.BalanceOf(ctx, "idle-user")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestSweeper_DisabledDoesNotRun(t *testing.T) {
	svc := ledger.NewService(store.NewTxMemory())

	sweeper := api.NewSweeper(svc, cache.NewNoop())
	sweeper.Enabled = false
	sweeper.Start()
	sweeper.Stop() // must not block or panic
}
