package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudonull-1/reward-management/api"
	"github.com/sudonull-1/reward-management/cache"
	"github.com/sudonull-1/reward-management/ledger"
	"github.com/sudonull-1/reward-management/ledger/store"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testEnv struct {
	server *httptest.Server
	clock  *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithCache(t, cache.NewNoop())
}

func newTestEnvWithCache(t *testing.T, c cache.ExpiryCache) *testEnv {
	now := t0
	svc := ledger.NewService(store.NewTxMemory())
	svc.Now = func() time.Time { return now }

	handler := api.NewHandler(svc, c)
	router := api.NewRouter(handler, api.RouterOptions{MetricsEnabled: true})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, clock: &now}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) (*http.Response, api.APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("userId", userID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope api.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func (e *testEnv) credit(t *testing.T, userID string, coins, minutes int64) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/api/v1/rewards", userID,
		api.CreditRequest{NumberOfCoins: coins, ExpirationMinutes: minutes})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// CREDIT ENDPOINT
// =============================================================================

func TestCreditReward(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/rewards", "alice",
		api.CreditRequest{NumberOfCoins: 100, ExpirationMinutes: 60})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, envelope.Success)
	assert.Empty(t, envelope.Error)
}

func TestCreditReward_MissingUserID(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/rewards", "",
		api.CreditRequest{NumberOfCoins: 100})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, envelope.Success)
	assert.Equal(t, "MISSING_USER_ID", envelope.Error)
}

func TestCreditReward_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/rewards", "alice",
		api.CreditRequest{NumberOfCoins: -5})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_AMOUNT", envelope.Error)
}

// =============================================================================
// REDEEM ENDPOINT
// =============================================================================

func TestRedeemReward(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "bob", 50, 60)
	env.credit(t, "bob", 100, 120)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/redeem", "bob",
		api.RedeemRequest{NumberOfCoins: 125})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, envelope.Success)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var result api.RedeemResultDTO
	require.NoError(t, json.Unmarshal(payload, &result))

	assert.Equal(t, int64(125), result.RedeemedCoins)
	require.Len(t, result.Debits, 2)
	assert.Equal(t, int64(50), result.Debits[0].NumberOfCoins)
	assert.Equal(t, int64(75), result.Debits[1].NumberOfCoins)
}

func TestRedeemReward_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "carol", 50, 60)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/redeem", "carol",
		api.RedeemRequest{NumberOfCoins: 500})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_BALANCE", envelope.Error)
}

func TestRedeemReward_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/redeem", "ghost",
		api.RedeemRequest{NumberOfCoins: 10})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "USER_NOT_FOUND", envelope.Error)
}

// =============================================================================
// VIEW ENDPOINT
// =============================================================================

func TestViewCoins(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "dave", 100, 60)
	env.credit(t, "dave", 200, 120)

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/view/coins", "dave", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var view api.ViewDTO
	require.NoError(t, json.Unmarshal(payload, &view))

	assert.Equal(t, "dave", view.UserID)
	assert.Equal(t, int64(300), view.TotalCoins)
	assert.Equal(t, 2, view.ActiveRewardTransactions)
	require.Len(t, view.AvailableRewards, 2)
	assert.Equal(t, 1, view.AvailableRewards[0].FIFOOrder)
	assert.Equal(t, int64(100), view.AvailableRewards[0].OriginalCoins)
	assert.Equal(t, 2, view.AvailableRewards[1].FIFOOrder)
	assert.Len(t, view.Transactions, 2)
}

// stubExpiryCache always reports a precomputed expiring-soon figure.
type stubExpiryCache struct {
	cache.Noop
	coins int64
}

func (c stubExpiryCache) GetExpiringSoon(context.Context, string) (int64, bool, error) {
	return c.coins, true, nil
}

func TestViewCoins_UsesCachedExpiringSoonFigure(t *testing.T) {
	// GIVEN: the scheduler has precomputed an expiring-soon figure. The cached
	// value wins over the one derived in-request, even when it lags.
	env := newTestEnvWithCache(t, stubExpiryCache{coins: 42})
	env.credit(t, "frank", 100, 10)

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/view/coins", "frank", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var view api.ViewDTO
	require.NoError(t, json.Unmarshal(payload, &view))

	assert.Equal(t, int64(42), view.CoinsExpiringIn30Mins)
}

func TestViewCoins_ExpiredCreditsReconciled(t *testing.T) {
	// GIVEN: a credit that has expired since it was granted
	// WHEN: viewing the account
	// THEN: the balance is zero and the expiry debit shows in the history

	env := newTestEnv(t)
	env.credit(t, "erin", 100, 10)

	*env.clock = t0.Add(time.Hour)

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/view/coins", "erin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var view api.ViewDTO
	require.NoError(t, json.Unmarshal(payload, &view))

	assert.Zero(t, view.TotalCoins)
	assert.Empty(t, view.AvailableRewards)

	var sawExpireDebit bool
	for _, tx := range view.Transactions {
		if tx.TransactionType == string(ledger.KindExpire) {
			sawExpireDebit = true
			assert.Equal(t, int64(100), tx.NumberOfCoins)
		}
	}
	assert.True(t, sawExpireDebit)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestProcessExpiry_AllUsers(t *testing.T) {
	// GIVEN: two users with expired credits
	// WHEN: triggering expiry processing without a userId header
	// THEN: both credits are written off in one call

	env := newTestEnv(t)
	env.credit(t, "u1", 10, 5)
	env.credit(t, "u2", 20, 5)

	*env.clock = t0.Add(time.Hour)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/admin/expiry/process", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var result api.ExpiryProcessResultDTO
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, 2, result.DebitsWritten)

	// Re-running is a no-op
	_, envelope = env.do(t, http.MethodPost, "/api/v1/admin/expiry/process", "", nil)
	payload, err = json.Marshal(envelope.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Zero(t, result.DebitsWritten)
}

func TestProcessExpiry_SingleUser(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "u1", 10, 5)
	env.credit(t, "u2", 20, 5)

	*env.clock = t0.Add(time.Hour)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/admin/expiry/process", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var result api.ExpiryProcessResultDTO
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, "u1", result.UserID)
	assert.Equal(t, 1, result.DebitsWritten)
}

// =============================================================================
// BALANCE / HEALTH
// =============================================================================

func TestGetBalance(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "frank", 80, 60)

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/balance", "frank", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var balance api.BalanceDTO
	require.NoError(t, json.Unmarshal(payload, &balance))
	assert.Equal(t, int64(80), balance.Balance)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)
}
