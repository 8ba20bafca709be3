// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sudonull-1/reward-management/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[string][]ledger.Transaction // by user, append order
	bySource     map[string][]ledger.Transaction // debits by source credit id
	users        map[string]ledger.User
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string][]ledger.Transaction),
		bySource:     make(map[string][]ledger.Transaction),
		users:        make(map[string]ledger.User),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(tx)
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) {
	m.transactions[tx.UserID] = append(m.transactions[tx.UserID], tx)
	if tx.SourceCreditID != "" {
		m.bySource[tx.SourceCreditID] = append(m.bySource[tx.SourceCreditID], tx)
	}
}

// History returns a user's full ledger, newest first.
func (m *Memory) History(_ context.Context, userID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.historyLocked(userID), nil
}

func (m *Memory) historyLocked(userID string) []ledger.Transaction {
	result := append([]ledger.Transaction{}, m.transactions[userID]...)
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

// ActiveCredits returns a user's unexpired credits in consumption order:
// soonest expiry first, then creation time, then id.
func (m *Memory) ActiveCredits(_ context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCreditsLocked(userID, asOf), nil
}

func (m *Memory) activeCreditsLocked(userID string, asOf time.Time) []ledger.Transaction {
	var result []ledger.Transaction
	for _, tx := range m.transactions[userID] {
		if tx.Kind.IsCredit() && !tx.Expired(asOf) {
			result = append(result, tx)
		}
	}
	sortFIFO(result)
	return result
}

// ExpiredCredits returns a user's credits whose expiry has passed,
// earliest expiry first.
func (m *Memory) ExpiredCredits(_ context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiredCreditsLocked(userID, asOf), nil
}

func (m *Memory) expiredCreditsLocked(userID string, asOf time.Time) []ledger.Transaction {
	var result []ledger.Transaction
	for _, tx := range m.transactions[userID] {
		if tx.Kind.IsCredit() && tx.Expired(asOf) {
			result = append(result, tx)
		}
	}
	sortFIFO(result)
	return result
}

// DebitsAgainst returns every debit charged against one credit.
func (m *Memory) DebitsAgainst(_ context.Context, creditID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.debitsAgainstLocked(creditID), nil
}

func (m *Memory) debitsAgainstLocked(creditID string) []ledger.Transaction {
	return append([]ledger.Transaction{}, m.bySource[creditID]...)
}

// ExpiringCredits returns credits across all users with expiry in (from, to].
func (m *Memory) ExpiringCredits(_ context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiringCreditsLocked(from, to), nil
}

func (m *Memory) expiringCreditsLocked(from, to time.Time) []ledger.Transaction {
	var result []ledger.Transaction
	for _, txs := range m.transactions {
		for _, tx := range txs {
			if tx.Kind.IsCredit() && tx.ExpiresAt.After(from) && !tx.ExpiresAt.After(to) {
				result = append(result, tx)
			}
		}
	}
	sortFIFO(result)
	return result
}

// GetUser returns nil when the user does not exist.
func (m *Memory) GetUser(_ context.Context, userID string) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(userID), nil
}

func (m *Memory) getUserLocked(userID string) *ledger.User {
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	copied := u
	return &copied
}

// SaveUser inserts or updates a user record.
func (m *Memory) SaveUser(_ context.Context, user *ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *user
	return nil
}

// UserIDs returns every known user id in stable order.
func (m *Memory) UserIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userIDsLocked(), nil
}

func (m *Memory) userIDsLocked() []string {
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortFIFO(txs []ledger.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].ExpiresAt.Equal(txs[j].ExpiresAt) {
			return txs[i].ExpiresAt.Before(txs[j].ExpiresAt)
		}
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	txStore := &txMemoryView{parent: tm}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	txsCopy := make(map[string][]ledger.Transaction)
	for k, v := range tm.transactions {
		txsCopy[k] = append([]ledger.Transaction{}, v...)
	}
	srcCopy := make(map[string][]ledger.Transaction)
	for k, v := range tm.bySource {
		srcCopy[k] = append([]ledger.Transaction{}, v...)
	}
	usersCopy := make(map[string]ledger.User)
	for k, v := range tm.users {
		usersCopy[k] = v
	}
	return memorySnapshot{transactions: txsCopy, bySource: srcCopy, users: usersCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.transactions = s.transactions
	tm.bySource = s.bySource
	tm.users = s.users
}

type memorySnapshot struct {
	transactions map[string][]ledger.Transaction
	bySource     map[string][]ledger.Transaction
	users        map[string]ledger.User
}

// txMemoryView reads and writes the parent directly; the parent's write lock
// is already held for the whole transaction.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, tx ledger.Transaction) error {
	tv.parent.appendLocked(tx)
	return nil
}

func (tv *txMemoryView) History(_ context.Context, userID string) ([]ledger.Transaction, error) {
	return tv.parent.historyLocked(userID), nil
}

func (tv *txMemoryView) ActiveCredits(_ context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	return tv.parent.activeCreditsLocked(userID, asOf), nil
}

func (tv *txMemoryView) ExpiredCredits(_ context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	return tv.parent.expiredCreditsLocked(userID, asOf), nil
}

func (tv *txMemoryView) DebitsAgainst(_ context.Context, creditID string) ([]ledger.Transaction, error) {
	return tv.parent.debitsAgainstLocked(creditID), nil
}

func (tv *txMemoryView) ExpiringCredits(_ context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	return tv.parent.expiringCreditsLocked(from, to), nil
}

func (tv *txMemoryView) GetUser(_ context.Context, userID string) (*ledger.User, error) {
	return tv.parent.getUserLocked(userID), nil
}

func (tv *txMemoryView) SaveUser(_ context.Context, user *ledger.User) error {
	tv.parent.users[user.ID] = *user
	return nil
}

func (tv *txMemoryView) UserIDs(_ context.Context) ([]string, error) {
	return tv.parent.userIDsLocked(), nil
}
