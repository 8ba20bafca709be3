/*
Package sqlite provides a SQLite-backed implementation of the ledger storage
interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements ever touch the transactions table. Every
  correction - redemption, expiry write-off - is a new debit row.

KEY TABLES:
  transactions: Immutable ledger of credits and debits
  users:        User records with the cached display balance

INDEXES:
  - idx_transactions_user_created:     history queries (newest first)
  - idx_transactions_user_kind_expiry: FIFO credit ordering and expiry scans
  - idx_transactions_source_credit:    remaining-amount derivation per credit

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.
  WithTx holds the write lock for the whole database transaction, so the
  read-compute-write sequences inside it see a stable ledger.

USAGE:
  st, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := ledger.NewService(st)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sudonull-1/reward-management/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ledger.ErrStoreUnavailable, err)
	}
	// A single connection keeps in-memory databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		expires_at TEXT,
		source_credit_id TEXT,
		created_at TEXT NOT NULL
	);

	-- History queries: newest first per user
	CREATE INDEX IF NOT EXISTS idx_transactions_user_created
		ON transactions(user_id, created_at DESC);

	-- FIFO credit ordering and expiry scans
	CREATE INDEX IF NOT EXISTS idx_transactions_user_kind_expiry
		ON transactions(user_id, kind, expires_at);

	-- Remaining-amount derivation: all debits against one credit
	CREATE INDEX IF NOT EXISTS idx_transactions_source_credit
		ON transactions(source_credit_id) WHERE source_credit_id IS NOT NULL;

	-- Users (display balance cache; the ledger stays authoritative)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		coins INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE INTERFACE (ledger.Store)
// =============================================================================

// Append adds a single transaction. Append-only.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db querier, tx ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, user_id, kind, amount, expires_at, source_credit_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		string(tx.Kind),
		tx.Amount,
		nullTime(tx.ExpiresAt),
		nullString(tx.SourceCreditID),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to append transaction: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// History returns a user's full ledger, newest first.
func (s *Store) History(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return history(ctx, s.db, userID)
}

func history(ctx context.Context, db querier, userID string) ([]ledger.Transaction, error) {
	query := `
		SELECT id, user_id, kind, amount, expires_at, source_credit_id, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`
	return queryTransactions(ctx, db, query, userID)
}

// ActiveCredits returns unexpired credits in consumption order:
// soonest expiry first, ties broken by creation time, then id.
func (s *Store) ActiveCredits(ctx context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeCredits(ctx, s.db, userID, asOf)
}

func activeCredits(ctx context.Context, db querier, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	query := `
		SELECT id, user_id, kind, amount, expires_at, source_credit_id, created_at
		FROM transactions
		WHERE user_id = ? AND kind = ? AND expires_at > ?
		ORDER BY expires_at ASC, created_at ASC, id ASC
	`
	return queryTransactions(ctx, db, query, userID, string(ledger.KindCredit), formatTime(asOf))
}

// ExpiredCredits returns credits whose expiry has passed, earliest first.
func (s *Store) ExpiredCredits(ctx context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expiredCredits(ctx, s.db, userID, asOf)
}

func expiredCredits(ctx context.Context, db querier, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	query := `
		SELECT id, user_id, kind, amount, expires_at, source_credit_id, created_at
		FROM transactions
		WHERE user_id = ? AND kind = ? AND expires_at <= ?
		ORDER BY expires_at ASC, created_at ASC, id ASC
	`
	return queryTransactions(ctx, db, query, userID, string(ledger.KindCredit), formatTime(asOf))
}

// DebitsAgainst returns every debit charged against one credit.
func (s *Store) DebitsAgainst(ctx context.Context, creditID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return debitsAgainst(ctx, s.db, creditID)
}

func debitsAgainst(ctx context.Context, db querier, creditID string) ([]ledger.Transaction, error) {
	query := `
		SELECT id, user_id, kind, amount, expires_at, source_credit_id, created_at
		FROM transactions
		WHERE source_credit_id = ?
		ORDER BY created_at ASC, id ASC
	`
	return queryTransactions(ctx, db, query, creditID)
}

// ExpiringCredits returns credits across all users with expiry in (from, to].
func (s *Store) ExpiringCredits(ctx context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expiringCredits(ctx, s.db, from, to)
}

func expiringCredits(ctx context.Context, db querier, from, to time.Time) ([]ledger.Transaction, error) {
	query := `
		SELECT id, user_id, kind, amount, expires_at, source_credit_id, created_at
		FROM transactions
		WHERE kind = ? AND expires_at > ? AND expires_at <= ?
		ORDER BY expires_at ASC, created_at ASC, id ASC
	`
	return queryTransactions(ctx, db, query, string(ledger.KindCredit), formatTime(from), formatTime(to))
}

// GetUser returns nil when the user does not exist.
func (s *Store) GetUser(ctx context.Context, userID string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, userID)
}

func getUser(ctx context.Context, db querier, userID string) (*ledger.User, error) {
	row := db.QueryRowContext(ctx,
		"SELECT id, coins, created_at, updated_at FROM users WHERE id = ?", userID)

	var (
		u                    ledger.User
		createdAt, updatedAt string
	)
	err := row.Scan(&u.ID, &u.Coins, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load user: %v", ledger.ErrStoreUnavailable, err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// SaveUser inserts or updates a user record.
func (s *Store) SaveUser(ctx context.Context, user *ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, user)
}

func saveUser(ctx context.Context, db querier, user *ledger.User) error {
	query := `
		INSERT INTO users (id, coins, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET coins = excluded.coins, updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Coins,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save user: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// UserIDs returns every known user id.
func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userIDs(ctx, s.db)
}

func userIDs(ctx context.Context, db querier) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT id FROM users ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list users: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transactions: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		kind           string
		expiresAt      sql.NullString
		sourceCreditID sql.NullString
		createdAt      string
	)
	err := rows.Scan(&tx.ID, &tx.UserID, &kind, &tx.Amount, &expiresAt, &sourceCreditID, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Kind = ledger.Kind(kind)
	if expiresAt.Valid {
		tx.ExpiresAt = parseTime(expiresAt.String)
	}
	tx.SourceCreditID = sourceCreditID.String
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Reads inside fn
// see the transaction's own uncommitted writes, which the consumption engine
// depends on.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ledger.ErrStoreUnavailable, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) History(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	return history(ctx, ts.tx, userID)
}

func (ts *txStore) ActiveCredits(ctx context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	return activeCredits(ctx, ts.tx, userID, asOf)
}

func (ts *txStore) ExpiredCredits(ctx context.Context, userID string, asOf time.Time) ([]ledger.Transaction, error) {
	return expiredCredits(ctx, ts.tx, userID, asOf)
}

func (ts *txStore) DebitsAgainst(ctx context.Context, creditID string) ([]ledger.Transaction, error) {
	return debitsAgainst(ctx, ts.tx, creditID)
}

func (ts *txStore) ExpiringCredits(ctx context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	return expiringCredits(ctx, ts.tx, from, to)
}

func (ts *txStore) GetUser(ctx context.Context, userID string) (*ledger.User, error) {
	return getUser(ctx, ts.tx, userID)
}

func (ts *txStore) SaveUser(ctx context.Context, user *ledger.User) error {
	return saveUser(ctx, ts.tx, user)
}

func (ts *txStore) UserIDs(ctx context.Context) ([]string, error) {
	return userIDs(ctx, ts.tx)
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout keeps a fixed-width fraction so stored timestamps compare
// correctly as strings in SQL (RFC3339Nano trims trailing zeros and does not).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
