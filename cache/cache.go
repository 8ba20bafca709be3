/*
Package cache holds the expiring-soon figures the scheduler precomputes so
views can report "coins expiring soon" without rescanning the ledger.

The cache is strictly advisory: the ledger stays the source of truth and a
stale or missing entry only means the figure gets recomputed from the store.
When Redis is not configured the Noop implementation keeps the rest of the
system oblivious.
*/
package cache

import (
	"context"
	"time"
)

// ExpiryCache stores the per-user coins-expiring-soon figure.
type ExpiryCache interface {
	// SetExpiringSoon records the coins expiring within the window for one user.
	SetExpiringSoon(ctx context.Context, userID string, coins int64, ttl time.Duration) error

	// GetExpiringSoon returns the cached figure. ok is false on a miss.
	GetExpiringSoon(ctx context.Context, userID string) (coins int64, ok bool, err error)

	// SetSweepStats records the outcome of the last reconciliation sweep.
	SetSweepStats(ctx context.Context, stats SweepStats, ttl time.Duration) error

	// Close releases the underlying connection.
	Close() error
}

// SweepStats summarizes one reconciliation sweep.
type SweepStats struct {
	RanAt         time.Time `json:"ranAt"`
	UsersScanned  int       `json:"usersScanned"`
	DebitsWritten int       `json:"debitsWritten"`
}

// =============================================================================
// NOOP CACHE
// =============================================================================

// Noop satisfies ExpiryCache without storing anything. Used when no Redis
// address is configured.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) SetExpiringSoon(context.Context, string, int64, time.Duration) error { return nil }

func (Noop) GetExpiringSoon(context.Context, string) (int64, bool, error) { return 0, false, nil }

func (Noop) SetSweepStats(context.Context, SweepStats, time.Duration) error { return nil }

func (Noop) Close() error { return nil }
