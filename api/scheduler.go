/*
scheduler.go - Background expiry sweeper

PURPOSE:
  Periodically writes off expired credits across all users and refreshes
  the expiring-soon cache. The sweep is a backstop: redeem and view already
  reconcile lazily, so a user-facing call never depends on the sweeper
  having run. The sweep exists so balances converge even for idle users
  and so the expiring-soon figures stay warm.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Safe to run concurrently with API traffic: reconciliation is
    idempotent and per-user locks serialize against request handling
  - Records sweep stats in the cache for inspection

CONFIGURATION:
  - SweepInterval: How often to sweep (default: 1 hour)
  - CacheWindow:   Expiring-soon lookahead (default: 30 minutes)
  - CacheTTL:      Cache entry lifetime (default: 15 minutes)

USAGE:
  sweeper := NewSweeper(service, expiryCache)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - ledger/expiry.go: Reconciler the sweep delegates to
  - cache/cache.go: Expiring-soon cache
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sudonull-1/reward-management/cache"
	"github.com/sudonull-1/reward-management/ledger"
)

// Sweeper runs periodic expiry reconciliation and cache refresh.
type Sweeper struct {
	Service       *ledger.Service
	Cache         cache.ExpiryCache
	SweepInterval time.Duration
	CacheWindow   time.Duration
	CacheTTL      time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with production defaults.
func NewSweeper(service *ledger.Service, expiryCache cache.ExpiryCache) *Sweeper {
	if expiryCache == nil {
		expiryCache = cache.NewNoop()
	}
	return &Sweeper{
		Service:       service,
		Cache:         expiryCache,
		SweepInterval: 1 * time.Hour,
		CacheWindow:   30 * time.Minute,
		CacheTTL:      15 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.SweepInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with sweep interval: %v", s.SweepInterval)
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweepOnce()

	for {
		select {
		case <-s.ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx := context.Background()
	started := time.Now()

	written, err := s.Service.Sweep(ctx)
	if err != nil {
		log.Printf("[Sweeper] Sweep finished with error: %v", err)
	}

	SweepRuns.Inc()
	if written > 0 {
		SweepDebits.Add(float64(written))
		TransactionsWritten.WithLabelValues(string(ledger.KindExpire)).Add(float64(written))
	}

	scanned := s.refreshExpiringSoon(ctx)

	stats := cache.SweepStats{
		RanAt:         started.UTC(),
		UsersScanned:  scanned,
		DebitsWritten: written,
	}
	if err := s.Cache.SetSweepStats(ctx, stats, s.CacheTTL); err != nil {
		log.Printf("[Sweeper] Failed to record sweep stats: %v", err)
	}

	log.Printf("[Sweeper] Sweep done in %v: %d expiry debits, %d users cached",
		time.Since(started).Round(time.Millisecond), written, scanned)
}

// refreshExpiringSoon recomputes the per-user coins-expiring-soon figures
// and writes them to the cache. Returns the number of users cached.
func (s *Sweeper) refreshExpiringSoon(ctx context.Context) int {
	credits, err := s.Service.ExpiringWithin(ctx, s.CacheWindow)
	if err != nil {
		log.Printf("[Sweeper] Failed to load expiring credits: %v", err)
		return 0
	}

	perUser := make(map[string]int64)
	for _, c := range credits {
		remaining, err := s.Service.RemainingOf(ctx, c)
		if err != nil {
			log.Printf("[Sweeper] Failed to derive remaining for credit %s: %v", c.ID, err)
			continue
		}
		perUser[c.UserID] += remaining
	}

	cached := 0
	for userID, coins := range perUser {
		if err := s.Cache.SetExpiringSoon(ctx, userID, coins, s.CacheTTL); err != nil {
			log.Printf("[Sweeper] Failed to cache expiring-soon for user %s: %v", userID, err)
			continue
		}
		cached++
	}
	return cached
}
