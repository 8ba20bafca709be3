/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reward ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment config
  2. Initialize SQLite store
  3. Connect the Redis expiry cache (optional)
  4. Create the ledger service and API handler
  5. Start the background expiry sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT env)
  -db      SQLite database path (overrides DB_PATH env)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  PORT, DB_PATH, SWEEP_INTERVAL, SWEEP_ENABLED, EXPIRING_SOON_WINDOW,
  REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, CORS_ALLOWED_ORIGINS,
  METRICS_ENABLED. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and close database/cache connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/rewards.db"

  # Run with in-memory database and Redis cache
  REDIS_ADDR=localhost:6379 ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sudonull-1/reward-management/api"
	"github.com/sudonull-1/reward-management/cache"
	"github.com/sudonull-1/reward-management/config"
	"github.com/sudonull-1/reward-management/ledger"
	"github.com/sudonull-1/reward-management/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override environment config
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Expiry cache: Redis when configured, no-op otherwise
	var expiryCache cache.ExpiryCache = cache.NewNoop()
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("Warning: Redis unavailable, expiry cache disabled: %v", err)
		} else {
			expiryCache = redisCache
			defer redisCache.Close()
			log.Printf("Connected to Redis at %s", cfg.RedisAddr)
		}
	}

	// Ledger service
	service := ledger.NewService(store)
	if window, err := time.ParseDuration(cfg.ExpiringSoonWindow); err == nil {
		service.ExpiringSoonWindow = window
	} else {
		log.Printf("Warning: invalid EXPIRING_SOON_WINDOW %q, using default", cfg.ExpiringSoonWindow)
	}

	// Background expiry sweeper
	sweeper := api.NewSweeper(service, expiryCache)
	sweeper.Enabled = cfg.SweepEnabled
	sweeper.CacheWindow = service.ExpiringSoonWindow
	if interval, err := time.ParseDuration(cfg.SweepInterval); err == nil {
		sweeper.SweepInterval = interval
	} else {
		log.Printf("Warning: invalid SWEEP_INTERVAL %q, using default", cfg.SweepInterval)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// HTTP surface
	handler := api.NewHandler(service, expiryCache)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins(),
		MetricsEnabled: cfg.MetricsEnabled,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api/v1", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
