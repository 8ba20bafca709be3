package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	expiringSoonPrefix = "reward:expiry:user:"
	sweepStatsKey      = "reward:expiry:sweep:stats"
)

// Redis implements ExpiryCache on a Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) SetExpiringSoon(ctx context.Context, userID string, coins int64, ttl time.Duration) error {
	return r.client.Set(ctx, expiringSoonPrefix+userID, coins, ttl).Err()
}

func (r *Redis) GetExpiringSoon(ctx context.Context, userID string) (int64, bool, error) {
	val, err := r.client.Get(ctx, expiringSoonPrefix+userID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	coins, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cache entry for user %s: %w", userID, err)
	}
	return coins, true, nil
}

func (r *Redis) SetSweepStats(ctx context.Context, stats SweepStats, ttl time.Duration) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sweepStatsKey, payload, ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
