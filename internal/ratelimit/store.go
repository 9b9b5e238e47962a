package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatbroker/internal/cache"
	"github.com/smallbiznis/seatbroker/internal/clock"
)

// Store holds last-access markers keyed by identity.
type Store interface {
	// Acquire claims key for ttl. When the key is already held it returns
	// false and the remaining wait.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error)
}

// MemoryStore keeps markers in process memory. State is lost on restart.
type MemoryStore struct {
	items cache.Cache[string, time.Time]
	clock clock.Clock
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryStore{
		items: cache.NewTTLCache[string, time.Time](cache.WithNow(clk.Now)),
		clock: clk,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	if strings.TrimSpace(key) == "" {
		return false, 0, errors.New("rate limit key is empty")
	}
	if ttl <= 0 {
		return true, 0, nil
	}
	if s.items.Add(key, s.clock.Now(), ttl) {
		return true, 0, nil
	}
	remaining, ok := s.items.TTL(key)
	if !ok {
		// Expired between Add and TTL.
		return s.items.Add(key, s.clock.Now(), ttl), 0, nil
	}
	return false, remaining, nil
}

// RedisStore shares markers across replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  clock.Clock
}

func NewRedisStore(client *redis.Client, prefix string, clk clock.Clock) *RedisStore {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &RedisStore{client: client, prefix: prefix, clock: clk}
}

func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	if s == nil || s.client == nil {
		return false, 0, errors.New("rate limit store not configured")
	}
	if strings.TrimSpace(key) == "" {
		return false, 0, errors.New("rate limit key is empty")
	}
	if ttl <= 0 {
		return true, 0, nil
	}

	fullKey := s.prefix + key
	ok, err := s.client.SetNX(ctx, fullKey, s.clock.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	remaining, err := s.client.PTTL(ctx, fullKey).Result()
	if err != nil {
		return false, 0, err
	}
	if remaining < 0 {
		remaining = ttl
	}
	return false, remaining, nil
}
