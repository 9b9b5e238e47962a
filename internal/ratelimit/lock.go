package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld        = errors.New("lock_held")
	ErrLockUnavailable = errors.New("lock_unavailable")
)

// deletes KEYS[1] only while ARGV[1] still owns it
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out exclusive, expiring leases on redis keys.
type Locker struct {
	client *redis.Client
}

// Lease is one held lock. Release is idempotent.
type Lease struct {
	client *redis.Client
	Key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// Acquire returns ErrLockHeld while another lease on key is live.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if !l.Enabled() || key == "" || ttl <= 0 {
		return nil, ErrLockUnavailable
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Join(ErrLockUnavailable, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{client: l.client, Key: key, token: token}, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	return releaseLease.Run(ctx, l.client, []string{l.Key}, token).Err()
}
