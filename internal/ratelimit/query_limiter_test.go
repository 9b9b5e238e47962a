package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAcquire(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)
	ctx := context.Background()

	ok, _, err := store.Acquire(ctx, "email:a@example.com", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(10 * time.Second)
	ok, remaining, err := store.Acquire(ctx, "email:a@example.com", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, remaining)

	ok, _, err = store.Acquire(ctx, "email:b@example.com", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(20 * time.Second)
	ok, _, err = store.Acquire(ctx, "email:a@example.com", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	_, _, err := NewMemoryStore(nil).Acquire(context.Background(), " ", time.Second)
	assert.Error(t, err)
}

func TestQueryLimiterAllow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewQueryLimiter(NewMemoryStore(clk), 30*time.Second, nil, nil)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "email", "User@Example.com"))

	err := limiter.Allow(ctx, "email", "user@example.com ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, errkind.KindRateLimited, errkind.Of(err))

	var limited *LimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 30*time.Second, limited.RetryAfter)

	require.NoError(t, limiter.Allow(ctx, "code", "user@example.com"))

	clk.Advance(30 * time.Second)
	require.NoError(t, limiter.Allow(ctx, "email", "user@example.com"))
}

func TestQueryLimiterDisabled(t *testing.T) {
	limiter := NewQueryLimiter(NewMemoryStore(nil), 0, nil, nil)
	ctx := context.Background()
	require.NoError(t, limiter.Allow(ctx, "email", "a@example.com"))
	require.NoError(t, limiter.Allow(ctx, "email", "a@example.com"))

	var nilLimiter *QueryLimiter
	require.NoError(t, nilLimiter.Allow(ctx, "email", "a@example.com"))
}

func TestPublicLimiterDisabledWithoutRedis(t *testing.T) {
	var limiter *PublicLimiter
	res, err := limiter.Allow(context.Background(), "payment_create", "127.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockerWithoutClient(t *testing.T) {
	locker := NewLocker(nil)
	assert.False(t, locker.Enabled())
	_, err := locker.Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockUnavailable)

	var lease *Lease
	assert.NoError(t, lease.Release(context.Background()))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, bucketTTL(2, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}
