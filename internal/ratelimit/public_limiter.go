package ratelimit

import (
	"context"
	"strings"

	"github.com/smallbiznis/seatbroker/internal/config"
)

// PublicLimiter throttles unauthenticated endpoints per client address.
type PublicLimiter struct {
	bucket *TokenBucket
	prefix string
	rate   float64
	burst  int
}

// NewPublicLimiter returns nil when redis or the public rate is not configured.
func NewPublicLimiter(cfg config.Config, bucket *TokenBucket) *PublicLimiter {
	if bucket == nil || cfg.Redis.PublicRate <= 0 || cfg.Redis.PublicBurst <= 0 {
		return nil
	}
	return &PublicLimiter{
		bucket: bucket,
		prefix: keyPrefix(cfg),
		rate:   cfg.Redis.PublicRate,
		burst:  cfg.Redis.PublicBurst,
	}
}

func (l *PublicLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *PublicLimiter) Allow(ctx context.Context, endpoint, clientAddr string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := l.prefix + "public:" + strings.TrimSpace(endpoint) + ":" + strings.TrimSpace(clientAddr)
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

func keyPrefix(cfg config.Config) string {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "seatbroker"
	}
	return name + ":"
}
