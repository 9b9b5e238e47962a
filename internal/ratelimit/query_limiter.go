package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/seatbroker/internal/observability/metrics"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"go.uber.org/zap"
)

var ErrRateLimited = errkind.New(errkind.KindRateLimited, "rate_limited")

// LimitedError reports how long the caller must wait before retrying.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate_limited: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }

// QueryLimiter allows one query per (query type, key) per interval.
type QueryLimiter struct {
	store    Store
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewQueryLimiter(store Store, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *QueryLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryLimiter{
		store:    store,
		interval: interval,
		log:      log.Named("ratelimit.query"),
		metrics:  m,
	}
}

func (l *QueryLimiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Allow returns a *LimitedError when key was queried within the interval.
// Store failures are logged and the query is allowed.
func (l *QueryLimiter) Allow(ctx context.Context, queryType, key string) error {
	if l == nil || l.store == nil || l.interval <= 0 {
		return nil
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil
	}

	ok, remaining, err := l.store.Acquire(ctx, queryType+":"+key, l.interval)
	if err != nil {
		l.log.Warn("rate limit store failed", zap.String("query_type", queryType), zap.Error(err))
		return nil
	}
	if ok {
		return nil
	}
	l.metrics.RecordRateLimited(ctx, queryType)
	if remaining <= 0 {
		remaining = time.Second
	}
	return &LimitedError{RetryAfter: remaining}
}
