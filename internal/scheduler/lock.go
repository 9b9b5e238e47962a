package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	"go.uber.org/zap"
)

const lockGrace = time.Minute

func (s *Scheduler) lockKey(job string) string {
	return s.cfg.LockPrefix + "scheduler:" + job
}

// acquire takes the cross-instance job lock when redis is configured. A lock
// held elsewhere skips the run; a redis failure runs the job unlocked.
func (s *Scheduler) acquire(ctx context.Context, job string, timeout time.Duration, log *zap.Logger) (func(), bool) {
	if !s.locker.Enabled() {
		return func() {}, true
	}

	key := s.lockKey(job)
	lease, err := s.locker.Acquire(ctx, key, timeout+lockGrace)
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		log.Info("scheduler.job.skipped", zap.String("lock_key", key), zap.String("reason", "locked"))
		return nil, false
	case err != nil:
		log.Warn("scheduler lock unavailable, running unlocked", zap.String("lock_key", key), zap.Error(err))
		return func() {}, true
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("scheduler lock release failed", zap.String("lock_key", key), zap.Error(err))
		}
	}, true
}
