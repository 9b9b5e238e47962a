package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	"github.com/smallbiznis/seatbroker/internal/warranty/domain"
	"go.uber.org/zap"
)

const reinviteLeaseTTL = 2 * time.Minute

// lockMember serializes re-grants for one email. Within a process callers
// queue on a mutex; across replicas a redis lease turns a concurrent call
// into ErrInProgress. A redis failure falls back to the local mutex.
func (s *Service) lockMember(ctx context.Context, email string, log *zap.Logger) (func(), error) {
	unlock := s.inflight.lock(email)

	if !s.locker.Enabled() {
		return unlock, nil
	}
	lease, err := s.locker.Acquire(ctx, "warranty:reinvite:"+email, reinviteLeaseTTL)
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		unlock()
		return nil, domain.ErrInProgress
	case err != nil:
		log.Warn("reinvite lease unavailable, using local lock only", zap.Error(err))
		return unlock, nil
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("reinvite lease release failed", zap.Error(err))
		}
		unlock()
	}, nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedLock{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
