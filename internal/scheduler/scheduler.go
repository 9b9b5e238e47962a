package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	obsmetrics "github.com/smallbiznis/seatbroker/internal/observability/metrics"
	"github.com/smallbiznis/seatbroker/internal/observability/tracing"
	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/seatbroker/internal/reconcile/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Reconcile reconciledomain.Service
	Locker    *ratelimit.Locker `optional:"true"`
	Config    Config
}

// Scheduler runs the resource sync loop on a jittered interval and the
// grant cleanup loop once per local midnight.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	reconcile reconciledomain.Service
	locker    *ratelimit.Locker

	after func(time.Duration) <-chan time.Time
	randN func(n int) int

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Reconcile == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		reconcile: p.Reconcile,
		locker:    p.Locker,
		after:     time.After,
		randN:     rand.IntN,
		stop:      make(chan struct{}),
	}, nil
}

// Start launches the enabled loops. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(context.Background())

	if s.cfg.SyncEnabled {
		s.wg.Add(1)
		go s.loop(string(reconciledomain.JobResourceSync), s.nextSyncDelay, s.RunSync)
	}
	if s.cfg.CleanupEnabled {
		s.wg.Add(1)
		go s.loop(string(reconciledomain.JobGrantCleanup), s.nextCleanupDelay, s.RunCleanup)
	}
	s.log.Info("scheduler started",
		zap.Bool("sync_enabled", s.cfg.SyncEnabled),
		zap.Bool("cleanup_enabled", s.cfg.CleanupEnabled),
	)
}

// Stop signals both loops, waits up to the shutdown grace period for an
// in-flight job, then cancels it.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stop)
	cancel := s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
		cancel()
		return nil
	case <-grace.C:
		s.log.Warn("scheduler grace period elapsed, cancelling jobs", zap.Duration("grace", s.cfg.ShutdownGrace))
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline reached, cancelling jobs", zap.Error(ctx.Err()))
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(job string, next func(time.Time) time.Duration, run func(context.Context) error) {
	defer s.wg.Done()

	for {
		now := s.clock.Now()
		wait := next(now)
		s.logNextRun(job, now, wait)

		select {
		case <-s.stop:
			return
		case <-s.after(wait):
		}

		select {
		case <-s.stop:
			return
		default:
		}

		if err := run(s.runCtx); err != nil {
			s.log.Warn("scheduler run failed", zap.String("job", job), zap.Error(err))
		}
	}
}

// nextSyncDelay picks a whole number of minutes in [min, max].
func (s *Scheduler) nextSyncDelay(time.Time) time.Duration {
	minutes := s.cfg.SyncMinMinutes
	if span := s.cfg.SyncMaxMinutes - s.cfg.SyncMinMinutes; span > 0 {
		minutes += s.randN(span + 1)
	}
	return time.Duration(minutes) * time.Minute
}

// nextCleanupDelay returns the time left until the next midnight in the
// configured location, never less than one second.
func (s *Scheduler) nextCleanupDelay(now time.Time) time.Duration {
	local := now.In(s.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.cfg.Location)
	wait := next.Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// RunSync executes one resource sync sweep.
func (s *Scheduler) RunSync(ctx context.Context) error {
	job := string(reconciledomain.JobResourceSync)
	return s.runJob(ctx, job, s.cfg.JobTimeout, func(ctx context.Context, run *jobRun) error {
		res, err := s.reconcile.SyncResources(ctx)
		run.AddProcessed(res.Total)
		run.AddErrors(res.Failed)

		schedMetrics := obsmetrics.Scheduler()
		schedMetrics.AddOutcome(job, "success", res.Success)
		schedMetrics.AddOutcome(job, "failed", res.Failed)
		return err
	})
}

// RunCleanup executes one expired grant cleanup sweep.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	job := string(reconciledomain.JobGrantCleanup)
	return s.runJob(ctx, job, s.cfg.JobTimeout, func(ctx context.Context, run *jobRun) error {
		res, err := s.reconcile.CleanupExpiredGrants(ctx)
		run.AddProcessed(res.Scanned)
		run.AddErrors(res.Failed)

		schedMetrics := obsmetrics.Scheduler()
		schedMetrics.AddOutcome(job, "deleted", res.Deleted)
		schedMetrics.AddOutcome(job, "revoked", res.Revoked)
		schedMetrics.AddOutcome(job, "skipped", res.Skipped)
		schedMetrics.AddOutcome(job, "failed", res.Failed)
		return err
	})
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	release, ok := s.acquire(ctx, name, timeout, log)
	if !ok {
		return nil
	}
	defer release()

	ctx, endSpan := tracing.StartSpan(ctx, "scheduler."+name, attribute.String("run_id", run.runID))
	s.logJobStart(ctx, run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx, run)
	endSpan(err)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.AddErrors(1)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick retries
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}
