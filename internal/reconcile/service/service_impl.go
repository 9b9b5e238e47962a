package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	membershipdomain "github.com/smallbiznis/seatbroker/internal/membership/domain"
	"github.com/smallbiznis/seatbroker/internal/observability/logger"
	"github.com/smallbiznis/seatbroker/internal/reconcile/domain"
	redemptiondomain "github.com/smallbiznis/seatbroker/internal/redemption/domain"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	cleanupBatch   = 1000
	recentRunLimit = 20
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Repo         domain.Repository
	Resources    resourcedomain.Service
	ResourceRepo resourcedomain.Repository
	Ledger       ledgerdomain.Service
	Codes        redemptiondomain.Service
	Provider     membershipdomain.Provider
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.ReconcileConfig
	repo         domain.Repository
	resources    resourcedomain.Service
	resourceRepo resourcedomain.Repository
	ledger       ledgerdomain.Service
	codes        redemptiondomain.Service
	provider     membershipdomain.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reconcile.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg.Reconcile,
		repo:         p.Repo,
		resources:    p.Resources,
		resourceRepo: p.ResourceRepo,
		ledger:       p.Ledger,
		codes:        p.Codes,
		provider:     p.Provider,
	}
}

func (s *Service) SyncResources(ctx context.Context) (domain.SyncResult, error) {
	var result domain.SyncResult
	err := s.track(ctx, domain.JobResourceSync, &result, func(ctx context.Context, log *zap.Logger) error {
		items, err := s.resourceRepo.ListAll(ctx, s.db)
		if err != nil {
			return err
		}
		result.Total = len(items)
		for i := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.syncOne(ctx, log, &items[i]); err != nil {
				result.Failed++
				continue
			}
			result.Success++
		}
		return nil
	})
	return result, err
}

func (s *Service) syncOne(ctx context.Context, log *zap.Logger, res *resourcedomain.Resource) error {
	log = log.With(zap.String("resource_id", res.ID.String()))

	cred, err := s.resources.ResolveCredential(ctx, res)
	if err != nil {
		return err
	}

	status, err := s.provider.FetchAccountStatus(ctx, cred)
	if err != nil {
		count, recErr := s.resourceRepo.RecordSyncError(ctx, s.db, res.ID, s.cfg.ErrorThreshold, s.clock.Now())
		if recErr != nil {
			log.Error("record sync error failed", zap.Error(recErr))
			return errors.Join(err, recErr)
		}
		log.Warn("resource sync failed",
			zap.Int("error_count", count),
			zap.String("error_code", errkind.CodeOf(err)),
			zap.Error(err),
		)
		return err
	}

	update := syncUpdate(*res, status)
	if err := s.resourceRepo.ApplySync(ctx, s.db, res.ID, update, s.clock.Now()); err != nil {
		log.Error("apply sync failed", zap.Error(err))
		return err
	}
	if update.Status != res.Status || update.Occupancy != res.CurrentOccupancy {
		log.Info("resource reconciled",
			zap.String("status", string(update.Status)),
			zap.Int("occupancy", update.Occupancy),
			zap.Int("previous_occupancy", res.CurrentOccupancy),
		)
	}
	return nil
}

// syncUpdate maps the provider view onto the local resource. Occupancy never
// exceeds the configured capacity.
func syncUpdate(res resourcedomain.Resource, status membershipdomain.AccountStatus) resourcedomain.SyncUpdate {
	occupancy := status.MemberCount
	if occupancy < 0 {
		occupancy = 0
	}
	if occupancy > res.MaxCapacity {
		occupancy = res.MaxCapacity
	}

	update := resourcedomain.SyncUpdate{Occupancy: occupancy, ExpiresAt: status.ExpiresAt}
	switch status.State {
	case membershipdomain.AccountStateBanned:
		update.Status = resourcedomain.StatusBanned
	case membershipdomain.AccountStateExpired:
		update.Status = resourcedomain.StatusExpired
	default:
		update.Status = resourcedomain.StatusForOccupancy(occupancy, res.MaxCapacity)
	}
	return update
}

func (s *Service) CleanupExpiredGrants(ctx context.Context) (domain.CleanupResult, error) {
	var result domain.CleanupResult
	err := s.track(ctx, domain.JobGrantCleanup, &result, func(ctx context.Context, log *zap.Logger) error {
		days := s.cfg.CleanupDays
		if days < 1 {
			days = 1
		}
		entries, err := s.ledger.ListCleanupCandidates(ctx, time.Duration(days)*24*time.Hour, cleanupBatch)
		if err != nil {
			return err
		}
		result.Scanned = len(entries)

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, detail := s.cleanupOne(ctx, log, entry)
			switch outcome {
			case ledgerdomain.CleanupDeleted:
				result.Deleted++
			case ledgerdomain.CleanupRevoked:
				result.Revoked++
			case ledgerdomain.CleanupSkipped:
				result.Skipped++
			default:
				result.Failed++
			}
			if err := s.ledger.RecordCleanup(ctx, entry.ID, outcome, detail); err != nil {
				log.Error("record cleanup outcome failed",
					zap.String("entry_id", entry.ID.String()),
					zap.Error(err),
				)
			}
		}

		expired, err := s.codes.ExpireSweep(ctx)
		if err != nil {
			return err
		}
		result.CodesExpired = expired
		return nil
	})
	return result, err
}

// cleanupOne revokes the seat behind one expired grant. Errors are folded into
// the failed outcome so the sweep continues.
func (s *Service) cleanupOne(ctx context.Context, log *zap.Logger, entry ledgerdomain.Entry) (ledgerdomain.CleanupOutcome, string) {
	log = log.With(
		zap.String("entry_id", entry.ID.String()),
		zap.String("resource_id", entry.ResourceID.String()),
		zap.String("email", logger.MaskEmail(entry.Email)),
	)

	newer, err := s.ledger.HasNewerGrant(ctx, entry)
	if err != nil {
		return s.failed(log, err)
	}
	if newer {
		return ledgerdomain.CleanupSkipped, "superseded"
	}

	res, err := s.resources.GetByID(ctx, entry.ResourceID)
	if errors.Is(err, resourcedomain.ErrNotFound) {
		return ledgerdomain.CleanupSkipped, "resource_deleted"
	}
	if err != nil {
		return s.failed(log, err)
	}
	if res.Status == resourcedomain.StatusBanned || res.Status == resourcedomain.StatusExpired {
		return ledgerdomain.CleanupSkipped, "resource_" + string(res.Status)
	}

	cred, err := s.resources.ResolveCredential(ctx, res)
	if err != nil {
		return s.failed(log, err)
	}

	members, err := s.provider.ListMembers(ctx, cred)
	if err != nil {
		return s.failed(log, err)
	}
	member, ok := findMember(members, entry.Email)
	if !ok {
		return ledgerdomain.CleanupSkipped, "not_member"
	}

	if err := s.provider.RemoveMember(ctx, cred, member); err != nil {
		if errors.Is(err, membershipdomain.ErrMemberNotFound) {
			return ledgerdomain.CleanupSkipped, "not_member"
		}
		return s.failed(log, err)
	}

	if _, err := s.resources.AdjustOccupancy(ctx, res.ID, -1); err != nil {
		log.Warn("release seat after cleanup failed", zap.Error(err))
	}

	if member.Pending {
		log.Info("expired invite revoked")
		return ledgerdomain.CleanupRevoked, ""
	}
	log.Info("expired member removed")
	return ledgerdomain.CleanupDeleted, ""
}

func (s *Service) failed(log *zap.Logger, err error) (ledgerdomain.CleanupOutcome, string) {
	log.Warn("grant cleanup failed", zap.Error(err))
	return ledgerdomain.CleanupFailed, errkind.CodeOf(err) + ": " + err.Error()
}

func findMember(members []membershipdomain.Member, email string) (membershipdomain.Member, bool) {
	for _, m := range members {
		if strings.EqualFold(strings.TrimSpace(m.Email), email) {
			return m, true
		}
	}
	return membershipdomain.Member{}, false
}

func (s *Service) RecentRuns(ctx context.Context, job domain.Job, limit int) ([]domain.Run, error) {
	if limit <= 0 || limit > recentRunLimit {
		limit = recentRunLimit
	}
	return s.repo.ListRuns(ctx, s.db, job, limit)
}

// track stores a run row around fn with the final result snapshot.
func (s *Service) track(ctx context.Context, job domain.Job, result any, fn func(context.Context, *zap.Logger) error) error {
	run := domain.Run{
		ID:        s.genID.Generate(),
		Job:       job,
		Status:    domain.RunRunning,
		Result:    datatypes.JSON(`{}`),
		StartedAt: s.clock.Now(),
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("job", string(job)),
		zap.String("run_id", run.ID.String()),
	)
	// The run row is written even when ctx is cancelled mid-sweep.
	auditCtx := context.WithoutCancel(ctx)
	if err := s.repo.InsertRun(auditCtx, s.db, &run); err != nil {
		log.Warn("record run start failed", zap.Error(err))
	}

	err := fn(ctx, log)

	status, errMsg := domain.RunSucceeded, ""
	if err != nil {
		status, errMsg = domain.RunFailed, err.Error()
	}
	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		payload = []byte(`{}`)
	}
	if finishErr := s.repo.FinishRun(auditCtx, s.db, run.ID, status, datatypes.JSON(payload), errMsg, s.clock.Now()); finishErr != nil {
		log.Warn("record run finish failed", zap.Error(finishErr))
	}
	return err
}
