package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	membershipdomain "github.com/smallbiznis/seatbroker/internal/membership/domain"
	"github.com/smallbiznis/seatbroker/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/seatbroker/internal/observability/metrics"
	"github.com/smallbiznis/seatbroker/internal/observability/tracing"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const candidateBatch = 5

var errSeatLost = errors.New("seat taken by a concurrent grant")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Storefront   *config.StorefrontHolder
	Resources    resourcedomain.Service
	ResourceRepo resourcedomain.Repository
	Ledger       ledgerdomain.Service
	Provider     membershipdomain.Provider
	GrantMetrics *obsmetrics.GrantMetrics `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics      `optional:"true"`
}

type Selector struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	storefront   *config.StorefrontHolder
	resources    resourcedomain.Service
	resourceRepo resourcedomain.Repository
	ledger       ledgerdomain.Service
	provider     membershipdomain.Provider
	grantMetrics *obsmetrics.GrantMetrics
	obsMetrics   *obsmetrics.Metrics
}

func NewSelector(p Params) grantdomain.Selector {
	return &Selector{
		db:           p.DB,
		log:          p.Log.Named("grant.selector"),
		clock:        p.Clock,
		storefront:   p.Storefront,
		resources:    p.Resources,
		resourceRepo: p.ResourceRepo,
		ledger:       p.Ledger,
		provider:     p.Provider,
		grantMetrics: p.GrantMetrics,
		obsMetrics:   p.ObsMetrics,
	}
}

// SelectAndGrant reserves a seat on the available resource closest to expiry,
// invites the member and records the grant in one transaction. Provider
// failures move on to the next candidate until the storefront attempt limit
// is spent, then surface.
func (s *Selector) SelectAndGrant(ctx context.Context, req grantdomain.Request) (grantdomain.Result, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return grantdomain.Result{}, grantdomain.ErrInvalidEmail
	}
	req.Email = email

	ctx, end := tracing.StartSpan(ctx, "grant.select_and_grant",
		attribute.String("source_type", string(req.SourceType)),
	)
	started := time.Now()
	result, err := s.selectAndGrant(ctx, req)
	end(err)

	outcome := "granted"
	if err != nil {
		outcome = errkind.CodeOf(err)
	}
	if s.grantMetrics != nil {
		s.grantMetrics.ObserveGrant(string(req.SourceType), outcome, time.Since(started))
	}
	if err == nil && s.obsMetrics != nil && !result.Duplicate {
		s.obsMetrics.RecordGrant(ctx, string(req.SourceType))
	}
	return result, err
}

func (s *Selector) selectAndGrant(ctx context.Context, req grantdomain.Request) (grantdomain.Result, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("email", logger.MaskEmail(req.Email)),
		zap.String("source_type", string(req.SourceType)),
	)

	maxAttempts := 1
	if s.storefront != nil {
		if n := s.storefront.Get().MaxAttempts; n > 1 {
			maxAttempts = n
		}
	}

	excluded := append([]snowflake.ID(nil), req.ExcludeIDs...)
	attempts := 0
	var lastErr error

	for {
		candidates, err := s.resources.ListAvailable(ctx, resourcedomain.AvailableFilter{
			ExcludeIDs: excluded,
			Limit:      candidateBatch,
		})
		if err != nil {
			return grantdomain.Result{}, err
		}
		if len(candidates) == 0 {
			break
		}

		for i := range candidates {
			candidate := candidates[i]
			excluded = append(excluded, candidate.ID)

			cred, err := s.resources.ResolveCredential(ctx, &candidate)
			if err != nil {
				log.Warn("skipping resource with unreadable credential",
					zap.String("resource_id", candidate.ID.String()),
					zap.Error(err),
				)
				continue
			}

			result, err := s.grantOn(ctx, candidate, cred, req)
			switch {
			case err == nil:
				log.Info("grant committed",
					zap.String("resource_id", result.Resource.ID.String()),
					zap.String("entry_id", result.Entry.ID.String()),
					zap.Bool("duplicate", result.Duplicate),
				)
				return result, nil
			case errors.Is(err, errSeatLost):
				if s.grantMetrics != nil {
					s.grantMetrics.IncReserveConflict()
				}
				continue
			case errkind.Of(err) == errkind.KindMembershipProviderError:
				attempts++
				lastErr = err
				log.Warn("membership invite failed",
					zap.String("resource_id", candidate.ID.String()),
					zap.Int("attempt", attempts),
					zap.Error(err),
				)
				if attempts >= maxAttempts {
					return grantdomain.Result{}, err
				}
				continue
			default:
				return grantdomain.Result{}, err
			}
		}
	}

	if lastErr != nil {
		return grantdomain.Result{}, lastErr
	}
	return grantdomain.Result{}, grantdomain.ErrNoCapacityAvailable
}

func (s *Selector) grantOn(ctx context.Context, candidate resourcedomain.Resource, cred membershipdomain.Credential, req grantdomain.Request) (grantdomain.Result, error) {
	var (
		result  grantdomain.Result
		invited bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.resourceRepo.ReserveSeat(ctx, tx, candidate.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errSeatLost
		}

		err = s.provider.InviteMember(ctx, cred, req.Email)
		switch {
		case err == nil:
			invited = true
		case !errors.Is(err, membershipdomain.ErrAlreadyMember):
			return ensureProviderKind(err)
		}

		entry, inserted, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendRequest{
			Email:      req.Email,
			SourceType: req.SourceType,
			SourceCode: req.SourceCode,
			OrderNo:    req.OrderNo,
			ResourceID: candidate.ID,
			GrantedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// The payment grant was already recorded; undo this seat.
			if _, err := s.resourceRepo.AdjustOccupancy(ctx, tx, candidate.ID, -1, now); err != nil {
				return err
			}
			result.Duplicate = true
		}

		res, err := s.resourceRepo.FindByID(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		if res == nil {
			return resourcedomain.ErrNotFound
		}
		result.Resource = res
		result.Entry = entry

		if req.Finalize != nil {
			if err := req.Finalize(ctx, tx, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return result, nil
	}

	if invited && !result.Duplicate {
		s.compensate(ctx, candidate, cred, req.Email, err)
	}
	return grantdomain.Result{}, err
}

// compensate removes an invited member whose grant did not commit. A member
// that already holds a committed grant on the resource is left in place.
func (s *Selector) compensate(ctx context.Context, candidate resourcedomain.Resource, cred membershipdomain.Credential, email string, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("resource_id", candidate.ID.String()),
		zap.String("email", logger.MaskEmail(email)),
	)
	held, err := s.ledger.HasGrantOn(ctx, email, candidate.ID)
	if err != nil {
		log.Error("grant rolled back, prior grant lookup failed; invite left in place",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	if held {
		log.Info("grant rolled back, member keeps earlier seat", zap.NamedError("cause", cause))
		return
	}
	if err := s.provider.RemoveMember(ctx, cred, membershipdomain.Member{Email: email, Pending: true}); err != nil {
		log.Error("grant rolled back but invite could not be revoked",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	log.Info("grant rolled back, invite revoked", zap.NamedError("cause", cause))
}

func ensureProviderKind(err error) error {
	if errkind.Of(err) == errkind.KindMembershipProviderError {
		return err
	}
	return fmt.Errorf("%w: %w", membershipdomain.ErrProvider, err)
}
