package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/internal/observability/logger"
	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/internal/warranty/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	queryTypeEmail = "warranty_email"
	queryTypeCode  = "warranty_code"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Cfg       config.Config
	Ledger    ledgerdomain.Service
	Resources resourcedomain.Service
	Selector  grantdomain.Selector
	Limiter   *ratelimit.QueryLimiter `optional:"true"`
	Locker    *ratelimit.Locker       `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	window    time.Duration
	ledger    ledgerdomain.Service
	resources resourcedomain.Service
	selector  grantdomain.Selector
	limiter   *ratelimit.QueryLimiter
	locker    *ratelimit.Locker
	inflight  keyedMutex
}

func New(p Params) domain.Service {
	days := p.Cfg.Warranty.WindowDays
	if days <= 0 {
		days = domain.DefaultWindowDays
	}
	return &Service{
		log:       p.Log.Named("warranty.service"),
		clock:     p.Clock,
		window:    time.Duration(days) * 24 * time.Hour,
		ledger:    p.Ledger,
		resources: p.Resources,
		selector:  p.Selector,
		limiter:   p.Limiter,
		locker:    p.Locker,
	}
}

func (s *Service) Check(ctx context.Context, req domain.CheckRequest) (domain.CheckResult, error) {
	lookup, queryType, err := resolveQuery(req)
	if err != nil {
		return domain.CheckResult{}, err
	}
	key := lookup.Email
	if key == "" {
		key = lookup.Code
	}
	if err := s.limiter.Allow(ctx, queryType, key); err != nil {
		return domain.CheckResult{}, err
	}

	eval, err := s.evaluate(ctx, lookup)
	if err != nil {
		return domain.CheckResult{}, err
	}

	out := domain.CheckResult{
		Status:          eval.Status,
		BannedResources: []domain.BannedResource{},
		Records:         []domain.Record{},
	}
	if eval.Anchor == nil {
		return out, nil
	}

	valid := eval.Status == domain.StatusAfterSalesAvailable || eval.Status == domain.StatusNormal
	out.HasWarranty = true
	out.WarrantyValid = valid
	out.WarrantyExpiresAt = eval.WindowEnd
	out.CanReuse = eval.Eligible()
	out.OriginalCode = eval.OriginalCode()

	code := "-"
	if eval.Anchor.SourceCode != nil {
		code = *eval.Anchor.SourceCode
	}
	record := domain.Record{
		Code:              code,
		Email:             eval.Current.Email,
		SourceType:        eval.Anchor.SourceType,
		Status:            eval.Status,
		WarrantyValid:     valid,
		WarrantyExpiresAt: eval.WindowEnd,
		CanReuse:          out.CanReuse,
		UsedAt:            eval.Anchor.GrantedAt,
	}
	if res := eval.Resource; res != nil {
		id, name, status := res.ID, res.Name, res.Status
		record.ResourceID = &id
		record.ResourceName = &name
		record.ResourceStatus = &status
		record.ResourceExpiresAt = res.ExpiresAt
		if res.Status == resourcedomain.StatusBanned {
			out.BannedResources = append(out.BannedResources, domain.BannedResource{
				ResourceID:   res.ID,
				ResourceName: res.Name,
				Email:        eval.Current.Email,
			})
		}
	}
	out.Records = append(out.Records, record)
	return out, nil
}

func (s *Service) ValidateReuse(ctx context.Context, req domain.ReuseRequest) (domain.ReuseDecision, error) {
	email := ledgerdomain.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.ReuseDecision{}, domain.ErrInvalidEmail
	}

	eval, err := s.evaluate(ctx, ledgerdomain.Lookup{Email: email})
	if err != nil {
		return domain.ReuseDecision{}, err
	}
	reason := reuseReason(eval, ledgerdomain.NormalizeCode(req.Code))
	return domain.ReuseDecision{CanReuse: reason == domain.ReasonEligible, Reason: reason}, nil
}

func (s *Service) Reinvite(ctx context.Context, req domain.ReinviteRequest) (domain.ReinviteResult, error) {
	email := ledgerdomain.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.ReinviteResult{}, domain.ErrInvalidEmail
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("email", logger.MaskEmail(email)))

	release, err := s.lockMember(ctx, email, log)
	if err != nil {
		return domain.ReinviteResult{}, err
	}
	defer release()

	eval, err := s.evaluate(ctx, ledgerdomain.Lookup{Email: email})
	if err != nil {
		return domain.ReinviteResult{}, err
	}
	switch eval.Status {
	case domain.StatusUnknown:
		return domain.ReinviteResult{}, domain.ErrNoGrant
	case domain.StatusExpired:
		return domain.ReinviteResult{}, domain.ErrExpired
	case domain.StatusNormal:
		return domain.ReinviteResult{}, domain.ErrNotEligible
	}

	requested := ledgerdomain.NormalizeCode(req.Code)
	original := ""
	if eval.Anchor.SourceCode != nil {
		original = *eval.Anchor.SourceCode
	}
	if requested != "" && original != "" && requested != original {
		return domain.ReinviteResult{}, domain.ErrCodeMismatch
	}

	result, err := s.selector.SelectAndGrant(ctx, grantdomain.Request{
		Email:      eval.Current.Email,
		SourceType: ledgerdomain.SourceTypeAfterSales,
		SourceCode: original,
		ExcludeIDs: []snowflake.ID{eval.Current.ResourceID},
	})
	if err != nil {
		log.Warn("after-sales re-grant failed", zap.Error(err))
		return domain.ReinviteResult{}, err
	}

	log.Info("after-sales re-grant committed",
		zap.String("resource_id", result.Resource.ID.String()),
		zap.String("anchor_id", eval.Anchor.ID.String()),
	)
	return domain.ReinviteResult{
		Resource:          result.Resource.PublicInfo(),
		WarrantyExpiresAt: *eval.WindowEnd,
		EntryID:           result.Entry.ID,
		GrantedAt:         result.Entry.GrantedAt,
	}, nil
}

// evaluate anchors the window on the latest redemption_code or payment grant
// and reads the ban state from the resource of the latest grant of any kind.
func (s *Service) evaluate(ctx context.Context, lookup ledgerdomain.Lookup) (domain.Evaluation, error) {
	anchor, err := s.ledger.Anchor(ctx, lookup)
	if err != nil {
		return domain.Evaluation{}, err
	}
	if anchor == nil {
		return domain.Evaluation{Status: domain.StatusUnknown}, nil
	}

	current, err := s.ledger.Latest(ctx, ledgerdomain.Lookup{Email: anchor.Email})
	if err != nil {
		return domain.Evaluation{}, err
	}
	if current == nil {
		current = anchor
	}

	res, err := s.resources.GetByID(ctx, current.ResourceID)
	if err != nil && !errors.Is(err, resourcedomain.ErrNotFound) {
		return domain.Evaluation{}, err
	}

	windowEnd := anchor.GrantedAt.Add(s.window)
	var status resourcedomain.Status
	if res != nil {
		status = res.Status
	}
	return domain.Evaluation{
		Status:    domain.Classify(s.clock.Now(), &windowEnd, status),
		WindowEnd: &windowEnd,
		Anchor:    anchor,
		Current:   current,
		Resource:  res,
	}, nil
}

func reuseReason(eval domain.Evaluation, code string) string {
	switch eval.Status {
	case domain.StatusUnknown:
		return domain.ReasonNoGrant
	case domain.StatusExpired:
		return domain.ReasonExpired
	case domain.StatusNormal:
		return domain.ReasonResourceNotBanned
	}
	original := eval.OriginalCode()
	if original == nil || *original == "" {
		return domain.ReasonNotRedemptionSource
	}
	if *original != code {
		return domain.ReasonCodeMismatch
	}
	return domain.ReasonEligible
}

func resolveQuery(req domain.CheckRequest) (ledgerdomain.Lookup, string, error) {
	email := strings.TrimSpace(req.Email)
	code := strings.TrimSpace(req.Code)
	if email == "" && code == "" {
		if q := strings.TrimSpace(req.Query); strings.Contains(q, "@") {
			email = q
		} else {
			code = q
		}
	}
	switch {
	case email != "":
		email = ledgerdomain.NormalizeEmail(email)
		if !strings.Contains(email, "@") {
			return ledgerdomain.Lookup{}, "", domain.ErrInvalidEmail
		}
		return ledgerdomain.Lookup{Email: email}, queryTypeEmail, nil
	case code != "":
		return ledgerdomain.Lookup{Code: ledgerdomain.NormalizeCode(code)}, queryTypeCode, nil
	default:
		return ledgerdomain.Lookup{}, "", domain.ErrInvalidQuery
	}
}
