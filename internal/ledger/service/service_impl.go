package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/seatbroker/internal/observability/metrics"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	loc        *time.Location
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		loc:        p.Cfg.Location(),
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (*ledgerdomain.Entry, bool, error) {
	email := ledgerdomain.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, false, ledgerdomain.ErrInvalidEmail
	}
	if !req.SourceType.Valid() {
		return nil, false, ledgerdomain.ErrInvalidSourceType
	}
	if req.ResourceID == 0 {
		return nil, false, ledgerdomain.ErrInvalidResource
	}
	orderNo := strings.TrimSpace(req.OrderNo)
	if req.SourceType == ledgerdomain.SourceTypePayment && orderNo == "" {
		return nil, false, ledgerdomain.ErrMissingOrderNo
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now()
	grantedAt := req.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = now
	}

	entry := &ledgerdomain.Entry{
		ID:         s.genID.Generate(),
		Email:      email,
		SourceType: req.SourceType,
		SourceCode: optional(ledgerdomain.NormalizeCode(req.SourceCode)),
		OrderNo:    optional(orderNo),
		ResourceID: req.ResourceID,
		GrantedAt:  grantedAt.UTC(),
		CreatedAt:  now,
	}

	inserted, err := s.repo.Insert(ctx, tx, entry)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindByOrderNo(ctx, tx, req.SourceType, orderNo)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, ledgerdomain.ErrMissingOrderNo
		}
		s.log.Info("ledger entry already recorded",
			zap.String("source_type", string(req.SourceType)),
			zap.String("order_no", orderNo),
			zap.String("entry_id", existing.ID.String()),
		)
		return existing, false, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(req.SourceType))
	}
	return entry, true, nil
}

func (s *Service) Query(ctx context.Context, req ledgerdomain.QueryRequest) (ledgerdomain.QueryResponse, error) {
	criteria, err := s.resolveFilter(req.Filter)
	if err != nil {
		return ledgerdomain.QueryResponse{}, err
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.QueryResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.Query(ctx, s.db, criteria, cursor, limit)
	if err != nil {
		return ledgerdomain.QueryResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(e ledgerdomain.Entry) pagination.Cursor {
		return pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.GrantedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if items == nil {
		items = []ledgerdomain.Entry{}
	}
	return ledgerdomain.QueryResponse{Entries: items, PageInfo: pageInfo}, nil
}

// Stats counts the filtered grants in total and since the start of the current
// day, week (Monday) and month in the configured timezone.
func (s *Service) Stats(ctx context.Context, filter ledgerdomain.Filter) (ledgerdomain.Stats, error) {
	criteria, err := s.resolveFilter(filter)
	if err != nil {
		return ledgerdomain.Stats{}, err
	}
	return s.repo.Stats(ctx, s.db, criteria, StatsWindowAt(s.clock.Now(), s.loc))
}

func (s *Service) Anchor(ctx context.Context, lookup ledgerdomain.Lookup) (*ledgerdomain.Entry, error) {
	return s.repo.Latest(ctx, s.db, normalizeLookup(lookup), true)
}

func (s *Service) Latest(ctx context.Context, lookup ledgerdomain.Lookup) (*ledgerdomain.Entry, error) {
	return s.repo.Latest(ctx, s.db, normalizeLookup(lookup), false)
}

func (s *Service) History(ctx context.Context, lookup ledgerdomain.Lookup, limit int) ([]ledgerdomain.Entry, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	return s.repo.History(ctx, s.db, normalizeLookup(lookup), limit)
}

func (s *Service) HasNewerGrant(ctx context.Context, entry ledgerdomain.Entry) (bool, error) {
	return s.repo.HasNewerGrant(ctx, s.db, entry)
}

func (s *Service) HasGrantOn(ctx context.Context, email string, resourceID snowflake.ID) (bool, error) {
	return s.repo.HasGrantOn(ctx, s.db, ledgerdomain.NormalizeEmail(email), resourceID)
}

func (s *Service) ListCleanupCandidates(ctx context.Context, olderThan time.Duration, limit int) ([]ledgerdomain.Entry, error) {
	if limit <= 0 {
		limit = pagination.MaxPageSize
	}
	return s.repo.ListCleanupCandidates(ctx, s.db, s.clock.Now().Add(-olderThan), limit)
}

func (s *Service) RecordCleanup(ctx context.Context, entryID snowflake.ID, outcome ledgerdomain.CleanupOutcome, detail string) error {
	switch outcome {
	case ledgerdomain.CleanupDeleted, ledgerdomain.CleanupRevoked, ledgerdomain.CleanupSkipped, ledgerdomain.CleanupFailed:
	default:
		return ledgerdomain.ErrInvalidOutcome
	}
	return s.repo.UpsertCleanup(ctx, s.db, &ledgerdomain.Cleanup{
		ID:          s.genID.Generate(),
		EntryID:     entryID,
		Outcome:     outcome,
		Detail:      detail,
		Attempts:    1,
		ProcessedAt: s.clock.Now(),
	})
}

func (s *Service) resolveFilter(f ledgerdomain.Filter) (ledgerdomain.Criteria, error) {
	if f.SourceType != "" && !f.SourceType.Valid() {
		return ledgerdomain.Criteria{}, ledgerdomain.ErrInvalidSourceType
	}
	criteria := ledgerdomain.Criteria{
		Email:      f.Email,
		SourceCode: f.SourceCode,
		OrderNo:    f.OrderNo,
		ResourceID: f.ResourceID,
		SourceType: f.SourceType,
	}
	if v := strings.TrimSpace(f.DateFrom); v != "" {
		day, err := time.ParseInLocation(dateLayout, v, s.loc)
		if err != nil {
			return ledgerdomain.Criteria{}, ledgerdomain.ErrInvalidDateRange
		}
		from := day.UTC()
		criteria.From = &from
	}
	if v := strings.TrimSpace(f.DateTo); v != "" {
		day, err := time.ParseInLocation(dateLayout, v, s.loc)
		if err != nil {
			return ledgerdomain.Criteria{}, ledgerdomain.ErrInvalidDateRange
		}
		until := day.AddDate(0, 0, 1).UTC()
		criteria.Until = &until
	}
	if criteria.From != nil && criteria.Until != nil && !criteria.From.Before(*criteria.Until) {
		return ledgerdomain.Criteria{}, ledgerdomain.ErrInvalidDateRange
	}
	return criteria, nil
}

// StatsWindowAt returns the UTC start of the day, ISO week and month that
// contain now in loc.
func StatsWindowAt(now time.Time, loc *time.Location) ledgerdomain.StatsWindow {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := (int(today.Weekday()) + 6) % 7
	week := today.AddDate(0, 0, -offset)
	month := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return ledgerdomain.StatsWindow{
		Today: today.UTC(),
		Week:  week.UTC(),
		Month: month.UTC(),
	}
}

func normalizeLookup(lookup ledgerdomain.Lookup) ledgerdomain.Lookup {
	return ledgerdomain.Lookup{
		Email: ledgerdomain.NormalizeEmail(lookup.Email),
		Code:  ledgerdomain.NormalizeCode(lookup.Code),
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
