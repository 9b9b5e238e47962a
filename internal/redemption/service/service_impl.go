package service

import (
	"context"
	"crypto/rand"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/seatbroker/internal/clock"
	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/internal/observability/logger"
	"github.com/smallbiznis/seatbroker/internal/redemption/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	randomCodeLength = 16
	insertRetries    = 5
)

var customCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{4,64}$`)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Selector grantdomain.Selector
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	selector grantdomain.Selector
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("redemption.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		selector: p.Selector,
	}
}

func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) ([]domain.Code, error) {
	custom := normalizeCode(req.Custom)
	count := req.Count
	if custom != "" {
		if !customCodePattern.MatchString(custom) {
			return nil, domain.ErrInvalidCode
		}
		count = 1
	}
	if count <= 0 || count > domain.MaxBatch {
		return nil, domain.ErrInvalidCount
	}
	if req.ExpiresDays < 0 {
		return nil, domain.ErrInvalidExpiry
	}
	warrantyDays := req.WarrantyDays
	if warrantyDays == 0 {
		warrantyDays = domain.DefaultWarrantyDays
	}
	if warrantyDays < 0 {
		return nil, domain.ErrInvalidWarranty
	}

	now := s.clock.Now()
	var expiresAt *time.Time
	if req.ExpiresDays > 0 {
		t := now.AddDate(0, 0, req.ExpiresDays)
		expiresAt = &t
	}

	codes := make([]domain.Code, 0, count)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < count; i++ {
			item := domain.Code{
				ID:           s.genID.Generate(),
				Status:       domain.StatusUnused,
				ExpiresAt:    expiresAt,
				HasWarranty:  req.HasWarranty,
				WarrantyDays: warrantyDays,
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			if custom != "" {
				item.Code = custom
				ok, err := s.repo.Insert(ctx, tx, &item)
				if err != nil {
					return err
				}
				if !ok {
					return domain.ErrDuplicateCode
				}
				codes = append(codes, item)
				continue
			}

			inserted := false
			for attempt := 0; attempt < insertRetries && !inserted; attempt++ {
				code, err := randomCode(now)
				if err != nil {
					return err
				}
				item.Code = code
				if inserted, err = s.repo.Insert(ctx, tx, &item); err != nil {
					return err
				}
			}
			if !inserted {
				return domain.ErrDuplicateCode
			}
			codes = append(codes, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("redemption codes generated",
		zap.Int("count", len(codes)),
		zap.Bool("has_warranty", req.HasWarranty),
		zap.Int("expires_days", req.ExpiresDays),
	)
	return codes, nil
}

// Validate expires the code on read when it is unused and past expiry.
func (s *Service) Validate(ctx context.Context, code string) (*domain.Code, error) {
	item, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	switch item.Status {
	case domain.StatusUsed:
		return nil, domain.ErrAlreadyUsed
	case domain.StatusExpired:
		return nil, domain.ErrExpired
	}

	now := s.clock.Now()
	if item.ExpiredAt(now) {
		if _, err := s.repo.MarkExpired(ctx, s.db, item.Code, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrExpired
	}
	return item, nil
}

// Redeem grants a seat for the code and marks it used in the same transaction.
// A failed grant leaves the code unused.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (domain.RedeemResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.RedeemResult{}, domain.ErrInvalidEmail
	}

	item, err := s.Validate(ctx, req.Code)
	if err != nil {
		return domain.RedeemResult{}, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("code", item.Code),
		zap.String("email", logger.MaskEmail(email)),
	)

	result, err := s.selector.SelectAndGrant(ctx, grantdomain.Request{
		Email:      email,
		SourceType: ledgerdomain.SourceTypeRedemptionCode,
		SourceCode: item.Code,
		Finalize: func(ctx context.Context, tx *gorm.DB, result grantdomain.Result) error {
			ok, err := s.repo.MarkUsed(ctx, tx, item.Code, email, result.Resource.ID, result.Entry.GrantedAt)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrAlreadyUsed
			}
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyUsed) {
			log.Info("code redeemed concurrently")
		} else {
			log.Warn("redemption failed", zap.Error(err))
		}
		return domain.RedeemResult{}, err
	}

	used, err := s.Get(ctx, item.Code)
	if err != nil {
		return domain.RedeemResult{}, err
	}

	log.Info("code redeemed", zap.String("resource_id", result.Resource.ID.String()))
	return domain.RedeemResult{
		Code:      used,
		Resource:  result.Resource.PublicInfo(),
		EntryID:   result.Entry.ID,
		GrantedAt: result.Entry.GrantedAt,
	}, nil
}

func (s *Service) Get(ctx context.Context, code string) (*domain.Code, error) {
	normalized := normalizeCode(code)
	if normalized == "" {
		return nil, domain.ErrInvalidCode
	}
	item, err := s.repo.FindByCode(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, req.Status, req.Search, cursor, limit)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(c domain.Code) pagination.Cursor {
		return pagination.Cursor{ID: c.ID.String()}
	})
	if items == nil {
		items = []domain.Code{}
	}
	return domain.ListResponse{Codes: items, PageInfo: pageInfo}, nil
}

func (s *Service) Update(ctx context.Context, code string, req domain.UpdateRequest) (*domain.Code, error) {
	var out *domain.Code
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByCode(ctx, tx, normalizeCode(code))
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		if err := s.apply(item, req); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkUpdate applies req to every listed code that exists and returns how
// many were changed.
func (s *Service) BulkUpdate(ctx context.Context, req domain.BulkUpdateRequest) (int, error) {
	if len(req.Codes) == 0 {
		return 0, domain.ErrEmptyBulkSelector
	}
	if len(req.Codes) > domain.MaxBatch {
		return 0, domain.ErrInvalidCount
	}

	updated := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, code := range req.Codes {
			item, err := s.repo.FindByCode(ctx, tx, normalizeCode(code))
			if err != nil {
				return err
			}
			if item == nil {
				continue
			}
			if err := s.apply(item, req.UpdateRequest); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, tx, item); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("redemption codes updated", zap.Int("requested", len(req.Codes)), zap.Int("updated", updated))
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	ok, err := s.repo.Delete(ctx, s.db, normalizeCode(code))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireBefore(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired unused redemption codes", zap.Int64("count", n))
	}
	return n, nil
}

// apply folds an operator override into item. Resetting to unused clears the
// redemption details.
func (s *Service) apply(item *domain.Code, req domain.UpdateRequest) error {
	now := s.clock.Now()
	if req.Status != nil {
		if !req.Status.Valid() {
			return domain.ErrInvalidStatus
		}
		item.Status = *req.Status
		switch item.Status {
		case domain.StatusUnused:
			item.UsedBy = nil
			item.UsedAt = nil
			item.ResourceID = nil
		case domain.StatusUsed:
			if item.UsedAt == nil {
				item.UsedAt = &now
			}
		}
	}
	if req.ClearExpiry {
		item.ExpiresAt = nil
	} else if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		item.ExpiresAt = &t
	}
	if req.HasWarranty != nil {
		item.HasWarranty = *req.HasWarranty
	}
	if req.WarrantyDays != nil {
		if *req.WarrantyDays <= 0 {
			return domain.ErrInvalidWarranty
		}
		item.WarrantyDays = *req.WarrantyDays
	}
	item.UpdatedAt = now
	return nil
}

// randomCode returns the 16-character entropy segment of a fresh ULID.
func randomCode(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	s := id.String()
	return s[len(s)-randomCodeLength:], nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
