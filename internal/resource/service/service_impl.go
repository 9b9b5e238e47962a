package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/credential"
	membershipdomain "github.com/smallbiznis/seatbroker/internal/membership/domain"
	"github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Cipher credential.Cipher
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	cipher credential.Cipher
	repo   domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("resource.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		cipher: p.Cipher,
		repo:   p.Repo,
	}
}

func (s *Service) ListAvailable(ctx context.Context, filter domain.AvailableFilter) ([]domain.Resource, error) {
	return s.repo.ListAvailable(ctx, s.db, s.clock.Now(), filter)
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Resource, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

// AdjustOccupancy applies delta and flips between active and full as the
// result crosses capacity.
func (s *Service) AdjustOccupancy(ctx context.Context, id snowflake.ID, delta int) (*domain.Resource, error) {
	ok, err := s.repo.AdjustOccupancy(ctx, s.db, id, delta, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		item, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrCapacityExceeded
	}
	return s.GetByID(ctx, id)
}

func (s *Service) SetStatus(ctx context.Context, id snowflake.ID, status domain.Status) (*domain.Resource, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	ok, err := s.repo.SetStatus(ctx, s.db, id, status, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	s.log.Info("resource status changed",
		zap.String("resource_id", id.String()),
		zap.String("status", string(status)),
	)
	return s.GetByID(ctx, id)
}

// UpsertFromImport creates a resource or refreshes the credential and capacity
// of the one already registered under the same account id.
func (s *Service) UpsertFromImport(ctx context.Context, req domain.ImportRequest) (*domain.Resource, bool, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, false, domain.ErrInvalidAccountID
	}
	secret := strings.TrimSpace(req.Credential)
	if secret == "" {
		return nil, false, domain.ErrInvalidCredential
	}
	if req.MaxCapacity <= 0 {
		return nil, false, domain.ErrInvalidCapacity
	}

	sealed, err := s.cipher.Encrypt(secret)
	if err != nil {
		return nil, false, fmt.Errorf("seal credential: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = accountID
	}

	now := s.clock.Now()
	var (
		out     *domain.Resource
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByAccountID(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if existing == nil {
			res := &domain.Resource{
				ID:          s.genID.Generate(),
				Name:        name,
				AccountID:   accountID,
				Credential:  sealed,
				MaxCapacity: req.MaxCapacity,
				Status:      domain.StatusActive,
				ExpiresAt:   req.ExpiresAt,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.repo.Insert(ctx, tx, res); err != nil {
				return err
			}
			out, created = res, true
			return nil
		}

		if req.MaxCapacity < existing.CurrentOccupancy {
			return domain.ErrInvalidCapacity
		}
		existing.Name = name
		existing.Credential = sealed
		existing.MaxCapacity = req.MaxCapacity
		if req.ExpiresAt != nil {
			existing.ExpiresAt = req.ExpiresAt
		}
		switch existing.Status {
		case domain.StatusActive, domain.StatusFull, domain.StatusError:
			existing.Status = domain.StatusForOccupancy(existing.CurrentOccupancy, existing.MaxCapacity)
		}
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, existing); err != nil {
			return err
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.log.Info("resource imported",
		zap.String("resource_id", out.ID.String()),
		zap.String("account_id", accountID),
		zap.Int("max_capacity", out.MaxCapacity),
		zap.Bool("created", created),
	)
	return out, created, nil
}

// ImportBatch imports each entry independently and reports per-entry results.
func (s *Service) ImportBatch(ctx context.Context, reqs []domain.ImportRequest) []domain.ImportResult {
	results := make([]domain.ImportResult, 0, len(reqs))
	for _, req := range reqs {
		res, created, err := s.UpsertFromImport(ctx, req)
		if err != nil {
			results = append(results, domain.ImportResult{Error: err.Error()})
			continue
		}
		results = append(results, domain.ImportResult{Resource: res, Created: created})
	}
	return results
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateRequest) (*domain.Resource, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.MaxCapacity != nil {
		if *req.MaxCapacity <= 0 {
			return nil, domain.ErrInvalidCapacity
		}
		item.MaxCapacity = *req.MaxCapacity
	}
	if req.CurrentOccupancy != nil {
		item.CurrentOccupancy = *req.CurrentOccupancy
	}
	if item.CurrentOccupancy < 0 || item.CurrentOccupancy > item.MaxCapacity {
		return nil, domain.ErrInvalidOccupancy
	}
	if req.ExpiresAt != nil {
		item.ExpiresAt = req.ExpiresAt
	}

	switch {
	case req.Status != nil:
		if !req.Status.Valid() {
			return nil, domain.ErrInvalidStatus
		}
		item.Status = *req.Status
	case item.Status == domain.StatusActive || item.Status == domain.StatusFull:
		item.Status = domain.StatusForOccupancy(item.CurrentOccupancy, item.MaxCapacity)
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	ok, err := s.repo.Delete(ctx, s.db, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.log.Info("resource deleted", zap.String("resource_id", id.String()))
	return nil
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
	items, err := s.repo.List(ctx, s.db, req.Status, cursor, limit)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(r domain.Resource) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String()}
	})
	if items == nil {
		items = []domain.Resource{}
	}
	return domain.ListResponse{Resources: items, PageInfo: pageInfo}, nil
}

func (s *Service) Stock(ctx context.Context) (domain.Stock, error) {
	return s.repo.Stock(ctx, s.db, s.clock.Now())
}

func (s *Service) ResolveCredential(ctx context.Context, res *domain.Resource) (membershipdomain.Credential, error) {
	if res == nil {
		return membershipdomain.Credential{}, domain.ErrNotFound
	}
	token, err := s.cipher.Decrypt(res.Credential)
	if err == nil {
		return membershipdomain.Credential{AccountID: res.AccountID, AccessToken: token}, nil
	}

	s.log.Error("credential unreadable, parking resource",
		zap.String("resource_id", res.ID.String()),
		zap.Error(err),
	)
	if _, markErr := s.repo.SetStatus(ctx, s.db, res.ID, domain.StatusError, s.clock.Now()); markErr != nil {
		err = errors.Join(err, markErr)
	}
	res.Status = domain.StatusError
	return membershipdomain.Credential{}, err
}
