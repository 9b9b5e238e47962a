package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/smallbiznis/seatbroker/internal/membership/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/gorm"
)

type AvailableFilter struct {
	ExcludeIDs []snowflake.ID
	Limit      int
}

type ListRequest struct {
	pagination.Pagination
	Status Status `form:"status"`
}

type ListResponse struct {
	Resources []Resource          `json:"resources"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type ImportRequest struct {
	Name        string     `json:"name"`
	AccountID   string     `json:"account_id"`
	Credential  string     `json:"credential"`
	MaxCapacity int        `json:"max_capacity"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type ImportResult struct {
	Resource *Resource `json:"resource,omitempty"`
	Created  bool      `json:"created"`
	Error    string    `json:"error,omitempty"`
}

// UpdateRequest is an operator edit; nil fields are left unchanged.
type UpdateRequest struct {
	Name             *string    `json:"name"`
	MaxCapacity      *int       `json:"max_capacity"`
	CurrentOccupancy *int       `json:"current_occupancy"`
	Status           *Status    `json:"status"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

// SyncUpdate is the reconciled view of a resource after a provider status fetch.
type SyncUpdate struct {
	Occupancy int
	Status    Status
	ExpiresAt *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, res *Resource) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Resource, error)
	FindByAccountID(ctx context.Context, db *gorm.DB, accountID string) (*Resource, error)
	ListAvailable(ctx context.Context, db *gorm.DB, now time.Time, filter AvailableFilter) ([]Resource, error)
	List(ctx context.Context, db *gorm.DB, status Status, cursor *pagination.Cursor, limit int) ([]Resource, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Resource, error)
	ReserveSeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	AdjustOccupancy(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int, now time.Time) (bool, error)
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) (bool, error)
	ApplySync(ctx context.Context, db *gorm.DB, id snowflake.ID, update SyncUpdate, now time.Time) error
	RecordSyncError(ctx context.Context, db *gorm.DB, id snowflake.ID, threshold int, now time.Time) (int, error)
	Update(ctx context.Context, db *gorm.DB, res *Resource) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	Stock(ctx context.Context, db *gorm.DB, now time.Time) (Stock, error)
}

type Service interface {
	ListAvailable(ctx context.Context, filter AvailableFilter) ([]Resource, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Resource, error)
	AdjustOccupancy(ctx context.Context, id snowflake.ID, delta int) (*Resource, error)
	SetStatus(ctx context.Context, id snowflake.ID, status Status) (*Resource, error)
	UpsertFromImport(ctx context.Context, req ImportRequest) (*Resource, bool, error)
	ImportBatch(ctx context.Context, reqs []ImportRequest) []ImportResult
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (*Resource, error)
	Delete(ctx context.Context, id snowflake.ID) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Stock(ctx context.Context) (Stock, error)
	// ResolveCredential decrypts the credential handle. A failure flips the resource to error.
	ResolveCredential(ctx context.Context, res *Resource) (membershipdomain.Credential, error)
}
