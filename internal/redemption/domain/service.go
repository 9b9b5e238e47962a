package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/gorm"
)

const MaxBatch = 1000

// GenerateRequest creates either the single Custom code or Count random ones.
type GenerateRequest struct {
	Custom       string `json:"code"`
	Count        int    `json:"count"`
	ExpiresDays  int    `json:"expires_days"`
	HasWarranty  bool   `json:"has_warranty"`
	WarrantyDays int    `json:"warranty_days"`
}

type RedeemRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

type RedeemResult struct {
	Code      *Code                     `json:"code"`
	Resource  resourcedomain.PublicInfo `json:"resource"`
	EntryID   snowflake.ID              `json:"entry_id"`
	GrantedAt time.Time                 `json:"granted_at"`
}

type ListRequest struct {
	pagination.Pagination
	Status Status `form:"status"`
	Search string `form:"q"`
}

type ListResponse struct {
	Codes    []Code              `json:"codes"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// UpdateRequest is an operator override; nil fields are left unchanged.
// ClearExpiry removes the expiry.
type UpdateRequest struct {
	Status       *Status    `json:"status"`
	ExpiresAt    *time.Time `json:"expires_at"`
	ClearExpiry  bool       `json:"clear_expiry"`
	HasWarranty  *bool      `json:"has_warranty"`
	WarrantyDays *int       `json:"warranty_days"`
}

type BulkUpdateRequest struct {
	Codes []string `json:"codes"`
	UpdateRequest
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, code *Code) (bool, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Code, error)
	List(ctx context.Context, db *gorm.DB, status Status, search string, cursor *pagination.Cursor, limit int) ([]Code, error)
	MarkUsed(ctx context.Context, db *gorm.DB, code string, email string, resourceID snowflake.ID, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error)
	ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	Update(ctx context.Context, db *gorm.DB, code *Code) error
	Delete(ctx context.Context, db *gorm.DB, code string) (bool, error)
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Code, error)
	// Validate returns the code if it can still be redeemed.
	Validate(ctx context.Context, code string) (*Code, error)
	Redeem(ctx context.Context, req RedeemRequest) (RedeemResult, error)
	Get(ctx context.Context, code string) (*Code, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Update(ctx context.Context, code string, req UpdateRequest) (*Code, error)
	BulkUpdate(ctx context.Context, req BulkUpdateRequest) (int, error)
	Delete(ctx context.Context, code string) error
	ExpireSweep(ctx context.Context) (int64, error)
}
