package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
)

// CheckRequest identifies the member by email or code. Query is split on "@"
// when both are empty.
type CheckRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Query string `json:"query"`
}

type CheckResult struct {
	HasWarranty       bool             `json:"has_warranty"`
	WarrantyValid     bool             `json:"warranty_valid"`
	WarrantyExpiresAt *time.Time       `json:"warranty_expires_at"`
	Status            Status           `json:"status"`
	CanReuse          bool             `json:"can_reuse"`
	OriginalCode      *string          `json:"original_code"`
	BannedResources   []BannedResource `json:"banned_resources"`
	Records           []Record         `json:"records"`
}

type ReuseRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

type ReuseDecision struct {
	CanReuse bool   `json:"can_reuse"`
	Reason   string `json:"reason"`
}

type ReinviteRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ReinviteResult struct {
	Resource          resourcedomain.PublicInfo `json:"resource"`
	WarrantyExpiresAt time.Time                 `json:"warranty_expires_at"`
	EntryID           snowflake.ID              `json:"entry_id"`
	GrantedAt         time.Time                 `json:"granted_at"`
}

type Service interface {
	Check(ctx context.Context, req CheckRequest) (CheckResult, error)
	// ValidateReuse reports whether code may be reused by email for an
	// after-sales re-grant. Only the code of the anchor grant qualifies.
	ValidateReuse(ctx context.Context, req ReuseRequest) (ReuseDecision, error)
	// Reinvite grants a seat on a different resource when the member's
	// current resource was banned inside the window.
	Reinvite(ctx context.Context, req ReinviteRequest) (ReinviteResult, error)
}
