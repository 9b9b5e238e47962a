package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
)

// DefaultWindowDays is the after-sales window counted from the anchor grant.
const DefaultWindowDays = 30

type Status string

const (
	StatusUnknown             Status = "unknown"
	StatusExpired             Status = "expired"
	StatusAfterSalesAvailable Status = "after_sales_available"
	StatusNormal              Status = "normal"
)

// Reuse decision reasons.
const (
	ReasonEligible            = "eligible"
	ReasonNoGrant             = "no_grant"
	ReasonExpired             = "warranty_expired"
	ReasonResourceNotBanned   = "resource_not_banned"
	ReasonNotRedemptionSource = "anchor_not_redemption_code"
	ReasonCodeMismatch        = "code_mismatch"
)

// Classify applies the after-sales rules. windowEnd is nil when no anchor exists.
func Classify(now time.Time, windowEnd *time.Time, current resourcedomain.Status) Status {
	switch {
	case windowEnd == nil:
		return StatusUnknown
	case now.After(*windowEnd):
		return StatusExpired
	case current == resourcedomain.StatusBanned:
		return StatusAfterSalesAvailable
	default:
		return StatusNormal
	}
}

// Evaluation is the warranty view of one member.
type Evaluation struct {
	Status    Status
	WindowEnd *time.Time
	// Anchor is the latest redemption_code or payment grant.
	Anchor *ledgerdomain.Entry
	// Current is the latest grant of any source for the anchor's email.
	Current *ledgerdomain.Entry
	// Resource is the resource behind Current, nil when it was deleted.
	Resource *resourcedomain.Resource
}

func (e Evaluation) Eligible() bool {
	return e.Status == StatusAfterSalesAvailable
}

// OriginalCode is the anchor's code when the anchor came from a redemption code.
func (e Evaluation) OriginalCode() *string {
	if e.Anchor == nil || e.Anchor.SourceType != ledgerdomain.SourceTypeRedemptionCode || e.Anchor.SourceCode == nil {
		return nil
	}
	code := *e.Anchor.SourceCode
	return &code
}

type Record struct {
	Code              string                  `json:"code"`
	Email             string                  `json:"email"`
	SourceType        ledgerdomain.SourceType `json:"source_type"`
	Status            Status                  `json:"status"`
	WarrantyValid     bool                    `json:"warranty_valid"`
	WarrantyExpiresAt *time.Time              `json:"warranty_expires_at"`
	CanReuse          bool                    `json:"can_reuse"`
	UsedAt            time.Time               `json:"used_at"`
	ResourceID        *snowflake.ID           `json:"resource_id"`
	ResourceName      *string                 `json:"resource_name"`
	ResourceStatus    *resourcedomain.Status  `json:"resource_status"`
	ResourceExpiresAt *time.Time              `json:"resource_expires_at"`
}

type BannedResource struct {
	ResourceID   snowflake.ID `json:"resource_id"`
	ResourceName string       `json:"resource_name"`
	Email        string       `json:"email"`
}
