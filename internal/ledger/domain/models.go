package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SourceType names the trigger that produced a grant.
type SourceType string

const (
	SourceTypeRedemptionCode SourceType = "redemption_code"
	SourceTypePayment        SourceType = "payment"
	SourceTypeAfterSales     SourceType = "after_sales"
	SourceTypeAdminManual    SourceType = "admin_manual"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeRedemptionCode, SourceTypePayment, SourceTypeAfterSales, SourceTypeAdminManual:
		return true
	default:
		return false
	}
}

// Anchoring reports whether a grant of this type can start a warranty window.
func (s SourceType) Anchoring() bool {
	return s == SourceTypeRedemptionCode || s == SourceTypePayment
}

// Entry is one successful grant. Rows are never updated.
type Entry struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Email      string       `gorm:"type:varchar(255);not null;index:ix_grant_ledger_email_granted,priority:1" json:"email"`
	SourceType SourceType   `gorm:"type:varchar(32);not null;uniqueIndex:ux_grant_ledger_source_order,priority:1" json:"source_type"`
	SourceCode *string      `gorm:"type:varchar(64);index" json:"source_code,omitempty"`
	OrderNo    *string      `gorm:"type:varchar(64);uniqueIndex:ux_grant_ledger_source_order,priority:2" json:"order_no,omitempty"`
	ResourceID snowflake.ID `gorm:"not null;index" json:"resource_id"`
	GrantedAt  time.Time    `gorm:"not null;index;index:ix_grant_ledger_email_granted,priority:2" json:"granted_at"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "grant_ledger" }

// CleanupOutcome is the result of revoking an expired grant.
type CleanupOutcome string

const (
	CleanupDeleted CleanupOutcome = "deleted"
	CleanupRevoked CleanupOutcome = "revoked"
	CleanupSkipped CleanupOutcome = "skipped"
	CleanupFailed  CleanupOutcome = "failed"
)

// Cleanup records what the expired-grant job did with a ledger entry.
type Cleanup struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	EntryID     snowflake.ID   `gorm:"not null;uniqueIndex" json:"entry_id"`
	Outcome     CleanupOutcome `gorm:"type:varchar(16);not null" json:"outcome"`
	Detail      string         `gorm:"type:text;not null;default:''" json:"detail"`
	Attempts    int            `gorm:"not null;default:1" json:"attempts"`
	ProcessedAt time.Time      `gorm:"not null" json:"processed_at"`
}

// TableName sets the database table name.
func (Cleanup) TableName() string { return "grant_cleanups" }

type Stats struct {
	Total int64 `json:"total"`
	Today int64 `json:"today"`
	Week  int64 `json:"week"`
	Month int64 `json:"month"`
}

// NormalizeEmail is the stored form of a member email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeCode is the stored form of a redemption code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
