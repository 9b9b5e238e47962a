package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusUnused  Status = "unused"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnused, StatusUsed, StatusExpired:
		return true
	default:
		return false
	}
}

const DefaultWarrantyDays = 30

// Code is a single-use redemption code.
type Code struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	Code         string        `gorm:"type:varchar(64);not null;uniqueIndex:ux_redemption_codes_code" json:"code"`
	Status       Status        `gorm:"type:varchar(16);not null;index" json:"status"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	HasWarranty  bool          `gorm:"not null;default:false" json:"has_warranty"`
	WarrantyDays int           `gorm:"not null;default:30" json:"warranty_days"`
	UsedBy       *string       `gorm:"type:varchar(255)" json:"used_by,omitempty"`
	UsedAt       *time.Time    `json:"used_at,omitempty"`
	ResourceID   *snowflake.ID `json:"resource_id,omitempty"`
	CreatedAt    time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Code) TableName() string { return "redemption_codes" }

// ExpiredAt reports whether an unused code is past its expiry at now.
func (c Code) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
