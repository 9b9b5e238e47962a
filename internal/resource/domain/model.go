package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a capacity-bearing resource.
type Status string

const (
	StatusActive  Status = "active"
	StatusFull    Status = "full"
	StatusExpired Status = "expired"
	StatusError   Status = "error"
	StatusBanned  Status = "banned"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFull, StatusExpired, StatusError, StatusBanned:
		return true
	default:
		return false
	}
}

// Resource is an externally managed group account with a fixed seat count.
type Resource struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	Name             string       `gorm:"type:text;not null;default:''" json:"name"`
	AccountID        string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_resources_account_id" json:"account_id"`
	Credential       string       `gorm:"type:text;not null" json:"-"`
	MaxCapacity      int          `gorm:"not null" json:"max_capacity"`
	CurrentOccupancy int          `gorm:"not null;default:0" json:"current_occupancy"`
	Status           Status       `gorm:"type:varchar(16);not null;index:ix_resources_status_expires,priority:1" json:"status"`
	ErrorCount       int          `gorm:"not null;default:0" json:"error_count"`
	ExpiresAt        *time.Time   `gorm:"index:ix_resources_status_expires,priority:2" json:"expires_at,omitempty"`
	LastSyncedAt     *time.Time   `json:"last_synced_at,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Resource) TableName() string { return "resources" }

// Available reports the free seats on the resource.
func (r Resource) Available() int {
	if r.CurrentOccupancy >= r.MaxCapacity {
		return 0
	}
	return r.MaxCapacity - r.CurrentOccupancy
}

// PublicInfo is the subset of a resource shown to the member that was granted a seat.
type PublicInfo struct {
	ID        snowflake.ID `json:"id"`
	Name      string       `json:"name"`
	AccountID string       `json:"account_id"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

func (r Resource) PublicInfo() PublicInfo {
	return PublicInfo{
		ID:        r.ID,
		Name:      r.Name,
		AccountID: r.AccountID,
		ExpiresAt: r.ExpiresAt,
	}
}

// StatusForOccupancy returns full or active depending on remaining capacity.
func StatusForOccupancy(occupancy, capacity int) Status {
	if occupancy >= capacity {
		return StatusFull
	}
	return StatusActive
}

type Stock struct {
	Resources int `json:"resources"`
	Capacity  int `json:"capacity"`
	Occupied  int `json:"occupied"`
	Available int `json:"available"`
}
