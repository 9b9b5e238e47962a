package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusRedeemed Status = "redeemed"
	StatusExpired  Status = "expired"
	StatusFailed   Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusRedeemed, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// Order is a paid seat purchase.
type Order struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrderNo       string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_orders_order_no" json:"order_no"`
	Status        Status          `gorm:"type:varchar(16);not null;index" json:"status"`
	Email         string          `gorm:"type:varchar(255);not null;index" json:"email"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	PayType       string          `gorm:"type:varchar(32);not null" json:"pay_type"`
	ProductName   string          `gorm:"type:varchar(255);not null;default:''" json:"product_name"`
	TradeNo       *string         `gorm:"type:varchar(128)" json:"trade_no,omitempty"`
	NotifyPayload datatypes.JSON  `gorm:"not null" json:"-"`
	FailureReason string          `gorm:"type:text;not null;default:''" json:"failure_reason,omitempty"`
	ResourceID    *snowflake.ID   `json:"resource_id,omitempty"`
	ExpiresAt     time.Time       `gorm:"not null" json:"expires_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	RedeemedAt    *time.Time      `json:"redeemed_at,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "payment_orders" }

// Expirable reports whether a pending order is past its deadline at now.
func (o Order) Expirable(now time.Time) bool {
	return o.Status == StatusPending && now.After(o.ExpiresAt)
}
