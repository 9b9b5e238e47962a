package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/seatbroker/internal/payment/adapters/epay"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const RecentOrdersLimit = 10

var PayTypes = []string{"alipay", "wxpay", "qqpay"}

type CreateOrderRequest struct {
	Email   string `json:"email"`
	PayType string `json:"pay_type"`
}

type CreateOrderResponse struct {
	Order  *Order `json:"order"`
	PayURL string `json:"pay_url"`
}

type ListRequest struct {
	pagination.Pagination
	Status Status `form:"status"`
	Email  string `form:"email"`
}

type ListResponse struct {
	Orders   []Order             `json:"orders"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// Notification is a parsed gateway callback plus the raw fields received.
type Notification struct {
	epay.Notification
	Raw map[string]string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByOrderNo(ctx context.Context, db *gorm.DB, orderNo string) (*Order, error)
	ListByEmail(ctx context.Context, db *gorm.DB, email string, limit int) ([]Order, error)
	List(ctx context.Context, db *gorm.DB, status Status, email string, cursor *pagination.Cursor, limit int) ([]Order, error)
	// Transition moves the order from one status to another and applies extra
	// column updates. It returns false when the order was not in from.
	Transition(ctx context.Context, db *gorm.DB, orderNo string, from []Status, to Status, updates map[string]any) (bool, error)
	SetFailureReason(ctx context.Context, db *gorm.DB, orderNo string, reason string, now time.Time) error
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	// GetStatus returns the order, expiring it first when pending past its deadline.
	GetStatus(ctx context.Context, orderNo string) (*Order, error)
	ListByEmail(ctx context.Context, email string) ([]Order, error)
	ListOrders(ctx context.Context, req ListRequest) (ListResponse, error)
	// HandleNotification applies a gateway callback. A nil error means the
	// gateway must be answered with success.
	HandleNotification(ctx context.Context, n Notification) error
	// ManualRedeem retries the grant of a paid order.
	ManualRedeem(ctx context.Context, orderNo string) (*Order, error)
	MarkFailed(ctx context.Context, orderNo string, reason string) (*Order, error)
}

// PayloadFromRaw converts callback fields into a JSON column value.
func PayloadFromRaw(raw map[string]string) datatypes.JSON {
	m := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == "sign" {
			continue
		}
		m[k] = v
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

