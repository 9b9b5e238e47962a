package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/payment/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/gorm"
)

const orderColumns = `id, order_no, status, email, amount, pay_type, product_name, trade_no,
	notify_payload, failure_reason, resource_id, expires_at, paid_at, redeemed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByOrderNo(ctx context.Context, db *gorm.DB, orderNo string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM payment_orders WHERE order_no = ? LIMIT 1`,
		orderNo,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByEmail(ctx context.Context, db *gorm.DB, email string, limit int) ([]domain.Order, error) {
	var items []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM payment_orders
		 WHERE email = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		email,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.Status, email string, cursor *pagination.Cursor, limit int) ([]domain.Order, error) {
	stmt := db.WithContext(ctx).Model(&domain.Order{})
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if v := strings.ToLower(strings.TrimSpace(email)); v != "" {
		stmt = stmt.Where("LOWER(email) LIKE ?", "%"+v+"%")
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", id)
	}

	var items []domain.Order
	if err := stmt.Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, orderNo string, from []domain.Status, to domain.Status, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to

	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("order_no = ? AND status IN ?", orderNo, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) SetFailureReason(ctx context.Context, db *gorm.DB, orderNo string, reason string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_orders SET failure_reason = ?, updated_at = ? WHERE order_no = ?`,
		reason,
		now,
		orderNo,
	).Error
}
