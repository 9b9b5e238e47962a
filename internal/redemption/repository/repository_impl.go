package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/redemption/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, code *domain.Code) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(code)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Code, error) {
	var item domain.Code
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, status, expires_at, has_warranty, warranty_days,
			used_by, used_at, resource_id, created_at, updated_at
		 FROM redemption_codes WHERE code = ? LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.Status, search string, cursor *pagination.Cursor, limit int) ([]domain.Code, error) {
	stmt := db.WithContext(ctx).Model(&domain.Code{})
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if v := strings.ToUpper(strings.TrimSpace(search)); v != "" {
		stmt = stmt.Where("(code LIKE ? OR LOWER(used_by) LIKE ?)", "%"+v+"%", "%"+strings.ToLower(v)+"%")
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", id)
	}

	var items []domain.Code
	if err := stmt.Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// MarkUsed moves an unused code to used. It returns false if another
// redemption got there first.
func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, code string, email string, resourceID snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE redemption_codes
		 SET status = ?, used_by = ?, used_at = ?, resource_id = ?, updated_at = ?
		 WHERE code = ? AND status = ?`,
		domain.StatusUsed,
		email,
		now,
		resourceID,
		now,
		code,
		domain.StatusUnused,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkExpired(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE redemption_codes SET status = ?, updated_at = ? WHERE code = ? AND status = ?`,
		domain.StatusExpired,
		now,
		code,
		domain.StatusUnused,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE redemption_codes SET status = ?, updated_at = ?
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		domain.StatusExpired,
		now,
		domain.StatusUnused,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, code *domain.Code) error {
	return db.WithContext(ctx).Exec(
		`UPDATE redemption_codes
		 SET status = ?, expires_at = ?, has_warranty = ?, warranty_days = ?,
			used_by = ?, used_at = ?, resource_id = ?, updated_at = ?
		 WHERE id = ?`,
		code.Status,
		code.ExpiresAt,
		code.HasWarranty,
		code.WarrantyDays,
		code.UsedBy,
		code.UsedAt,
		code.ResourceID,
		code.UpdatedAt,
		code.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM redemption_codes WHERE code = ?`, code)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
