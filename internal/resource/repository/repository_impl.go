package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/gorm"
)

const resourceColumns = `id, name, account_id, credential, max_capacity, current_occupancy,
	status, error_count, expires_at, last_synced_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, res *domain.Resource) error {
	return db.WithContext(ctx).Create(res).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Resource, error) {
	var item domain.Resource
	err := db.WithContext(ctx).Raw(
		`SELECT `+resourceColumns+` FROM resources WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByAccountID(ctx context.Context, db *gorm.DB, accountID string) (*domain.Resource, error) {
	var item domain.Resource
	err := db.WithContext(ctx).Raw(
		`SELECT `+resourceColumns+` FROM resources WHERE account_id = ? LIMIT 1`,
		accountID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// ListAvailable returns grantable resources, soonest expiry first. Resources
// without an expiry sort last.
func (r *repo) ListAvailable(ctx context.Context, db *gorm.DB, now time.Time, filter domain.AvailableFilter) ([]domain.Resource, error) {
	query := `SELECT ` + resourceColumns + `
		FROM resources
		WHERE status = ?
			AND current_occupancy < max_capacity
			AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{domain.StatusActive, now}
	if len(filter.ExcludeIDs) > 0 {
		query += ` AND id NOT IN ?`
		args = append(args, filter.ExcludeIDs)
	}
	query += ` ORDER BY CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var items []domain.Resource
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.Status, cursor *pagination.Cursor, limit int) ([]domain.Resource, error) {
	stmt := db.WithContext(ctx).Model(&domain.Resource{})
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", id)
	}

	var items []domain.Resource
	if err := stmt.Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Resource, error) {
	var items []domain.Resource
	err := db.WithContext(ctx).Raw(
		`SELECT ` + resourceColumns + ` FROM resources ORDER BY id ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ReserveSeat takes one seat if the resource is active and below capacity.
// The status expression is evaluated before the increment on every dialect.
func (r *repo) ReserveSeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE resources
		 SET status = CASE WHEN current_occupancy + 1 >= max_capacity THEN ? ELSE status END,
			current_occupancy = current_occupancy + 1,
			updated_at = ?
		 WHERE id = ? AND status = ? AND current_occupancy < max_capacity`,
		domain.StatusFull,
		now,
		id,
		domain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) AdjustOccupancy(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE resources
		 SET status = CASE
				WHEN status = ? AND current_occupancy + ? < max_capacity THEN ?
				WHEN status = ? AND current_occupancy + ? >= max_capacity THEN ?
				ELSE status END,
			current_occupancy = current_occupancy + ?,
			updated_at = ?
		 WHERE id = ? AND current_occupancy + ? >= 0 AND current_occupancy + ? <= max_capacity`,
		domain.StatusFull, delta, domain.StatusActive,
		domain.StatusActive, delta, domain.StatusFull,
		delta,
		now,
		id, delta, delta,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE resources SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ApplySync(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.SyncUpdate, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE resources
		 SET current_occupancy = ?,
			status = ?,
			expires_at = COALESCE(?, expires_at),
			error_count = 0,
			last_synced_at = ?,
			updated_at = ?
		 WHERE id = ?`,
		update.Occupancy,
		update.Status,
		update.ExpiresAt,
		now,
		now,
		id,
	).Error
}

// RecordSyncError bumps error_count and parks grantable resources in error once
// the threshold is reached. It returns the new error count.
func (r *repo) RecordSyncError(ctx context.Context, db *gorm.DB, id snowflake.ID, threshold int, now time.Time) (int, error) {
	err := db.WithContext(ctx).Exec(
		`UPDATE resources
		 SET status = CASE WHEN ? > 0 AND error_count + 1 >= ? AND status IN (?, ?) THEN ? ELSE status END,
			error_count = error_count + 1,
			updated_at = ?
		 WHERE id = ?`,
		threshold, threshold, domain.StatusActive, domain.StatusFull, domain.StatusError,
		now,
		id,
	).Error
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.WithContext(ctx).Raw(`SELECT error_count FROM resources WHERE id = ?`, id).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, res *domain.Resource) error {
	return db.WithContext(ctx).Exec(
		`UPDATE resources
		 SET name = ?, credential = ?, max_capacity = ?, current_occupancy = ?,
			status = ?, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		res.Name,
		res.Credential,
		res.MaxCapacity,
		res.CurrentOccupancy,
		res.Status,
		res.ExpiresAt,
		res.UpdatedAt,
		res.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM resources WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Stock(ctx context.Context, db *gorm.DB, now time.Time) (domain.Stock, error) {
	var stock domain.Stock
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS resources,
			COALESCE(SUM(max_capacity), 0) AS capacity,
			COALESCE(SUM(current_occupancy), 0) AS occupied,
			COALESCE(SUM(CASE WHEN status = ? AND current_occupancy < max_capacity
				THEN max_capacity - current_occupancy ELSE 0 END), 0) AS available
		 FROM resources
		 WHERE status IN (?, ?) AND (expires_at IS NULL OR expires_at > ?)`,
		domain.StatusActive,
		domain.StatusActive,
		domain.StatusFull,
		now,
	).Scan(&stock).Error
	if err != nil {
		return domain.Stock{}, err
	}
	return stock, nil
}
