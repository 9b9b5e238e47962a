package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends the entry. It returns false when the (source_type, order_no)
// key already exists.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	var item domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, source_type, source_code, order_no, resource_id, granted_at, created_at
		 FROM grant_ledger WHERE id = ? LIMIT 1`,
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

func (r *repo) FindByOrderNo(ctx context.Context, db *gorm.DB, sourceType domain.SourceType, orderNo string) (*domain.Entry, error) {
	var item domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, source_type, source_code, order_no, resource_id, granted_at, created_at
		 FROM grant_ledger WHERE source_type = ? AND order_no = ? LIMIT 1`,
		sourceType,
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

func (r *repo) Query(ctx context.Context, db *gorm.DB, criteria domain.Criteria, cursor *pagination.Cursor, limit int) ([]domain.Entry, error) {
	stmt := applyCriteria(db.WithContext(ctx).Model(&domain.Entry{}), criteria)
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		grantedAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		grantedAt = grantedAt.UTC()
		stmt = stmt.Where("(granted_at < ? OR (granted_at = ? AND id < ?))", grantedAt, grantedAt, id)
	}

	var items []domain.Entry
	if err := stmt.Order("granted_at DESC").Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, criteria domain.Criteria, window domain.StatsWindow) (domain.Stats, error) {
	var stats domain.Stats
	err := applyCriteria(db.WithContext(ctx).Model(&domain.Entry{}), criteria).
		Select(
			`COUNT(1) AS total,
			COALESCE(SUM(CASE WHEN granted_at >= ? THEN 1 ELSE 0 END), 0) AS today,
			COALESCE(SUM(CASE WHEN granted_at >= ? THEN 1 ELSE 0 END), 0) AS week,
			COALESCE(SUM(CASE WHEN granted_at >= ? THEN 1 ELSE 0 END), 0) AS month`,
			window.Today,
			window.Week,
			window.Month,
		).
		Scan(&stats).Error
	if err != nil {
		return domain.Stats{}, err
	}
	return stats, nil
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, lookup domain.Lookup, anchoringOnly bool) (*domain.Entry, error) {
	stmt := applyLookup(db.WithContext(ctx).Model(&domain.Entry{}), lookup)
	if anchoringOnly {
		stmt = stmt.Where("source_type IN ?", []domain.SourceType{
			domain.SourceTypeRedemptionCode,
			domain.SourceTypePayment,
		})
	}

	var items []domain.Entry
	if err := stmt.Order("granted_at DESC").Order("id DESC").Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) History(ctx context.Context, db *gorm.DB, lookup domain.Lookup, limit int) ([]domain.Entry, error) {
	var items []domain.Entry
	err := applyLookup(db.WithContext(ctx).Model(&domain.Entry{}), lookup).
		Order("granted_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) HasNewerGrant(ctx context.Context, db *gorm.DB, entry domain.Entry) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM grant_ledger
		 WHERE email = ? AND resource_id = ?
			AND (granted_at > ? OR (granted_at = ? AND id > ?))`,
		entry.Email,
		entry.ResourceID,
		entry.GrantedAt,
		entry.GrantedAt,
		entry.ID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) HasGrantOn(ctx context.Context, db *gorm.DB, email string, resourceID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("email = ? AND resource_id = ?", email, resourceID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListCleanupCandidates returns grants older than before that have no final
// cleanup outcome. Failed attempts are returned again.
func (r *repo) ListCleanupCandidates(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Entry, error) {
	var items []domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT e.id, e.email, e.source_type, e.source_code, e.order_no, e.resource_id, e.granted_at, e.created_at
		 FROM grant_ledger e
		 LEFT JOIN grant_cleanups c ON c.entry_id = e.id
		 WHERE e.granted_at < ? AND (c.id IS NULL OR c.outcome = ?)
		 ORDER BY e.granted_at ASC, e.id ASC
		 LIMIT ?`,
		before,
		domain.CleanupFailed,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpsertCleanup(ctx context.Context, db *gorm.DB, cleanup *domain.Cleanup) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entry_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"outcome":      cleanup.Outcome,
				"detail":       cleanup.Detail,
				"processed_at": cleanup.ProcessedAt,
				"attempts":     gorm.Expr("grant_cleanups.attempts + 1"),
			}),
		}).
		Create(cleanup).Error
}

func applyCriteria(stmt *gorm.DB, c domain.Criteria) *gorm.DB {
	if v := strings.ToLower(strings.TrimSpace(c.Email)); v != "" {
		stmt = stmt.Where("LOWER(email) LIKE ?", "%"+v+"%")
	}
	if v := strings.ToLower(strings.TrimSpace(c.SourceCode)); v != "" {
		stmt = stmt.Where("LOWER(source_code) LIKE ?", "%"+v+"%")
	}
	if v := strings.ToLower(strings.TrimSpace(c.OrderNo)); v != "" {
		stmt = stmt.Where("LOWER(order_no) LIKE ?", "%"+v+"%")
	}
	if c.ResourceID != 0 {
		stmt = stmt.Where("resource_id = ?", c.ResourceID)
	}
	if c.SourceType != "" {
		stmt = stmt.Where("source_type = ?", c.SourceType)
	}
	if c.From != nil {
		stmt = stmt.Where("granted_at >= ?", *c.From)
	}
	if c.Until != nil {
		stmt = stmt.Where("granted_at < ?", *c.Until)
	}
	return stmt
}

func applyLookup(stmt *gorm.DB, lookup domain.Lookup) *gorm.DB {
	if lookup.Code != "" {
		return stmt.Where("source_code = ?", lookup.Code)
	}
	return stmt.Where("email = ?", lookup.Email)
}
