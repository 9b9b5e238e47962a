package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/reconcile/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *domain.Run) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reconcile_runs (id, job, status, result, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Job,
		run.Status,
		run.Result,
		run.Error,
		run.StartedAt,
	).Error
}

func (r *repo) FinishRun(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.RunStatus, result datatypes.JSON, errMsg string, finishedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE reconcile_runs SET status = ?, result = ?, error = ?, finished_at = ? WHERE id = ?`,
		status,
		result,
		errMsg,
		finishedAt,
		id,
	).Error
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, job domain.Job, limit int) ([]domain.Run, error) {
	var items []domain.Run
	query := db.WithContext(ctx).Model(&domain.Run{})
	if job != "" {
		query = query.Where("job = ?", job)
	}
	if err := query.Order("started_at DESC, id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
