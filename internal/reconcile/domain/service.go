package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	InsertRun(ctx context.Context, db *gorm.DB, run *Run) error
	FinishRun(ctx context.Context, db *gorm.DB, id snowflake.ID, status RunStatus, result datatypes.JSON, errMsg string, finishedAt time.Time) error
	ListRuns(ctx context.Context, db *gorm.DB, job Job, limit int) ([]Run, error)
}

type Service interface {
	// SyncResources reconciles every resource with the provider. One failing
	// resource does not abort the sweep.
	SyncResources(ctx context.Context) (SyncResult, error)
	// CleanupExpiredGrants removes members whose grant is older than the
	// configured threshold and sweeps expired redemption codes.
	CleanupExpiredGrants(ctx context.Context) (CleanupResult, error)
	RecentRuns(ctx context.Context, job Job, limit int) ([]Run, error)
}
