package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Job string

const (
	JobResourceSync Job = "resource_sync"
	JobGrantCleanup Job = "grant_cleanup"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is the audit row of one reconciliation job execution.
type Run struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	Job        Job            `gorm:"type:varchar(32);not null;index:ix_reconcile_runs_job_started,priority:1" json:"job"`
	Status     RunStatus      `gorm:"type:varchar(16);not null" json:"status"`
	Result     datatypes.JSON `gorm:"not null" json:"result"`
	Error      string         `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	StartedAt  time.Time      `gorm:"not null;index:ix_reconcile_runs_job_started,priority:2" json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// TableName sets the database table name.
func (Run) TableName() string { return "reconcile_runs" }

type SyncResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

type CleanupResult struct {
	Scanned      int   `json:"scanned"`
	Deleted      int   `json:"deleted"`
	Revoked      int   `json:"revoked"`
	Skipped      int   `json:"skipped"`
	Failed       int   `json:"failed"`
	CodesExpired int64 `json:"codes_expired"`
}
