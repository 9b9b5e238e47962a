package scheduler

import (
	"time"

	"github.com/smallbiznis/seatbroker/internal/config"
)

// Config controls the reconciliation loops.
type Config struct {
	SyncEnabled    bool
	SyncMinMinutes int
	SyncMaxMinutes int
	CleanupEnabled bool
	Location       *time.Location
	ShutdownGrace  time.Duration
	JobTimeout     time.Duration
	LockPrefix     string
}

func DefaultConfig() Config {
	return Config{
		SyncEnabled:    true,
		SyncMinMinutes: 5,
		SyncMaxMinutes: 10,
		CleanupEnabled: true,
		Location:       time.UTC,
		ShutdownGrace:  30 * time.Second,
		JobTimeout:     15 * time.Minute,
		LockPrefix:     "seatbroker:",
	}
}

// ProvideConfig derives the scheduler settings from the application config.
func ProvideConfig(cfg config.Config) Config {
	c := Config{
		SyncEnabled:    cfg.Reconcile.SyncEnabled,
		SyncMinMinutes: cfg.Reconcile.SyncMinMinutes,
		SyncMaxMinutes: cfg.Reconcile.SyncMaxMinutes,
		CleanupEnabled: cfg.Reconcile.CleanupEnabled,
		Location:       cfg.Location(),
		ShutdownGrace:  cfg.Reconcile.ShutdownGrace,
	}
	if cfg.AppName != "" {
		c.LockPrefix = cfg.AppName + ":"
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.SyncMinMinutes <= 0 {
		c.SyncMinMinutes = defaults.SyncMinMinutes
	}
	if c.SyncMaxMinutes < c.SyncMinMinutes {
		c.SyncMaxMinutes = c.SyncMinMinutes
	}
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaults.ShutdownGrace
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockPrefix == "" {
		c.LockPrefix = defaults.LockPrefix
	}
	return c
}
