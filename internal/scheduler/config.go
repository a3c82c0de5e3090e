package scheduler

import (
	"time"

	"github.com/smallbiznis/splitledger/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BackfillInterval  time.Duration
	ReleaseBatchSize  int
	BackfillBatchSize int
	JobTimeout        time.Duration
	LockTTL           time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BackfillInterval:  15 * time.Minute,
		ReleaseBatchSize:  500,
		BackfillBatchSize: 100,
		JobTimeout:        30 * time.Second,
		LockTTL:           2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.RunInterval = cfg.ReleaseInterval
	c.BackfillInterval = cfg.BackfillInterval
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BackfillInterval <= 0 {
		c.BackfillInterval = defaults.BackfillInterval
	}
	if c.ReleaseBatchSize <= 0 {
		c.ReleaseBatchSize = defaults.ReleaseBatchSize
	}
	if c.BackfillBatchSize <= 0 {
		c.BackfillBatchSize = defaults.BackfillBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout + defaults.JobTimeout
	}
	return c
}
