package uploader

import (
	"time"

	"github.com/netmeterhq/netmeter/internal/config"
)

// Config controls the upload worker loop.
type Config struct {
	Interval       time.Duration
	MaxBatchSize   int
	Retention      time.Duration
	RunTimeout     time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		MaxBatchSize:   500,
		Retention:      30 * 24 * time.Hour,
		RunTimeout:     time.Minute,
		RequestTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaults.MaxBatchSize
	}
	if c.Retention <= 0 {
		c.Retention = defaults.Retention
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	return c
}

// FromAgentConfig maps agent settings onto the worker knobs.
func FromAgentConfig(cfg config.Config) Config {
	return Config{
		Interval:     time.Duration(cfg.Agent.UploadIntervalSeconds) * time.Second,
		MaxBatchSize: int(cfg.Agent.MaxBatchSize),
		Retention:    time.Duration(cfg.Agent.RetentionDays) * 24 * time.Hour,
	}.withDefaults()
}
