package monitor

import (
	"time"

	"github.com/netmeterhq/netmeter/internal/config"
)

// Config controls the polling loop.
type Config struct {
	PollInterval time.Duration
	TickTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Minute,
		TickTimeout:  10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = defaults.TickTimeout
	}
	return c
}

// FromAgentConfig maps agent settings onto the loop knobs.
func FromAgentConfig(cfg config.Config) Config {
	return Config{
		PollInterval: time.Duration(cfg.Agent.PollIntervalSeconds) * time.Second,
	}.withDefaults()
}
