// Package sampler reads the instantaneous network view the monitor loop
// works from: the wireless network currently joined and the cumulative
// interface byte counters. Readings are cheap and tolerant; callers treat
// errors as "no data this tick" and try again on the next one.
package sampler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/netmeterhq/netmeter/internal/config"
)

// Sampler is the OS collaborator behind the metering loop. Counters returns
// cumulative bytes since boot; values only move forward except across counter
// resets, which the accumulator tolerates.
type Sampler interface {
	Counters(ctx context.Context) (sent, received int64, err error)
	NetworkName(ctx context.Context) (string, error)
}

var Module = fx.Module("sampler",
	fx.Provide(New),
)

// New returns the Linux reference sampler configured from the agent settings.
func New(cfg config.Config, log *zap.Logger) Sampler {
	return NewProcSampler(log, cfg.Agent.Interfaces)
}
