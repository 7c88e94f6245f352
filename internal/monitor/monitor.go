// Package monitor runs the agent's polling loop: sample the network, feed
// the accumulator, persist whatever delta the interval earned. The loop
// never exits on its own; every failure is absorbed, logged and retried on
// the next tick.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/netmeterhq/netmeter/internal/accumulator"
	"github.com/netmeterhq/netmeter/internal/clock"
	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/identity"
	"github.com/netmeterhq/netmeter/internal/ledger"
	"github.com/netmeterhq/netmeter/internal/observability/metrics"
	"github.com/netmeterhq/netmeter/internal/quota"
	"github.com/netmeterhq/netmeter/internal/sampler"
)

type Params struct {
	fx.In

	AppConfig config.Config
	Sampler   sampler.Sampler
	Ledger    *ledger.Ledger
	Quota     *quota.Watcher
	Identity  identity.Fingerprint
	Node      *snowflake.Node
	Clock     clock.Clock
	Log       *zap.Logger
	Config    Config                 `optional:"true"`
	Metrics   *metrics.WorkerMetrics `optional:"true"`
}

type Monitor struct {
	cfg      Config
	sampler  sampler.Sampler
	acc      *accumulator.Accumulator
	ledger   *ledger.Ledger
	quota    *quota.Watcher
	identity identity.Fingerprint
	node     *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.WorkerMetrics
}

func NewMonitor(p Params) *Monitor {
	return &Monitor{
		cfg:      p.Config.withDefaults(),
		sampler:  p.Sampler,
		acc:      accumulator.New(p.AppConfig.Agent.TargetNetwork),
		ledger:   p.Ledger,
		quota:    p.Quota,
		identity: p.Identity,
		node:     p.Node,
		clock:    p.Clock,
		log:      p.Log.Named("monitor"),
		metrics:  p.Metrics,
	}
}

func (m *Monitor) RunForever(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	next := time.Now().Add(m.cfg.PollInterval)
	for {
		if err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			m.log.Error("monitor tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.metrics.ObserveRunLoopLag(time.Since(next))
			next = time.Now().Add(m.cfg.PollInterval)
		}
	}
}

// RunOnce performs one metering tick.
func (m *Monitor) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, m.cfg.TickTimeout)
	defer cancel()

	m.metrics.IncJobRun(metrics.JobCounterSample)
	start := time.Now()
	err := m.tick(ctx)
	m.metrics.ObserveJobDuration(metrics.JobCounterSample, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.metrics.IncJobTimeout(metrics.JobCounterSample)
		}
		m.metrics.IncJobError(metrics.JobCounterSample, err)
	}
	return err
}

func (m *Monitor) tick(ctx context.Context) error {
	network, sent, received := m.sample(ctx)

	previous := m.acc.Network()
	delta, transition := m.acc.Tick(network, sent, received)
	switch transition {
	case accumulator.TransitionAssociated:
		m.log.Info("associated with network", zap.String("wifi_ssid", network))
	case accumulator.TransitionDisassociated:
		m.log.Info("disassociated from network", zap.String("wifi_ssid", previous))
	}

	if delta.Total() <= 0 {
		return nil
	}

	now := m.clock.Now()
	event := &ledger.Event{
		ID:            m.node.Generate(),
		DeviceID:      m.identity.DeviceID,
		NetworkName:   network,
		Timestamp:     now,
		BytesSent:     delta.BytesSent,
		BytesReceived: delta.BytesReceived,
		TotalBytes:    delta.Total(),
	}
	if err := m.ledger.Append(ctx, event); err != nil {
		// Tick abandoned; counters were already re-baselined, so this
		// interval's bytes are lost rather than double counted.
		return fmt.Errorf("append usage event: %w", err)
	}
	m.metrics.AddBatchProcessed(metrics.JobCounterSample, metrics.ResourceUsageEvents, 1)
	m.log.Debug("usage event recorded",
		zap.String("wifi_ssid", network),
		zap.Int64("bytes_sent", delta.BytesSent),
		zap.Int64("bytes_received", delta.BytesReceived),
	)

	if _, err := m.quota.Check(ctx, network, now); err != nil {
		m.log.Debug("quota check failed", zap.Error(err))
	}
	return nil
}

// sample reads the current network and counters. A failed read degrades to
// an unassociated tick: the accumulator drops its baseline instead of ever
// working from a fabricated zero sample.
func (m *Monitor) sample(ctx context.Context) (string, int64, int64) {
	network, err := m.sampler.NetworkName(ctx)
	if err != nil {
		m.log.Debug("network probe failed", zap.Error(err))
		return "", 0, 0
	}
	if network == "" {
		return "", 0, 0
	}

	sent, received, err := m.sampler.Counters(ctx)
	if err != nil {
		m.log.Debug("counter read failed", zap.Error(err))
		return "", 0, 0
	}
	return network, sent, received
}
