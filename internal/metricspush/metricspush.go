// Package metricspush publishes the agent's metrics outward. Agents sit
// behind NAT where Prometheus cannot scrape them, so the registry is pushed
// to a remote_write endpoint or a Pushgateway instead of being served.
package metricspush

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/identity"
)

const (
	exporterRemoteWrite = "prometheus_remote_write"
	exporterPushgateway = "prometheus_pushgateway"
)

var Module = fx.Module("metricspush",
	fx.Invoke(Register),
)

// Register wires the push loop when enabled. Failures are logged once and
// never block metering.
func Register(lc fx.Lifecycle, cfg config.Config, id identity.Fingerprint, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Push.Enabled {
		return
	}

	pcfg, err := parseExporterConfig(cfg, id)
	if err != nil {
		log.Warn("metric push disabled", zap.Error(err))
		return
	}

	exp := newExporter(prometheus.DefaultGatherer, pcfg, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			exp.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return exp.Stop(ctx)
		},
	})
}

type exporterConfig struct {
	kind      string
	endpoint  string
	authToken string
	job       string
	grouping  map[string]string
	deviceID  string
}

func parseExporterConfig(cfg config.Config, id identity.Fingerprint) (exporterConfig, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Push.Exporter))
	if kind == "" {
		return exporterConfig{}, errors.New("push.exporter is required")
	}
	endpoint := strings.TrimSpace(cfg.Push.Endpoint)
	if endpoint == "" {
		return exporterConfig{}, errors.New("push.endpoint is required")
	}

	out := exporterConfig{
		kind:      kind,
		endpoint:  endpoint,
		authToken: strings.TrimSpace(cfg.Push.AuthToken),
		job:       cfg.AppName,
		grouping: map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
			"instance":    id.DeviceID,
		},
		deviceID: id.DeviceID,
	}

	switch kind {
	case exporterRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return exporterConfig{}, fmt.Errorf("invalid push.endpoint: %w", err)
		}
	case exporterPushgateway:
	default:
		return exporterConfig{}, fmt.Errorf("unsupported push.exporter: %s", kind)
	}

	return out, nil
}
