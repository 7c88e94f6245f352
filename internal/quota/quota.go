// Package quota watches today's metered usage against the daily limit of
// the network being metered. It is purely advisory: a breach produces a
// warning and a counter bump, never enforcement.
package quota

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/ledger"
	"github.com/netmeterhq/netmeter/internal/observability/metrics"
)

var Module = fx.Module("quota",
	fx.Provide(NewWatcher),
)

type Params struct {
	fx.In

	Billing *config.BillingConfigHolder
	Ledger  *ledger.Ledger
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Status is the outcome of one quota check.
type Status struct {
	Exceeded   bool
	UsedBytes  int64
	LimitBytes int64
}

type Watcher struct {
	billing *config.BillingConfigHolder
	ledger  *ledger.Ledger
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewWatcher(p Params) *Watcher {
	return &Watcher{
		billing: p.Billing,
		ledger:  p.Ledger,
		log:     p.Log.Named("quota"),
		metrics: p.Metrics,
	}
}

// Check compares today's total on the network against its configured daily
// limit. Networks without a billing entry, or with a zero limit, are never
// over quota.
func (w *Watcher) Check(ctx context.Context, network string, now time.Time) (Status, error) {
	billing, ok := w.billing.Network(network)
	if !ok || billing.DailyLimitBytes <= 0 {
		return Status{}, nil
	}

	used, err := w.ledger.TotalsSince(ctx, network, startOfDay(now))
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Exceeded:   used > billing.DailyLimitBytes,
		UsedBytes:  used,
		LimitBytes: billing.DailyLimitBytes,
	}
	if status.Exceeded {
		w.metrics.IncQuotaExceeded(network)
		w.log.Warn("daily quota exceeded",
			zap.String("wifi_ssid", network),
			zap.Int64("used_bytes", status.UsedBytes),
			zap.Int64("limit_bytes", status.LimitBytes),
		)
	}
	return status, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
