package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/netmeterhq/netmeter/internal/clock"
	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/identity"
	"github.com/netmeterhq/netmeter/internal/ledger"
	"github.com/netmeterhq/netmeter/internal/metricspush"
	"github.com/netmeterhq/netmeter/internal/monitor"
	"github.com/netmeterhq/netmeter/internal/observability"
	"github.com/netmeterhq/netmeter/internal/quota"
	"github.com/netmeterhq/netmeter/internal/sampler"
	"github.com/netmeterhq/netmeter/internal/uploader"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(ResolveIdentity),
		clock.Module,

		// Metering pipeline: sample -> accumulate -> ledger -> upload.
		sampler.Module,
		ledger.Module,
		quota.Module,
		monitor.Module,
		uploader.Module,
		metricspush.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// ResolveIdentity fingerprints this host once at startup. Every event the
// agent emits carries the resulting device id.
func ResolveIdentity(cfg config.Config) (identity.Fingerprint, error) {
	return identity.Self(cfg.Agent.Interfaces)
}
