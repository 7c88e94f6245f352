package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/netmeterhq/netmeter/internal/clock"
	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/migration"
	"github.com/netmeterhq/netmeter/internal/observability"
	"github.com/netmeterhq/netmeter/internal/server"
	"github.com/netmeterhq/netmeter/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Ingestion, registry and billing services plus the HTTP surface.
		server.Module,
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
