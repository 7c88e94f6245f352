package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/netmeterhq/netmeter/internal/config"
	devicedomain "github.com/netmeterhq/netmeter/internal/device/domain"
	ingestdomain "github.com/netmeterhq/netmeter/internal/ingest/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql deployments sync the schema from the models;
		// the versioned SQL below targets the postgres production path.
		return conn.AutoMigrate(
			&devicedomain.Device{},
			&ingestdomain.UsageRecord{},
		)
	}),
)
