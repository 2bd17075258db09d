package migration

import (
	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/LoohanZinho/enemaccess/internal/config"
	webhookdomain "github.com/LoohanZinho/enemaccess/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned SQL migrations target postgres; other drivers
			// (sqlite for local runs, mysql) take the ORM schema directly.
			return conn.AutoMigrate(
				&accesskeydomain.AccessKey{},
				&webhookdomain.EventRecord{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
