package migration

import (
	"github.com/smallbiznis/notifier/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module applies pending migrations on startup when NOTIFIER_AUTO_MIGRATE
// is set. The migrate command calls Apply directly.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.AutoMigrate {
			return nil
		}
		return Apply(conn, log)
	}),
)

func Apply(conn *gorm.DB, log *zap.Logger) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Named("migration").Info("migrations applied")
	return nil
}
