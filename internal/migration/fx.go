package migration

import (
	"strings"

	"github.com/smallbiznis/compliancehub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded migrations when the configured database supports them.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !cfg.MigrateOnStart {
		log.Info("migrations disabled")
		return nil
	}
	if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
		log.Warn("embedded migrations target postgres; skipping", zap.String("type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
