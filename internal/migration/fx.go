package migration

import (
	"strings"

	"github.com/smallbiznis/splitledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migration", fx.Invoke(migrateOnBoot))

func migrateOnBoot(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !cfg.DBRunMigrations {
		return nil
	}
	if !strings.EqualFold(cfg.DBType, "postgres") {
		log.Warn("embedded migrations target postgres only; skipping", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	res, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("schema ready", zap.Uint("version", res.Version), zap.Bool("applied", res.Applied))
	return nil
}
