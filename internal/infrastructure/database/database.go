// Package database owns the single Postgres connection pool the process
// holds, used only by internal/audit's optional kernel-lifecycle log —
// nothing in the notebook/kernel/run model reads from or writes to it.
package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"twinsong/internal/infrastructure/config"
)

var db *gorm.DB

// Init opens the pool described by cfg. Callers should skip calling this
// at all when cfg.Enabled is false and use audit.Disabled() instead.
func Init(cfg *config.AuditConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var err error
	db, err = gorm.Open(postgres.Open(cfg.GetDSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.GetConnMaxLifetime())

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Msg("audit database connected")

	return db, nil
}

// GetDB returns the process-wide connection pool, or nil if Init was
// never called.
func GetDB() *gorm.DB {
	return db
}

// Close closes the connection pool, if one was opened.
func Close() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
