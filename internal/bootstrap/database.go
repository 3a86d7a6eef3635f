package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/config"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/database"
)

// PoolConfig overlays the configured pool sizes and log level on the
// database defaults. Non-positive sizes keep the defaults.
func PoolConfig(cfg config.DatabaseConfig) database.PoolConfig {
	pool := database.DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.LogLevel != "" {
		pool.LogLevel = cfg.LogLevel
	}
	if pool.MaxIdleConns > pool.MaxOpenConns {
		pool.MaxIdleConns = pool.MaxOpenConns
	}
	return pool
}

// OpenDatabase connects when a DSN is configured. It returns a nil *gorm.DB
// otherwise; only the pgvector memory backend needs one.
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.Connection == "" {
		return nil, nil
	}
	db, err := database.NewGormDB(cfg.Database.Connection, PoolConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}
