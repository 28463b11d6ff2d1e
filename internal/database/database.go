package database

import (
	"fmt"

	"github.com/ksred/vault-api/internal/assets"
	"github.com/ksred/vault-api/internal/oracle"
	"github.com/ksred/vault-api/internal/vault"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds database configuration
type Config struct {
	Path  string
	Debug bool
}

// Initialize opens the database and runs migrations
func Initialize(cfg Config) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("path", cfg.Path).Msg("database initialized")
	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&assets.AssetConfig{},
		&assets.RegistryMeta{},
		&oracle.AssetPrice{},
		&vault.Vault{},
		&vault.CollateralPosition{},
		&vault.DebtPosition{},
		&vault.LiquidationRecord{},
	)
}
