package pkg

import (
	"fmt"

	"github.com/SAP-F-2025/workshop-progress/internal/config"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDatabase connects to postgres and migrates the outbox table.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.Environment == "production" {
		logLevel = logger.Error
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.PendingProgressCommand{}); err != nil {
		return nil, fmt.Errorf("failed to migrate outbox: %w", err)
	}
	return db, nil
}
