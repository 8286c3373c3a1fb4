package main

import (
	"fmt"

	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/logger"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// bootstrap loads configuration, sets up logging and opens the database.
func bootstrap() (*config.Config, *gorm.DB, error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return nil, nil, fmt.Errorf("setup logger: %w", err)
	}
	if envErr != nil {
		logger.WithComponent("config").Debug().Msg("No .env file found, using process environment")
	}

	level := gormlogger.Warn
	if cfg.IsDevelopment() {
		level = gormlogger.Info
	}
	db, err := database.Open(database.Config{
		Driver:     cfg.DBDriver,
		DSN:        cfg.DBDSN,
		MaxRetries: cfg.DBMaxRetries,
		LogLevel:   level,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
