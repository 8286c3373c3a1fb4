package database

import (
	"fmt"
	"time"

	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Driver     string // mysql, postgres, sqlite
	DSN        string
	MaxRetries int
	RetryDelay time.Duration
	LogLevel   gormlogger.LogLevel
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql", "":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to the database, retrying while it comes up.
func Open(cfg Config) (*gorm.DB, error) {
	dial, err := dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = gormlogger.Warn
	}

	log := logger.WithComponent("database")

	var db *gorm.DB
	for i := 0; i < cfg.MaxRetries; i++ {
		db, err = gorm.Open(dial, &gorm.Config{
			Logger:  gormlogger.Default.LogMode(cfg.LogLevel),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			break
		}
		log.Warn().Err(err).
			Int("attempt", i+1).
			Int("max_attempts", cfg.MaxRetries).
			Msg("Failed to connect to database, retrying")
		if i < cfg.MaxRetries-1 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", cfg.MaxRetries, err)
	}

	if cfg.Driver != "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	log.Info().Str("driver", db.Dialector.Name()).Msg("Connected to database")
	return db, nil
}

// Migrate syncs the schema for every model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logger.WithComponent("database").Info().Msg("Database schema synced")
	return nil
}
