package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stormwaterwatch/sww-backend/internal/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Schema holds every stormwater table except auth and eSMR.
const Schema = "stormwater"

var DB *gorm.DB

// Connect opens the shared pool. Queries slower than 100ms are logged as
// warnings; everything else is logged only at debug level.
func Connect(dsn string, log *slog.Logger) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is empty")
	}

	d, err := Open(postgres.Open(dsn), log)
	if err != nil {
		return err
	}

	sqlDB, err := d.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	DB = d
	log.Info("connected to database")
	return nil
}

// Open wraps a dialector with the service's gorm settings.
func Open(dialector gorm.Dialector, log *slog.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if log.Enabled(context.Background(), slog.LevelDebug) {
		level = logger.Info
	}
	lg := logger.New(
		logging.StdLogger(log, slog.LevelInfo),
		logger.Config{
			SlowThreshold:             100 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(dialector, &gorm.Config{Logger: lg, TranslateError: true})
}

// Ping checks the pool with a bounded round trip.
func Ping(ctx context.Context) error {
	if DB == nil {
		return errors.New("database not connected")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
