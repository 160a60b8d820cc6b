package pollutants

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/stormwaterwatch/sww-backend/internal/db"
)

var current = NewRegistry(nil)

// Current returns the registry loaded by Init.
func Current() *Registry { return current }

// Init migrates the config table, seeds it from path when the file exists
// and loads the registry.
func Init(ctx context.Context, path string, logger *slog.Logger) error {
	if err := db.EnsureSchema(db.DB, db.Schema); err != nil {
		return err
	}
	if err := db.DB.AutoMigrate(&ConfigPollutant{}); err != nil {
		return err
	}

	list, err := LoadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("pollutant config file not found, using stored configuration", "path", path)
	case err != nil:
		return err
	default:
		if err := Seed(ctx, db.DB, list); err != nil {
			return err
		}
	}

	reg, err := LoadRegistry(ctx, db.DB)
	if err != nil {
		return err
	}
	current = reg
	logger.Info("pollutants module initialized", "pollutants", len(reg.byKey))
	return nil
}
