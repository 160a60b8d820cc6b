package esmr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/config"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
	"gorm.io/gorm"
)

var (
	store     Store     = GormStore{}
	linkStore LinkStore = GormStore{}
	jobs      *Jobs
	logger    = slog.Default()
	validate  = validator.New()
)

// Service bundles the eSMR workers other packages drive.
type Service struct {
	Importer *Importer
	Syncer   *Syncer
	Jobs     *Jobs
}

// Init migrates the eSMR schema and wires import, sync and the read API.
// Pollutants must be initialised first so parameters get canonical keys.
func Init(cfg *config.Config, log *slog.Logger, metrics *observability.Metrics) (*Service, error) {
	if err := Migrate(db.DB); err != nil {
		return nil, err
	}

	gs := GormStore{DB: db.DB, Registry: pollutants.Current()}
	store = gs
	linkStore = gs
	logger = log

	clock := clockwork.NewRealClock()
	client := NewClient(cfg.ESMRSyncURL)
	importer := NewImporter(gs, log, metrics)
	jobs = NewJobs(gs, importer, client, clock, log)
	if err := jobs.Recover(context.Background()); err != nil {
		return nil, err
	}

	return &Service{
		Importer: importer,
		Syncer:   NewSyncer(client, gs, importer, clock, log),
		Jobs:     jobs,
	}, nil
}

// Migrate creates the esmr schema and its tables.
func Migrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", Schema, err)
	}
	if err := d.AutoMigrate(
		&Region{},
		&Facility{},
		&Location{},
		&Parameter{},
		&AnalyticalMethod{},
		&Sample{},
		&ImportJob{},
	); err != nil {
		return fmt.Errorf("auto-migrate esmr tables: %w", err)
	}
	return nil
}
