package enrichment

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/config"
	"github.com/stormwaterwatch/sww-backend/internal/db"
)

var (
	store       Store = GormStore{}
	enricher    *Enricher
	mapboxToken string
	logger      = slog.Default()
	validate    = validator.New()
)

// Init loads the boundary layers and wires the enricher. Facilities must be
// initialised first.
func Init(cfg *config.Config, log *slog.Logger) *Enricher {
	store = GormStore{DB: db.DB}
	logger = log
	mapboxToken = cfg.MapboxToken

	var geocoder Geocoder
	if c := NewMapboxClient(cfg.MapboxToken, cfg.MapboxTimeout, log); c != nil {
		geocoder = c
	} else {
		log.Info("MAPBOX_TOKEN not set, facilities without coordinates will be skipped")
	}

	enricher = NewEnricher(store, LoadDatasets(cfg.GeodataDir, log), geocoder, clockwork.NewRealClock(), log)
	return enricher
}
