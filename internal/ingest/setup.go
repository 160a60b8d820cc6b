package ingest

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

var service *Service

// Init migrates the provenance table and wires the upload service.
func Init(logger *slog.Logger, metrics *observability.Metrics) (*Service, error) {
	if err := db.DB.AutoMigrate(&Provenance{}); err != nil {
		return nil, fmt.Errorf("auto-migrate provenance: %w", err)
	}
	service = NewService(GormStore{DB: db.DB}, pollutants.Current(), clockwork.NewRealClock(), logger, metrics)
	return service, nil
}
