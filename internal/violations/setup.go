package violations

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/events"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

// exportLimit caps a single CSV export.
const exportLimit = 50000

var (
	store    Store = GormStore{}
	detector *Detector
	logger   = slog.Default()
)

// Init migrates the violation table and wires the detector. Facilities must
// be initialised first.
func Init(publisher events.Publisher, log *slog.Logger, metrics *observability.Metrics) (*Detector, error) {
	if err := db.DB.AutoMigrate(&ViolationEvent{}); err != nil {
		return nil, fmt.Errorf("auto-migrate violation_events: %w", err)
	}

	store = GormStore{DB: db.DB}
	logger = log
	detector = NewDetector(store, pollutants.Current(), publisher, clockwork.NewRealClock(), log, metrics)
	return detector, nil
}
