package casepacket

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

var (
	store    Store = GormStore{}
	clock          = clockwork.NewRealClock()
	registry       = pollutants.Current
	logger         = slog.Default()
)

// Init wires the case packet store. Violations must be initialised first.
func Init(log *slog.Logger) {
	store = GormStore{DB: db.DB}
	logger = log
}

func SetupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", GetCasePacket)
	return r
}
