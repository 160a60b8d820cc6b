package violations

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stormwaterwatch/sww-backend/internal/middleware"
)

func SetupRoutes(fetcher middleware.SessionFetcher) http.Handler {
	r := chi.NewRouter()

	r.Get("/", ListViolations)
	r.Get("/export.csv", ExportCSV)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(fetcher))
		r.Get("/stats", GetStats)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminMiddleware(fetcher))
			r.Post("/recompute", RecomputeViolations)
			r.Post("/{violation_id}/dismiss", DismissViolation)
			r.Post("/{violation_id}/undismiss", UndismissViolation)
		})
	})

	return r
}
