package enrichment

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stormwaterwatch/sww-backend/internal/middleware"
)

func SetupRoutes(fetcher middleware.SessionFetcher) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(fetcher))
		r.Get("/spatial", GetStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminMiddleware(fetcher))
			r.Post("/spatial", RunSpatial)
		})
	})

	return r
}
