package esmr

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stormwaterwatch/sww-backend/internal/middleware"
)

// SetupRoutes serves the public eSMR read API.
func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/facilities", ListFacilities)
	r.Get("/facilities/{facility_place_id}", GetFacility)
	r.Get("/samples", ListSamples)
	r.Get("/parameters", ListParameters)
	r.Get("/regions", ListRegions)
	r.Get("/stats", GetStats)

	return r
}

func SetupImportRoutes(fetcher middleware.SessionFetcher) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(fetcher))
		r.Get("/{job_id}", GetImportJob)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminMiddleware(fetcher))
			r.Get("/", ListImportJobs)
			r.Post("/", StartImport)
		})
	})

	return r
}

func SetupLinkRoutes(fetcher middleware.SessionFetcher) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(fetcher))
		r.Use(middleware.AdminMiddleware(fetcher))

		r.Get("/", ListLinkData)
		r.Post("/", LinkFacility)
		r.Delete("/", UnlinkFacility)
	})

	return r
}
