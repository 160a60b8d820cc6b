package facilities

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", ListFacilities)
	r.Get("/{facility_id}", GetFacility)
	r.Get("/{facility_id}/samples", ListFacilitySamples)

	return r
}
