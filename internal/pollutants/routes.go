package pollutants

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", ListPollutants)
	r.Get("/{key}", GetPollutant)
	return r
}

// ListPollutants returns the configured pollutants ordered by key
func ListPollutants(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(current.All())
}

// GetPollutant resolves a key or alias
func GetPollutant(w http.ResponseWriter, r *http.Request) {
	p, ok := current.Lookup(current.Resolve(chi.URLParam(r, "key")))
	if !ok {
		http.Error(w, "Pollutant not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}
