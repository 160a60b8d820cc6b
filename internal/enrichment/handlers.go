package enrichment

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
)

const maxReportedErrors = 10

type spatialRequest struct {
	Mode        string      `json:"mode" validate:"omitempty,oneof=all unenriched specific"`
	FacilityIDs []uuid.UUID `json:"facility_ids"`
	ForceUpdate bool        `json:"force_update"`
	Datasets    []string    `json:"datasets" validate:"omitempty,dive,oneof=county huc12 dac ms4"`
}

func (r spatialRequest) options() Options {
	opts := Options{Force: r.Mode == "all" || r.ForceUpdate, Datasets: r.Datasets}
	if r.Mode == "specific" {
		opts.FacilityIDs = r.FacilityIDs
	}
	return opts
}

// RunSpatial enriches facilities synchronously and reports the counts.
func RunSpatial(w http.ResponseWriter, r *http.Request) {
	var req spatialRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "mode must be all, unenriched or specific and datasets one of county, huc12, dac, ms4")
		return
	}
	if req.Mode == "specific" && len(req.FacilityIDs) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "facility_ids required when mode is 'specific'")
		return
	}

	stats, err := enricher.Run(r.Context(), req.options())
	if err != nil {
		logger.Error("spatial enrichment", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Enrichment failed")
		return
	}

	msg := "Enrichment completed successfully"
	if n := len(stats.Errors); n > 0 {
		msg = fmt.Sprintf("Enrichment completed with %d errors", n)
	}
	errs := stats.Errors
	if len(errs) > maxReportedErrors {
		errs = errs[:maxReportedErrors]
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": len(stats.Errors) == 0,
		"stats": map[string]int{
			"total":       stats.Total,
			"enriched":    stats.Enriched,
			"skipped":     stats.Skipped,
			"error_count": len(stats.Errors),
		},
		"errors":  errs,
		"message": msg,
	})
}

func GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := store.Status(r.Context())
	if err != nil {
		logger.Error("enrichment status", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to get enrichment status")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// GetMapboxToken hands the public map token to the UI.
func GetMapboxToken(w http.ResponseWriter, r *http.Request) {
	if mapboxToken == "" {
		httputil.WriteError(w, http.StatusNotFound, "Mapbox token not configured")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": mapboxToken})
}
