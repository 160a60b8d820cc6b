package facilities

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
)

const recentSampleLimit = 50

type listResponse struct {
	Facilities []Facility `json:"facilities"`
	Total      int64      `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

type detailResponse struct {
	Facility      Facility           `json:"facility"`
	RecentSamples []Sample           `json:"recent_samples"`
	Violations    []ViolationSummary `json:"violations"`
}

// ListFacilities searches facilities by name or permit id
func ListFacilities(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParseLimitOffset(r, 50, 500)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := ListQuery{
		Search: r.URL.Query().Get("q"),
		County: r.URL.Query().Get("county"),
		Limit:  limit,
		Offset: offset,
	}
	list, total, err := store.List(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch facilities")
		return
	}
	if list == nil {
		list = []Facility{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Facilities: list, Total: total, Limit: limit, Offset: offset})
}

// GetFacility returns a facility with its latest samples and violations
func GetFacility(w http.ResponseWriter, r *http.Request) {
	id, ok := facilityIDParam(w, r)
	if !ok {
		return
	}

	f, err := store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Facility not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch facility")
		return
	}

	samples, err := store.Samples(r.Context(), id, SampleQuery{Limit: recentSampleLimit})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch samples")
		return
	}
	violations, err := store.Violations(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch violations")
		return
	}
	if samples == nil {
		samples = []Sample{}
	}
	if violations == nil {
		violations = []ViolationSummary{}
	}
	httputil.WriteJSON(w, http.StatusOK, detailResponse{Facility: f, RecentSamples: samples, Violations: violations})
}

// ListFacilitySamples returns samples for a facility, newest first
func ListFacilitySamples(w http.ResponseWriter, r *http.Request) {
	id, ok := facilityIDParam(w, r)
	if !ok {
		return
	}
	limit, _, err := httputil.ParseLimitOffset(r, 500, 5000)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := SampleQuery{
		Pollutant:     r.URL.Query().Get("pollutant"),
		ReportingYear: r.URL.Query().Get("reporting_year"),
		Limit:         limit,
	}
	if q.ReportingYear != "" && !ValidReportingYear(q.ReportingYear) {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid reporting_year, expected YYYY-YYYY")
		return
	}

	if _, err := store.Get(r.Context(), id); errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Facility not found")
		return
	}
	samples, err := store.Samples(r.Context(), id, q)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch samples")
		return
	}
	if samples == nil {
		samples = []Sample{}
	}
	httputil.WriteJSON(w, http.StatusOK, samples)
}

func facilityIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "facility_id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid facility id")
		return uuid.Nil, false
	}
	return id, true
}
