package esmr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
)

const recentJobLimit = 20

type pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

func newPagination(total int64, limit, offset int) pagination {
	return pagination{Total: total, Limit: limit, Offset: offset, HasMore: int64(offset+limit) < total}
}

// ListFacilities returns eSMR facilities with location and sample counts.
func ListFacilities(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParseLimitOffset(r, 50, 500)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	rows, total, err := store.ListFacilities(r.Context(), FacilityQuery{
		RegionCode:         strings.ToUpper(strings.TrimSpace(q.Get("region_code"))),
		Name:               strings.TrimSpace(q.Get("facility_name")),
		ReceivingWaterBody: strings.TrimSpace(q.Get("receiving_water_body")),
		Limit:              limit,
		Offset:             offset,
	})
	if err != nil {
		logger.Error("list esmr facilities", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch facilities")
		return
	}
	if rows == nil {
		rows = []FacilityRow{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"facilities": rows,
		"pagination": newPagination(total, limit, offset),
	})
}

func GetFacility(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "facility_place_id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid facility ID")
		return
	}

	start := time.Now()
	detail, err := store.FacilityDetail(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Facility not found")
		return
	}
	if err != nil {
		logger.Error("esmr facility detail", "facility_place_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch facility details")
		return
	}
	httputil.AddServerTiming(w, "db", time.Since(start))

	if detail.Locations == nil {
		detail.Locations = []LocationRow{}
	}
	if detail.RecentSamples == nil {
		detail.RecentSamples = []ParameterSummary{}
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

// ParseSampleQuery reads the sample filters, sort and paging params.
func ParseSampleQuery(r *http.Request) (SampleQuery, error) {
	limit, offset, err := httputil.ParseLimitOffset(r, 50, 500)
	if err != nil {
		return SampleQuery{}, err
	}
	q := r.URL.Query()
	out := SampleQuery{Limit: limit, Offset: offset, SortBy: "sampling_date", SortDesc: true}

	for key, dst := range map[string]**int64{
		"facility_place_id": &out.FacilityPlaceID,
		"location_place_id": &out.LocationPlaceID,
	} {
		if s := q.Get(key); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return SampleQuery{}, errors.New("invalid " + key)
			}
			*dst = &v
		}
	}
	if s := q.Get("parameter_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return SampleQuery{}, errors.New("invalid parameter_id")
		}
		out.ParameterID = &id
	}
	for key, dst := range map[string]**time.Time{
		"start_date": &out.StartDate,
		"end_date":   &out.EndDate,
	} {
		if s := q.Get(key); s != "" {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				return SampleQuery{}, errors.New("invalid " + key + ", expected YYYY-MM-DD")
			}
			*dst = &t
		}
	}
	if out.StartDate != nil && out.EndDate != nil && out.EndDate.Before(*out.StartDate) {
		return SampleQuery{}, errors.New("end_date is before start_date")
	}

	if s := q.Get("qualifier"); s != "" {
		// Accept both the stored enum and the raw CIWQS symbol ("<", "ND").
		qual := Qualifier(strings.ToUpper(s))
		switch qual {
		case QualifierDetected, QualifierLessThan, QualifierGreaterThan, QualifierNotDetected, QualifierDetectedNotQuantified:
			out.Qualifier = qual
		default:
			raw, err := ParseQualifier(s)
			if err != nil {
				return SampleQuery{}, errors.New("invalid qualifier")
			}
			out.Qualifier = raw
		}
	}
	if s := q.Get("location_type"); s != "" {
		lt := LocationType(strings.ToUpper(s))
		switch lt {
		case LocationEffluent, LocationInfluent, LocationReceivingWater, LocationRecycledWater, LocationInternal, LocationGroundwater:
			out.LocationType = lt
		default:
			return SampleQuery{}, errors.New("invalid location_type")
		}
	}

	switch s := q.Get("sort_by"); s {
	case "", "sampling_date":
	case "result":
		out.SortBy = "result"
	default:
		return SampleQuery{}, errors.New("sort_by must be sampling_date or result")
	}
	switch s := strings.ToLower(q.Get("sort_order")); s {
	case "", "desc":
	case "asc":
		out.SortDesc = false
	default:
		return SampleQuery{}, errors.New("sort_order must be asc or desc")
	}
	return out, nil
}

func ListSamples(w http.ResponseWriter, r *http.Request) {
	q, err := ParseSampleQuery(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	rows, total, err := store.ListSamples(r.Context(), q)
	if err != nil {
		logger.Error("list esmr samples", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch samples")
		return
	}
	httputil.AddServerTiming(w, "db", time.Since(start))

	if rows == nil {
		rows = []SampleRow{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"samples":    rows,
		"pagination": newPagination(total, q.Limit, q.Offset),
	})
}

// ListParameters returns parameters with sample counts, either paged or
// grouped by category.
func ListParameters(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParseLimitOffset(r, 100, 500)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	category := r.URL.Query().Get("category")

	if httputil.BoolParam(r, "group_by_category", false) {
		rows, _, err := store.ListParameters(r.Context(), category, 0, 0)
		if err != nil {
			logger.Error("list esmr parameters", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch parameters")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, GroupByCategory(rows))
		return
	}

	rows, total, err := store.ListParameters(r.Context(), category, limit, offset)
	if err != nil {
		logger.Error("list esmr parameters", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch parameters")
		return
	}
	if rows == nil {
		rows = []ParameterRow{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"parameters": rows,
		"pagination": newPagination(total, limit, offset),
	})
}

// GroupByCategory buckets parameters by category, using "Uncategorized" for
// parameters without one.
func GroupByCategory(rows []ParameterRow) map[string][]ParameterRow {
	out := map[string][]ParameterRow{}
	for _, p := range rows {
		c := "Uncategorized"
		if p.Category != nil && *p.Category != "" {
			c = *p.Category
		}
		out[c] = append(out[c], p)
	}
	return out
}

func ListRegions(w http.ResponseWriter, r *http.Request) {
	rows, err := store.ListRegions(r.Context())
	if err != nil {
		logger.Error("list esmr regions", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch regions")
		return
	}
	if rows == nil {
		rows = []RegionRow{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"regions": rows})
}

func GetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ov, err := store.Overview(r.Context(), time.Now())
	if err != nil {
		logger.Error("esmr stats", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}
	httputil.AddServerTiming(w, "db", time.Since(start))

	if ov.TopParameters == nil {
		ov.TopParameters = []NamedCount{}
	}
	if ov.ByQualifier == nil {
		ov.ByQualifier = []NamedCount{}
	}
	if ov.ByLocationType == nil {
		ov.ByLocationType = []NamedCount{}
	}
	httputil.WriteJSON(w, http.StatusOK, ov)
}

// StartImport validates the request and starts a background import job.
func StartImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "batch_size must be between 1 and 10000")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := jobs.Start(r.Context(), req)
	if errors.Is(err, ErrJobsClosed) {
		httputil.WriteError(w, http.StatusServiceUnavailable, "Server is shutting down, retry shortly")
		return
	}
	if err != nil {
		logger.Error("start esmr import", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to start import job")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"message":    "Import job started",
		"status_url": "/import/esmr/" + job.ID.String(),
	})
}

func GetImportJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid job id")
		return
	}
	job, err := store.GetJob(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch job")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func ListImportJobs(w http.ResponseWriter, r *http.Request) {
	list, err := store.RecentJobs(r.Context(), recentJobLimit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch jobs")
		return
	}
	if list == nil {
		list = []ImportJob{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"jobs": list})
}
