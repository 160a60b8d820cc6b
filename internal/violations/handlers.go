package violations

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
)

const defaultDismissNote = "Manually dismissed"

type pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type listResponse struct {
	Violations []ViolationEvent `json:"violations"`
	Total      int64            `json:"total"`
	Pagination pagination       `json:"pagination"`
	Filters    FilterOptions    `json:"filters"`
}

// ListViolations returns filtered violations ordered by max ratio, plus the
// distinct values available for each filter.
func ListViolations(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	list, total, err := store.List(r.Context(), f)
	if err != nil {
		logger.Error("list violations", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch violations")
		return
	}
	opts, err := store.Options(r.Context())
	if err != nil {
		logger.Error("violation filter options", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch violations")
		return
	}
	httputil.AddServerTiming(w, "db", time.Since(start))

	if list == nil {
		list = []ViolationEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{
		Violations: list,
		Total:      total,
		Pagination: pagination{Limit: f.Limit, Offset: f.Offset, HasMore: int64(f.Offset+f.Limit) < total},
		Filters:    opts,
	})
}

func GetStats(w http.ResponseWriter, r *http.Request) {
	evs, err := store.Active(r.Context())
	if err != nil {
		logger.Error("violation stats", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ComputeStats(evs))
}

// ExportCSV downloads every violation matching the list filters.
func ExportCSV(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit, f.Offset = exportLimit, 0

	list, _, err := store.List(r.Context(), f)
	if err != nil {
		logger.Error("export violations", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to export violations")
		return
	}

	filename := fmt.Sprintf("violations-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := WriteCSV(w, list); err != nil {
		logger.Error("write violations csv", "error", err)
	}
}

type dismissRequest struct {
	Notes string `json:"notes"`
}

func DismissViolation(w http.ResponseWriter, r *http.Request) {
	id, ok := violationIDParam(w, r)
	if !ok {
		return
	}

	var req dismissRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	notes := req.Notes
	if notes == "" {
		notes = defaultDismissNote
	}
	setDismissed(w, r, id, true, &notes)
}

func UndismissViolation(w http.ResponseWriter, r *http.Request) {
	id, ok := violationIDParam(w, r)
	if !ok {
		return
	}
	setDismissed(w, r, id, false, nil)
}

func setDismissed(w http.ResponseWriter, r *http.Request, id uuid.UUID, dismissed bool, notes *string) {
	err := store.SetDismissed(r.Context(), id, dismissed, notes)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Violation not found")
		return
	}
	if err != nil {
		logger.Error("update violation", "id", id, "dismissed", dismissed, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to update violation")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type recomputeRequest struct {
	ReportingYear           string     `json:"reporting_year"`
	FacilityID              *uuid.UUID `json:"facility_id"`
	MinRatio                float64    `json:"min_ratio"`
	RepeatOffenderThreshold int        `json:"repeat_offender_threshold"`
}

// RecomputeViolations rebuilds violation events on demand.
func RecomputeViolations(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	cfg := DefaultDetectionConfig()
	if req.MinRatio > 0 {
		cfg.MinRatio = req.MinRatio
	}
	if req.RepeatOffenderThreshold > 0 {
		cfg.RepeatOffenderThreshold = req.RepeatOffenderThreshold
	}

	res, err := detector.Recompute(r.Context(), RecomputeOptions{
		ReportingYear: req.ReportingYear,
		FacilityID:    req.FacilityID,
		Config:        cfg,
	})
	if errors.Is(err, ErrInvalidReportingYear) {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.Error("recompute violations", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func violationIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "violation_id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid violation id")
		return uuid.Nil, false
	}
	return id, true
}
