package casepacket

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

// GetCasePacket renders the PDF for ?violation_id= as an attachment.
func GetCasePacket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("violation_id")
	if raw == "" {
		httputil.WriteError(w, http.StatusBadRequest, "violation_id is required")
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid violation ID")
		return
	}

	ev, err := store.Violation(r.Context(), id)
	if errors.Is(err, violations.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Violation not found")
		return
	}
	if err != nil {
		logger.Error("case packet violation", "violation_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to generate case packet")
		return
	}
	samples, err := store.ExceedanceSamples(r.Context(), ev)
	if err != nil {
		logger.Error("case packet samples", "violation_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to generate case packet")
		return
	}

	d := Data{
		Violation:     ev,
		PollutantName: ev.Pollutant,
		Samples:       samples,
		GeneratedAt:   clock.Now(),
	}
	if ev.Facility != nil {
		d.Facility = *ev.Facility
	}
	if p, ok := registry().Lookup(ev.Pollutant); ok && p.DisplayName != "" {
		d.PollutantName = p.DisplayName
	}

	var buf bytes.Buffer
	if err := Render(&buf, d); err != nil {
		logger.Error("render case packet", "violation_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to generate case packet")
		return
	}
	logger.Info("case packet generated", "violation_id", id, "bytes", buf.Len())

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, Filename(d)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
