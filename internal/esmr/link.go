package esmr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"gorm.io/gorm"
)

var ErrAlreadyLinked = errors.New("facility already linked to a different eSMR facility")

// FacilityRef is the short form of an eSMR facility shown next to a link.
type FacilityRef struct {
	FacilityPlaceID int64  `json:"facility_place_id"`
	FacilityName    string `json:"facility_name"`
	RegionCode      string `json:"region_code"`
}

// LinkedFacility is a stormwater facility and the eSMR facility it reports
// under, if any.
type LinkedFacility struct {
	ID                  uuid.UUID    `json:"id"`
	Name                string       `json:"name"`
	PermitID            string       `json:"permit_id"`
	County              string       `json:"county"`
	ESMRFacilityPlaceID *int64       `json:"esmr_facility_place_id"`
	ESMRFacility        *FacilityRef `json:"esmr_facility"`
}

type LinkStore interface {
	LinkableFacilities(ctx context.Context) ([]LinkedFacility, error)
	ESMRFacilities(ctx context.Context) ([]Facility, error)
	Link(ctx context.Context, facilityID uuid.UUID, placeID int64) (LinkedFacility, error)
	Unlink(ctx context.Context, facilityID uuid.UUID) (LinkedFacility, error)
}

type linkRow struct {
	ID                  uuid.UUID
	Name                string
	PermitID            string
	County              string
	ESMRFacilityPlaceID *int64
	ESMRFacilityName    *string
	ESMRRegionCode      *string
}

func (r linkRow) linked() LinkedFacility {
	out := LinkedFacility{
		ID:                  r.ID,
		Name:                r.Name,
		PermitID:            r.PermitID,
		County:              r.County,
		ESMRFacilityPlaceID: r.ESMRFacilityPlaceID,
	}
	if r.ESMRFacilityPlaceID != nil && r.ESMRFacilityName != nil {
		out.ESMRFacility = &FacilityRef{FacilityPlaceID: *r.ESMRFacilityPlaceID, FacilityName: *r.ESMRFacilityName}
		if r.ESMRRegionCode != nil {
			out.ESMRFacility.RegionCode = *r.ESMRRegionCode
		}
	}
	return out
}

func (s GormStore) linkQuery(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx).Table("stormwater.facilities AS f").
		Select(`f.id, f.name, f.permit_id, f.county, f.esmr_facility_place_id,
			e.facility_name AS esmr_facility_name, e.region_code AS esmr_region_code`).
		Joins("LEFT JOIN esmr.facilities e ON e.facility_place_id = f.esmr_facility_place_id")
}

// LinkableFacilities lists stormwater facilities, unlinked first.
func (s GormStore) LinkableFacilities(ctx context.Context) ([]LinkedFacility, error) {
	var rows []linkRow
	err := s.linkQuery(ctx).
		Order("f.esmr_facility_place_id ASC NULLS FIRST").
		Order("f.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]LinkedFacility, len(rows))
	for i, r := range rows {
		out[i] = r.linked()
	}
	return out, nil
}

func (s GormStore) ESMRFacilities(ctx context.Context) ([]Facility, error) {
	var out []Facility
	err := s.DB.WithContext(ctx).Order("facility_name ASC").Find(&out).Error
	return out, err
}

func (s GormStore) linked(ctx context.Context, id uuid.UUID) (LinkedFacility, error) {
	var row linkRow
	res := s.linkQuery(ctx).Where("f.id = ?", id).Limit(1).Scan(&row)
	if res.Error != nil {
		return LinkedFacility{}, res.Error
	}
	if res.RowsAffected == 0 {
		return LinkedFacility{}, facilities.ErrNotFound
	}
	return row.linked(), nil
}

// Link points a facility at an eSMR facility. Relinking to the same place id
// is a no-op; relinking elsewhere requires an unlink first.
func (s GormStore) Link(ctx context.Context, facilityID uuid.UUID, placeID int64) (LinkedFacility, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f facilities.Facility
		if err := tx.First(&f, "id = ?", facilityID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return facilities.ErrNotFound
			}
			return err
		}
		var e Facility
		if err := tx.First(&e, "facility_place_id = ?", placeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if f.ESMRFacilityPlaceID != nil && *f.ESMRFacilityPlaceID != placeID {
			return ErrAlreadyLinked
		}
		return tx.Model(&f).Update("esmr_facility_place_id", placeID).Error
	})
	if err != nil {
		return LinkedFacility{}, err
	}
	return s.linked(ctx, facilityID)
}

func (s GormStore) Unlink(ctx context.Context, facilityID uuid.UUID) (LinkedFacility, error) {
	res := s.DB.WithContext(ctx).Model(&facilities.Facility{}).
		Where("id = ?", facilityID).
		Update("esmr_facility_place_id", nil)
	if res.Error != nil {
		return LinkedFacility{}, res.Error
	}
	if res.RowsAffected == 0 {
		return LinkedFacility{}, facilities.ErrNotFound
	}
	return s.linked(ctx, facilityID)
}

// ListLinkData returns stormwater facilities (?type=facilities) or eSMR
// facilities (?type=esmr) for the linking screen.
func ListLinkData(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("type") {
	case "facilities":
		list, err := linkStore.LinkableFacilities(r.Context())
		if err != nil {
			logger.Error("list linkable facilities", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch data")
			return
		}
		if list == nil {
			list = []LinkedFacility{}
		}
		httputil.WriteJSON(w, http.StatusOK, list)
	case "esmr":
		list, err := linkStore.ESMRFacilities(r.Context())
		if err != nil {
			logger.Error("list esmr facilities for linking", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch data")
			return
		}
		if list == nil {
			list = []Facility{}
		}
		httputil.WriteJSON(w, http.StatusOK, list)
	default:
		httputil.WriteError(w, http.StatusBadRequest, `Invalid type parameter. Use "facilities" or "esmr"`)
	}
}

type linkRequest struct {
	FacilityID          uuid.UUID `json:"facility_id"`
	ESMRFacilityPlaceID int64     `json:"esmr_facility_place_id"`
}

func LinkFacility(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FacilityID == uuid.Nil || req.ESMRFacilityPlaceID == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "facility_id and esmr_facility_place_id are required")
		return
	}

	f, err := linkStore.Link(r.Context(), req.FacilityID, req.ESMRFacilityPlaceID)
	switch {
	case errors.Is(err, facilities.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "Facility not found")
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "eSMR facility not found")
	case errors.Is(err, ErrAlreadyLinked):
		httputil.WriteError(w, http.StatusBadRequest, "Facility is already linked to a different eSMR facility. Unlink it first.")
	case err != nil:
		logger.Error("link facility", "facility_id", req.FacilityID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to link facilities")
	default:
		logger.Info("facility linked", "facility_id", req.FacilityID, "esmr_facility_place_id", req.ESMRFacilityPlaceID)
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "facility": f})
	}
}

func UnlinkFacility(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FacilityID == uuid.Nil {
		httputil.WriteError(w, http.StatusBadRequest, "facility_id is required")
		return
	}

	f, err := linkStore.Unlink(r.Context(), req.FacilityID)
	if errors.Is(err, facilities.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "Facility not found")
		return
	}
	if err != nil {
		logger.Error("unlink facility", "facility_id", req.FacilityID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to unlink facility")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "facility": f})
}
