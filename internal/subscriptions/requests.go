package subscriptions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/stormwaterwatch/sww-backend/internal/geo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createRequest struct {
	Name                    string   `json:"name" validate:"required,max=200"`
	Mode                    Mode     `json:"mode" validate:"required,oneof=POLYGON BUFFER JURISDICTION"`
	Params                  Params   `json:"params"`
	MinRatio                *float64 `json:"min_ratio" validate:"omitempty,gt=0"`
	RepeatOffenderThreshold *int     `json:"repeat_offender_threshold" validate:"omitempty,min=1"`
	ImpairedOnly            bool     `json:"impaired_only"`
	Schedule                Schedule `json:"schedule" validate:"required,oneof=DAILY WEEKLY"`
	Delivery                Delivery `json:"delivery" validate:"required,oneof=EMAIL SLACK BOTH"`
}

type updateRequest struct {
	Name                    *string   `json:"name" validate:"omitempty,min=1,max=200"`
	Active                  *bool     `json:"active"`
	Schedule                *Schedule `json:"schedule" validate:"omitempty,oneof=DAILY WEEKLY"`
	Delivery                *Delivery `json:"delivery" validate:"omitempty,oneof=EMAIL SLACK BOTH"`
	MinRatio                *float64  `json:"min_ratio" validate:"omitempty,gt=0"`
	RepeatOffenderThreshold *int      `json:"repeat_offender_threshold" validate:"omitempty,min=1"`
	ImpairedOnly            *bool     `json:"impaired_only"`
}

type testMatchRequest struct {
	Mode       Mode   `json:"mode" validate:"required,oneof=POLYGON BUFFER JURISDICTION"`
	Params     Params `json:"params"`
	FacilityID string `json:"facility_id" validate:"required,uuid"`
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "Invalid subscription: " + strings.Join(parts, ", ")
}

// ValidateParams checks that p carries what mode needs.
func ValidateParams(mode Mode, p Params) error {
	switch mode {
	case ModePolygon:
		if len(p.Polygon) == 0 {
			return errors.New("polygon is required for POLYGON mode")
		}
		if _, err := geo.ParseArea(p.Polygon); err != nil {
			return fmt.Errorf("invalid polygon: %w", err)
		}
	case ModeBuffer:
		if p.CenterLat == nil || p.CenterLon == nil || p.RadiusKm == nil {
			return errors.New("center_lat, center_lon and radius_km are required for BUFFER mode")
		}
		if !geo.ValidCoordinate(*p.CenterLat, *p.CenterLon) {
			return errors.New("buffer center is not a valid coordinate")
		}
		if *p.RadiusKm <= 0 {
			return errors.New("radius_km must be positive")
		}
	case ModeJurisdiction:
		if len(p.Counties)+len(p.Watersheds)+len(p.MS4s) == 0 {
			return errors.New("at least one county, watershed or MS4 is required for JURISDICTION mode")
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}
