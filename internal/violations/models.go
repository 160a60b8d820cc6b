package violations

import (
	"time"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
)

// ViolationEvent aggregates the exceedances of one pollutant at one facility
// over a reporting year.
type ViolationEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	FacilityID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_violation_facility_pollutant_year,priority:1" json:"facility_id"`
	Pollutant     string    `gorm:"not null;uniqueIndex:idx_violation_facility_pollutant_year,priority:2;index" json:"pollutant"`
	FirstDate     time.Time `gorm:"type:date;not null" json:"first_date"`
	LastDate      time.Time `gorm:"type:date;not null" json:"last_date"`
	Count         int       `gorm:"not null" json:"count"`
	MaxRatio      float64   `gorm:"type:numeric(10,2);not null;index" json:"max_ratio"`
	ReportingYear string    `gorm:"not null;uniqueIndex:idx_violation_facility_pollutant_year,priority:3;index" json:"reporting_year"`
	ImpairedWater bool      `gorm:"not null;default:false" json:"impaired_water"`
	Dismissed     bool      `gorm:"not null;default:false;index" json:"dismissed"`
	Notes         *string   `json:"notes"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Facility *facilities.Facility `gorm:"foreignKey:FacilityID;constraint:OnDelete:CASCADE" json:"facility,omitempty"`
}

func (ViolationEvent) TableName() string { return "stormwater.violation_events" }

const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityModerate = "MODERATE"
	SeverityLow      = "LOW"
)

// Severity buckets the max exceedance ratio.
func (v ViolationEvent) Severity() string {
	switch {
	case v.MaxRatio >= 10:
		return SeverityCritical
	case v.MaxRatio >= 5:
		return SeverityHigh
	case v.MaxRatio >= 2:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// DaysActive is the inclusive number of days between first and last exceedance.
func (v ViolationEvent) DaysActive() int {
	return int(v.LastDate.Sub(v.FirstDate).Hours()/24) + 1
}
