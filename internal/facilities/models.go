package facilities

import (
	"time"

	"github.com/google/uuid"
)

// Facility is a permitted industrial site that reports stormwater samples.
type Facility struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Name                string     `gorm:"not null" json:"name"`
	PermitID            string     `gorm:"uniqueIndex;not null" json:"permit_id"`
	County              string     `gorm:"index" json:"county,omitempty"`
	WatershedHUC12      string     `gorm:"column:watershed_huc12;index" json:"watershed_huc12,omitempty"`
	MS4                 string     `gorm:"column:ms4;index" json:"ms4,omitempty"`
	Lat                 float64    `json:"lat"`
	Lon                 float64    `json:"lon"`
	ReceivingWater      string     `json:"receiving_water,omitempty"`
	IsInDAC             bool       `gorm:"column:is_in_dac;not null;default:false" json:"is_in_dac"`
	ESMRFacilityPlaceID *int64     `gorm:"column:esmr_facility_place_id;index" json:"esmr_facility_place_id,omitempty"`
	LastSeenAt          *time.Time `json:"last_seen_at,omitempty"`
	EnrichedAt          *time.Time `gorm:"index" json:"enriched_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (Facility) TableName() string { return "stormwater.facilities" }

// HasLocation reports whether the facility carries usable coordinates.
func (f Facility) HasLocation() bool {
	return !(f.Lat == 0 && f.Lon == 0)
}

// Sample is one laboratory result for one pollutant at one facility.
type Sample struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	FacilityID      uuid.UUID `gorm:"type:uuid;not null;index:idx_samples_facility_pollutant_date,priority:1" json:"facility_id"`
	Pollutant       string    `gorm:"not null;index:idx_samples_facility_pollutant_date,priority:2" json:"pollutant"`
	SampleDate      time.Time `gorm:"type:date;not null;index:idx_samples_facility_pollutant_date,priority:3" json:"sample_date"`
	Value           float64   `gorm:"not null" json:"value"`
	Unit            string    `gorm:"not null" json:"unit"`
	Benchmark       float64   `json:"benchmark"`
	BenchmarkUnit   string    `json:"benchmark_unit"`
	ExceedanceRatio *float64  `gorm:"index" json:"exceedance_ratio"`
	ReportingYear   string    `gorm:"not null;index" json:"reporting_year"`
	Source          string    `json:"source"`
	SourceDocURL    string    `json:"source_doc_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	Facility *Facility `gorm:"foreignKey:FacilityID;constraint:OnDelete:CASCADE" json:"facility,omitempty"`
}

func (Sample) TableName() string { return "stormwater.samples" }
