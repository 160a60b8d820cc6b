package esmr

import (
	"time"

	"github.com/google/uuid"
)

// Schema holds the raw eSMR dimension and sample tables.
const Schema = "esmr"

type Qualifier string

const (
	QualifierDetected              Qualifier = "DETECTED"
	QualifierLessThan              Qualifier = "LESS_THAN"
	QualifierGreaterThan           Qualifier = "GREATER_THAN"
	QualifierNotDetected           Qualifier = "NOT_DETECTED"
	QualifierDetectedNotQuantified Qualifier = "DETECTED_NOT_QUANTIFIED"
)

type LocationType string

const (
	LocationEffluent       LocationType = "EFFLUENT_MONITORING"
	LocationInfluent       LocationType = "INFLUENT_MONITORING"
	LocationReceivingWater LocationType = "RECEIVING_WATER_MONITORING"
	LocationRecycledWater  LocationType = "RECYCLED_WATER_MONITORING"
	LocationInternal       LocationType = "INTERNAL_MONITORING"
	LocationGroundwater    LocationType = "GROUNDWATER_MONITORING"
)

// Region is a Regional Water Quality Control Board, keyed "R2", "R5F", ...
type Region struct {
	Code      string    `gorm:"primaryKey" json:"code"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Region) TableName() string { return "esmr.regions" }

type Facility struct {
	FacilityPlaceID    int64     `gorm:"primaryKey;autoIncrement:false" json:"facility_place_id"`
	FacilityName       string    `gorm:"not null;index" json:"facility_name"`
	RegionCode         string    `gorm:"not null;index" json:"region_code"`
	ReceivingWaterBody *string   `json:"receiving_water_body"`
	CreatedAt          time.Time `json:"created_at"`
	LastSeenAt         time.Time `json:"last_seen_at"`

	Region *Region `gorm:"foreignKey:RegionCode;references:Code" json:"region,omitempty"`
}

func (Facility) TableName() string { return "esmr.facilities" }

type Location struct {
	LocationPlaceID int64        `gorm:"primaryKey;autoIncrement:false" json:"location_place_id"`
	FacilityPlaceID int64        `gorm:"not null;index" json:"facility_place_id"`
	LocationCode    string       `gorm:"not null" json:"location_code"`
	LocationType    LocationType `gorm:"not null;index" json:"location_type"`
	Latitude        *float64     `json:"latitude"`
	Longitude       *float64     `json:"longitude"`
	LocationDesc    *string      `json:"location_desc"`
	CreatedAt       time.Time    `json:"created_at"`
	LastSeenAt      time.Time    `json:"last_seen_at"`

	Facility *Facility `gorm:"foreignKey:FacilityPlaceID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Location) TableName() string { return "esmr.locations" }

type Parameter struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParameterName string    `gorm:"uniqueIndex;not null" json:"parameter_name"`
	Category      *string   `gorm:"index" json:"category"`
	CanonicalKey  *string   `gorm:"index" json:"canonical_key"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Parameter) TableName() string { return "esmr.parameters" }

type AnalyticalMethod struct {
	MethodCode string    `gorm:"primaryKey" json:"method_code"`
	MethodName string    `gorm:"not null" json:"method_name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AnalyticalMethod) TableName() string { return "esmr.analytical_methods" }

// Sample is one reported analytical result. A result is unique per location,
// parameter, sampling date and time, and SMR document.
type Sample struct {
	ID                      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LocationPlaceID         int64      `gorm:"not null;uniqueIndex:idx_esmr_samples_natural,priority:1;index" json:"location_place_id"`
	ParameterID             uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_esmr_samples_natural,priority:2;index" json:"parameter_id"`
	AnalyticalMethodCode    *string    `json:"analytical_method_code"`
	CalculatedMethod        *string    `json:"calculated_method"`
	SamplingDate            time.Time  `gorm:"type:date;not null;uniqueIndex:idx_esmr_samples_natural,priority:3;index" json:"sampling_date"`
	SamplingTime            string     `gorm:"type:varchar(8);not null;uniqueIndex:idx_esmr_samples_natural,priority:4" json:"sampling_time"`
	AnalysisDate            *time.Time `gorm:"type:date" json:"analysis_date"`
	AnalysisTime            *string    `gorm:"type:varchar(8)" json:"analysis_time"`
	Qualifier               Qualifier  `gorm:"not null;index" json:"qualifier"`
	Result                  *float64   `json:"result"`
	Units                   string     `gorm:"not null" json:"units"`
	MDL                     *float64   `gorm:"column:mdl" json:"mdl"`
	ML                      *float64   `gorm:"column:ml" json:"ml"`
	RL                      *float64   `gorm:"column:rl" json:"rl"`
	ReviewPriorityIndicator *bool      `json:"review_priority_indicator"`
	QACodes                 *string    `gorm:"column:qa_codes" json:"qa_codes"`
	Comments                *string    `json:"comments"`
	ReportName              string     `json:"report_name"`
	SMRDocumentID           int64      `gorm:"column:smr_document_id;not null;uniqueIndex:idx_esmr_samples_natural,priority:5" json:"smr_document_id"`
	CreatedAt               time.Time  `json:"created_at"`

	Location  *Location  `gorm:"foreignKey:LocationPlaceID;constraint:OnDelete:CASCADE" json:"-"`
	Parameter *Parameter `gorm:"foreignKey:ParameterID" json:"-"`
}

func (Sample) TableName() string { return "esmr.samples" }

type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobDownloading JobStatus = "downloading"
	JobParsing     JobStatus = "parsing"
	JobImporting   JobStatus = "importing"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
)

// ImportJob tracks a background bulk import started over HTTP.
type ImportJob struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Status    JobStatus  `gorm:"not null;index" json:"status"`
	Source    string     `json:"source"`
	DryRun    bool       `json:"dry_run"`
	Stats     Stats      `gorm:"type:jsonb;serializer:json" json:"stats"`
	Error     *string    `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (ImportJob) TableName() string { return "esmr.import_jobs" }
