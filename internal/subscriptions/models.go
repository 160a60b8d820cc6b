package subscriptions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModePolygon      Mode = "POLYGON"
	ModeBuffer       Mode = "BUFFER"
	ModeJurisdiction Mode = "JURISDICTION"
)

type Schedule string

const (
	ScheduleDaily  Schedule = "DAILY"
	ScheduleWeekly Schedule = "WEEKLY"
)

type Delivery string

const (
	DeliveryEmail Delivery = "EMAIL"
	DeliverySlack Delivery = "SLACK"
	DeliveryBoth  Delivery = "BOTH"
)

// WantsEmail reports whether alerts go out by email.
func (d Delivery) WantsEmail() bool { return d == DeliveryEmail || d == DeliveryBoth }

// WantsSlack reports whether alerts go out to Slack.
func (d Delivery) WantsSlack() bool { return d == DeliverySlack || d == DeliveryBoth }

// Params holds the area definition for whichever mode is selected.
type Params struct {
	// POLYGON: a GeoJSON Polygon/MultiPolygon, Feature or FeatureCollection.
	Polygon json.RawMessage `json:"polygon,omitempty"`

	// BUFFER
	CenterLat *float64 `json:"center_lat,omitempty"`
	CenterLon *float64 `json:"center_lon,omitempty"`
	RadiusKm  *float64 `json:"radius_km,omitempty"`

	// JURISDICTION
	Counties   []string `json:"counties,omitempty"`
	Watersheds []string `json:"watersheds,omitempty"`
	MS4s       []string `json:"ms4s,omitempty"`
}

type Subscription struct {
	ID                      uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	UserID                  string     `gorm:"not null;index" json:"user_id"`
	Name                    string     `gorm:"not null" json:"name"`
	Mode                    Mode       `gorm:"type:text;not null" json:"mode"`
	Params                  Params     `gorm:"type:jsonb;serializer:json;not null" json:"params"`
	MinRatio                float64    `gorm:"type:numeric(10,2);not null;default:1.0" json:"min_ratio"`
	RepeatOffenderThreshold int        `gorm:"not null;default:2" json:"repeat_offender_threshold"`
	ImpairedOnly            bool       `gorm:"not null;default:false" json:"impaired_only"`
	Schedule                Schedule   `gorm:"type:text;not null;index" json:"schedule"`
	Delivery                Delivery   `gorm:"type:text;not null" json:"delivery"`
	Active                  bool       `gorm:"not null;default:true;index" json:"active"`
	LastRunAt               *time.Time `json:"last_run_at"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string { return "stormwater.subscriptions" }
