package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Alert records that one violation was delivered for one subscription.
type Alert struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	SubscriptionID   uuid.UUID `gorm:"type:uuid;not null;index" json:"subscription_id"`
	FacilityID       uuid.UUID `gorm:"type:uuid;not null;index" json:"facility_id"`
	ViolationEventID uuid.UUID `gorm:"type:uuid;not null;index" json:"violation_event_id"`
	Payload          Payload   `gorm:"type:jsonb;serializer:json" json:"payload"`
	SentAt           time.Time `gorm:"not null;index" json:"sent_at"`
}

func (Alert) TableName() string { return "stormwater.alerts" }

type Payload struct {
	SubscriptionName string    `json:"subscription_name"`
	ViolationCount   int       `json:"violation_count"`
	SentAt           time.Time `json:"sent_at"`
}
