package ingest

import (
	"time"

	"github.com/google/uuid"
)

// Provenance records where an uploaded file came from and what it produced.
type Provenance struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Source          string    `gorm:"not null" json:"source"`
	URL             string    `json:"url,omitempty"`
	FileName        string    `json:"file_name,omitempty"`
	Checksum        string    `gorm:"index;not null" json:"checksum"`
	FetchedAt       time.Time `gorm:"not null" json:"fetched_at"`
	UploadedBy      string    `json:"uploaded_by,omitempty"`
	RowsParsed      int       `json:"rows_parsed"`
	SamplesInserted int       `json:"samples_inserted"`
	Notes           string    `json:"notes,omitempty"`
}

func (Provenance) TableName() string { return "stormwater.provenance" }
