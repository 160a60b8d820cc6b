package pollutants

import (
	"time"

	"github.com/lib/pq"
)

// ConfigPollutant maps the many spellings of a pollutant found in uploads to
// one canonical key, unit and annual benchmark (NAL).
type ConfigPollutant struct {
	Key           string         `gorm:"primaryKey" json:"key"`
	DisplayName   string         `gorm:"not null" json:"display_name"`
	Aliases       pq.StringArray `gorm:"type:text[]" json:"aliases"`
	CanonicalUnit string         `gorm:"not null" json:"canonical_unit"`
	Benchmark     *float64       `json:"benchmark,omitempty"`
	BenchmarkUnit string         `json:"benchmark_unit,omitempty"`
	PHMin         *float64       `gorm:"column:ph_min" json:"ph_min,omitempty"`
	PHMax         *float64       `gorm:"column:ph_max" json:"ph_max,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (ConfigPollutant) TableName() string { return "stormwater.config_pollutants" }

// IsRangeBased reports whether exceedance is judged by an acceptable range
// rather than a ratio to a benchmark.
func (p ConfigPollutant) IsRangeBased() bool {
	return p.PHMin != nil || p.PHMax != nil
}
