package enrichment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"gorm.io/gorm"
)

// Update is written back to one facility after a lookup.
type Update struct {
	Fields
	Lat        *float64
	Lon        *float64
	EnrichedAt time.Time
}

type Status struct {
	Total           int64 `json:"total"`
	Enriched        int64 `json:"enriched"`
	Unenriched      int64 `json:"unenriched"`
	PercentEnriched int   `json:"percent_enriched"`
	Fields          struct {
		County int64 `json:"county"`
		HUC12  int64 `json:"huc12"`
		MS4    int64 `json:"ms4"`
		DAC    int64 `json:"dac"`
	} `json:"fields"`
}

type Store interface {
	Candidates(ctx context.Context, opts Options) ([]facilities.Facility, error)
	Apply(ctx context.Context, id uuid.UUID, u Update) error
	Status(ctx context.Context) (Status, error)
}

type GormStore struct {
	DB *gorm.DB
}

// Candidates returns the requested facilities, every facility when forced,
// or those never enriched.
func (s GormStore) Candidates(ctx context.Context, opts Options) ([]facilities.Facility, error) {
	tx := s.DB.WithContext(ctx).Model(&facilities.Facility{}).Order("created_at ASC")
	switch {
	case len(opts.FacilityIDs) > 0:
		tx = tx.Where("id IN ?", opts.FacilityIDs)
	case !opts.Force:
		tx = tx.Where("enriched_at IS NULL")
	}
	var out []facilities.Facility
	return out, tx.Find(&out).Error
}

func (s GormStore) Apply(ctx context.Context, id uuid.UUID, u Update) error {
	cols := map[string]any{"enriched_at": u.EnrichedAt}
	if u.County != nil {
		cols["county"] = *u.County
	}
	if u.WatershedHUC12 != nil {
		cols["watershed_huc12"] = *u.WatershedHUC12
	}
	if u.MS4 != nil {
		cols["ms4"] = *u.MS4
	}
	if u.IsInDAC != nil {
		cols["is_in_dac"] = *u.IsInDAC
	}
	if u.Lat != nil && u.Lon != nil {
		cols["lat"] = *u.Lat
		cols["lon"] = *u.Lon
	}
	return s.DB.WithContext(ctx).Model(&facilities.Facility{}).Where("id = ?", id).Updates(cols).Error
}

func (s GormStore) Status(ctx context.Context) (Status, error) {
	var row struct {
		Total    int64
		Enriched int64
		County   int64
		HUC12    int64 `gorm:"column:huc12"`
		MS4      int64 `gorm:"column:ms4"`
		DAC      int64
	}
	err := s.DB.WithContext(ctx).Model(&facilities.Facility{}).Select(`
		COUNT(*) AS total,
		COUNT(enriched_at) AS enriched,
		COUNT(NULLIF(county, '')) AS county,
		COUNT(NULLIF(watershed_huc12, '')) AS huc12,
		COUNT(NULLIF(ms4, '')) AS ms4,
		COUNT(*) FILTER (WHERE is_in_dac) AS dac`).
		Scan(&row).Error
	if err != nil {
		return Status{}, err
	}

	st := Status{Total: row.Total, Enriched: row.Enriched, Unenriched: row.Total - row.Enriched}
	if row.Total > 0 {
		st.PercentEnriched = int((row.Enriched*100 + row.Total/2) / row.Total)
	}
	st.Fields.County = row.County
	st.Fields.HUC12 = row.HUC12
	st.Fields.MS4 = row.MS4
	st.Fields.DAC = row.DAC
	return st, nil
}
