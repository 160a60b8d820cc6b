package violations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store interface {
	// QualifyingSamples returns samples of one reporting year whose ratio is at
	// least minRatio plus every ratio-less pH sample, with facilities loaded.
	QualifyingSamples(ctx context.Context, year string, facilityID *uuid.UUID, minRatio float64) ([]facilities.Sample, error)
	UpsertEvent(ctx context.Context, ev *ViolationEvent) error
	List(ctx context.Context, f Filter) ([]ViolationEvent, int64, error)
	Options(ctx context.Context) (FilterOptions, error)
	// Active returns every non-dismissed event with its facility.
	Active(ctx context.Context) ([]ViolationEvent, error)
	Get(ctx context.Context, id uuid.UUID) (ViolationEvent, error)
	SetDismissed(ctx context.Context, id uuid.UUID, dismissed bool, notes *string) error
}

type GormStore struct {
	DB *gorm.DB
}

func (s GormStore) QualifyingSamples(ctx context.Context, year string, facilityID *uuid.UUID, minRatio float64) ([]facilities.Sample, error) {
	tx := s.DB.WithContext(ctx).
		Preload("Facility").
		Where("reporting_year = ?", year).
		Where("(exceedance_ratio >= ? OR (exceedance_ratio IS NULL AND pollutant = ?))", minRatio, pollutants.PHKey)
	if facilityID != nil {
		tx = tx.Where("facility_id = ?", *facilityID)
	}
	var out []facilities.Sample
	err := tx.Order("sample_date ASC").Find(&out).Error
	return out, err
}

// UpsertEvent inserts or refreshes the event for (facility, pollutant, year).
// first_date, dismissal state and notes survive a refresh.
func (s GormStore) UpsertEvent(ctx context.Context, ev *ViolationEvent) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "facility_id"}, {Name: "pollutant"}, {Name: "reporting_year"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_date", "count", "max_ratio", "impaired_water", "updated_at"}),
	}).Create(ev).Error
}

func (s GormStore) List(ctx context.Context, f Filter) ([]ViolationEvent, int64, error) {
	base := func() *gorm.DB {
		tx := s.DB.WithContext(ctx).Model(&ViolationEvent{})
		if f.HideDismissed {
			tx = tx.Where("dismissed = ?", false)
		}
		if len(f.Pollutants) > 0 {
			tx = tx.Where("pollutant IN ?", f.Pollutants)
		}
		if len(f.Years) > 0 {
			tx = tx.Where("reporting_year IN ?", f.Years)
		}
		if f.MinRatio != nil {
			tx = tx.Where("max_ratio >= ?", *f.MinRatio)
		}
		if f.ImpairedOnly {
			tx = tx.Where("impaired_water = ?", true)
		}
		if f.DateFrom != nil {
			tx = tx.Where("created_at >= ?", *f.DateFrom)
		}
		if f.DateTo != nil {
			tx = tx.Where("created_at <= ?", *f.DateTo)
		}
		if f.hasFacilityFilter() {
			sub := s.DB.Model(&facilities.Facility{}).Select("id")
			if len(f.Counties) > 0 {
				sub = sub.Where("county IN ?", f.Counties)
			}
			if len(f.HUC12s) > 0 {
				sub = sub.Where("watershed_huc12 IN ?", f.HUC12s)
			}
			if len(f.MS4s) > 0 {
				sub = sub.Where("ms4 IN ?", f.MS4s)
			}
			tx = tx.Where("facility_id IN (?)", sub)
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []ViolationEvent
	err := base().Preload("Facility").
		Order("max_ratio DESC").
		Limit(f.Limit).Offset(f.Offset).
		Find(&out).Error
	return out, total, err
}

func (s GormStore) Options(ctx context.Context) (FilterOptions, error) {
	var opts FilterOptions
	db := s.DB.WithContext(ctx)

	if err := db.Model(&ViolationEvent{}).Distinct().Order("pollutant ASC").Pluck("pollutant", &opts.Pollutants).Error; err != nil {
		return opts, err
	}
	if err := db.Model(&ViolationEvent{}).Distinct().Order("reporting_year DESC").Pluck("reporting_year", &opts.Years).Error; err != nil {
		return opts, err
	}
	for col, dst := range map[string]*[]string{
		"county":          &opts.Counties,
		"watershed_huc12": &opts.HUC12s,
		"ms4":             &opts.MS4s,
	} {
		err := db.Model(&facilities.Facility{}).
			Where(col+" IS NOT NULL AND "+col+" <> ''").
			Distinct().Order(col+" ASC").
			Pluck(col, dst).Error
		if err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func (s GormStore) Active(ctx context.Context) ([]ViolationEvent, error) {
	var out []ViolationEvent
	err := s.DB.WithContext(ctx).Preload("Facility").Where("dismissed = ?", false).Find(&out).Error
	return out, err
}

func (s GormStore) Get(ctx context.Context, id uuid.UUID) (ViolationEvent, error) {
	var ev ViolationEvent
	err := s.DB.WithContext(ctx).Preload("Facility").First(&ev, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ViolationEvent{}, ErrNotFound
	}
	return ev, err
}

func (s GormStore) SetDismissed(ctx context.Context, id uuid.UUID, dismissed bool, notes *string) error {
	res := s.DB.WithContext(ctx).Model(&ViolationEvent{}).Where("id = ?", id).
		Updates(map[string]any{"dismissed": dismissed, "notes": notes})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
