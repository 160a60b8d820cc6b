package facilities

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("facility not found")

type ListQuery struct {
	Search string
	County string
	Limit  int
	Offset int
}

type SampleQuery struct {
	Pollutant     string
	ReportingYear string
	Limit         int
}

// ViolationSummary is the slice of a violation event shown on a facility page.
type ViolationSummary struct {
	ID            uuid.UUID `json:"id"`
	Pollutant     string    `json:"pollutant"`
	ReportingYear string    `json:"reporting_year"`
	Count         int       `json:"count"`
	MaxRatio      float64   `json:"max_ratio"`
	FirstDate     time.Time `json:"first_date"`
	LastDate      time.Time `json:"last_date"`
	ImpairedWater bool      `json:"impaired_water"`
	Dismissed     bool      `json:"dismissed"`
}

func (ViolationSummary) TableName() string { return "stormwater.violation_events" }

type Store interface {
	List(ctx context.Context, q ListQuery) ([]Facility, int64, error)
	Get(ctx context.Context, id uuid.UUID) (Facility, error)
	Samples(ctx context.Context, facilityID uuid.UUID, q SampleQuery) ([]Sample, error)
	Violations(ctx context.Context, facilityID uuid.UUID) ([]ViolationSummary, error)
}

type GormStore struct {
	DB *gorm.DB
}

func (s GormStore) List(ctx context.Context, q ListQuery) ([]Facility, int64, error) {
	base := func() *gorm.DB {
		tx := s.DB.WithContext(ctx).Model(&Facility{})
		if q.Search != "" {
			like := "%" + q.Search + "%"
			tx = tx.Where("name ILIKE ? OR permit_id ILIKE ?", like, like)
		}
		if q.County != "" {
			tx = tx.Where("county = ?", q.County)
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []Facility
	err := base().Order("name ASC").Limit(q.Limit).Offset(q.Offset).Find(&out).Error
	return out, total, err
}

func (s GormStore) Get(ctx context.Context, id uuid.UUID) (Facility, error) {
	var f Facility
	err := s.DB.WithContext(ctx).First(&f, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Facility{}, ErrNotFound
	}
	return f, err
}

func (s GormStore) Samples(ctx context.Context, facilityID uuid.UUID, q SampleQuery) ([]Sample, error) {
	tx := s.DB.WithContext(ctx).Where("facility_id = ?", facilityID)
	if q.Pollutant != "" {
		tx = tx.Where("pollutant = ?", q.Pollutant)
	}
	if q.ReportingYear != "" {
		tx = tx.Where("reporting_year = ?", q.ReportingYear)
	}
	var out []Sample
	err := tx.Order("sample_date DESC").Limit(q.Limit).Find(&out).Error
	return out, err
}

func (s GormStore) Violations(ctx context.Context, facilityID uuid.UUID) ([]ViolationSummary, error) {
	var out []ViolationSummary
	err := s.DB.WithContext(ctx).
		Where("facility_id = ?", facilityID).
		Order("reporting_year DESC, max_ratio DESC").
		Find(&out).Error
	return out, err
}
