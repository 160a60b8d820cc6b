package casepacket

import (
	"context"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
	"gorm.io/gorm"
)

type Store interface {
	// Violation returns the event with its facility loaded.
	Violation(ctx context.Context, id uuid.UUID) (violations.ViolationEvent, error)
	// ExceedanceSamples returns the samples behind the event, oldest first.
	ExceedanceSamples(ctx context.Context, ev violations.ViolationEvent) ([]facilities.Sample, error)
}

type GormStore struct {
	DB *gorm.DB
}

func (s GormStore) Violation(ctx context.Context, id uuid.UUID) (violations.ViolationEvent, error) {
	return violations.GormStore{DB: s.DB}.Get(ctx, id)
}

func (s GormStore) ExceedanceSamples(ctx context.Context, ev violations.ViolationEvent) ([]facilities.Sample, error) {
	var out []facilities.Sample
	err := s.DB.WithContext(ctx).
		Where("facility_id = ? AND pollutant = ? AND reporting_year = ?", ev.FacilityID, ev.Pollutant, ev.ReportingYear).
		Where("sample_date BETWEEN ? AND ?", ev.FirstDate, ev.LastDate).
		Where("exceedance_ratio >= 1").
		Order("sample_date ASC").
		Find(&out).Error
	return out, err
}
