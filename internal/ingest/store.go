package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"gorm.io/gorm"
)

type Store interface {
	// WithTx runs fn against a store bound to one transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
	CreateProvenance(ctx context.Context, p *Provenance) error
	UpdateProvenance(ctx context.Context, p *Provenance) error
	// UpsertFacility returns the facility for the sample's permit id and
	// whether it was created.
	UpsertFacility(ctx context.Context, s NormalizedSample, now time.Time) (facilities.Facility, bool, error)
	FindSample(ctx context.Context, facilityID uuid.UUID, pollutant string, day time.Time) (*facilities.Sample, error)
	CreateSample(ctx context.Context, s *facilities.Sample) error
}

type GormStore struct {
	DB *gorm.DB
}

func (s GormStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(GormStore{DB: tx})
	})
}

func (s GormStore) CreateProvenance(ctx context.Context, p *Provenance) error {
	return s.DB.WithContext(ctx).Create(p).Error
}

func (s GormStore) UpdateProvenance(ctx context.Context, p *Provenance) error {
	return s.DB.WithContext(ctx).Model(p).Updates(map[string]any{
		"rows_parsed":      p.RowsParsed,
		"samples_inserted": p.SamplesInserted,
		"notes":            p.Notes,
	}).Error
}

func (s GormStore) UpsertFacility(ctx context.Context, in NormalizedSample, now time.Time) (facilities.Facility, bool, error) {
	var f facilities.Facility
	err := s.DB.WithContext(ctx).First(&f, "permit_id = ?", in.PermitID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		f = facilities.Facility{
			Name:           in.FacilityName,
			PermitID:       in.PermitID,
			County:         in.County,
			ReceivingWater: in.ReceivingWater,
			Lat:            in.Lat,
			Lon:            in.Lon,
			LastSeenAt:     &now,
		}
		if err := s.DB.WithContext(ctx).Create(&f).Error; err != nil {
			return facilities.Facility{}, false, err
		}
		return f, true, nil
	}
	if err != nil {
		return facilities.Facility{}, false, err
	}

	updates := map[string]any{"last_seen_at": now}
	if f.County == "" && in.County != "" {
		updates["county"] = in.County
	}
	if f.ReceivingWater == "" && in.ReceivingWater != "" {
		updates["receiving_water"] = in.ReceivingWater
	}
	if !f.HasLocation() && (in.Lat != 0 || in.Lon != 0) {
		updates["lat"] = in.Lat
		updates["lon"] = in.Lon
	}
	if err := s.DB.WithContext(ctx).Model(&f).Updates(updates).Error; err != nil {
		return facilities.Facility{}, false, err
	}
	return f, false, nil
}

func (s GormStore) FindSample(ctx context.Context, facilityID uuid.UUID, pollutant string, day time.Time) (*facilities.Sample, error) {
	var sample facilities.Sample
	err := s.DB.WithContext(ctx).
		Where("facility_id = ? AND pollutant = ? AND sample_date = ?", facilityID, pollutant, day).
		First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func (s GormStore) CreateSample(ctx context.Context, sample *facilities.Sample) error {
	return s.DB.WithContext(ctx).Create(sample).Error
}
