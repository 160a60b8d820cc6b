package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/auth"
	"github.com/stormwaterwatch/sww-backend/internal/subscriptions"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
	"gorm.io/gorm"
)

// CandidateQuery narrows violations by the subscription's scalar thresholds
// before the spatial matcher runs.
type CandidateQuery struct {
	Since        time.Time
	MinRatio     float64
	MinCount     int
	ImpairedOnly bool
}

type Store interface {
	ActiveSubscriptions(ctx context.Context, schedule subscriptions.Schedule) ([]subscriptions.Subscription, error)
	CandidateViolations(ctx context.Context, q CandidateQuery) ([]violations.ViolationEvent, error)
	Recipient(ctx context.Context, userID string) (email, name string, err error)
	// RecordDelivery stores one alert row per violation and advances the
	// subscription's last run in a single transaction.
	RecordDelivery(ctx context.Context, subID uuid.UUID, evs []violations.ViolationEvent, payload Payload) error
	MarkRun(ctx context.Context, subID uuid.UUID, at time.Time) error
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Alert, error)
}

type GormStore struct {
	DB *gorm.DB
}

func (s GormStore) ActiveSubscriptions(ctx context.Context, schedule subscriptions.Schedule) ([]subscriptions.Subscription, error) {
	var out []subscriptions.Subscription
	err := s.DB.WithContext(ctx).
		Where("active = ? AND schedule = ?", true, schedule).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func (s GormStore) CandidateViolations(ctx context.Context, q CandidateQuery) ([]violations.ViolationEvent, error) {
	tx := s.DB.WithContext(ctx).Preload("Facility").
		Where("dismissed = ?", false).
		Where("created_at >= ?", q.Since).
		Where("max_ratio >= ?", q.MinRatio).
		Where(`"count" >= ?`, q.MinCount)
	if q.ImpairedOnly {
		tx = tx.Where("impaired_water = ?", true)
	}

	var out []violations.ViolationEvent
	err := tx.Order("max_ratio DESC").Find(&out).Error
	return out, err
}

func (s GormStore) Recipient(ctx context.Context, userID string) (string, string, error) {
	var u auth.User
	if err := s.DB.WithContext(ctx).Select("email", "name").First(&u, "user_id = ?", userID).Error; err != nil {
		return "", "", err
	}
	return u.Email, u.Name, nil
}

func (s GormStore) RecordDelivery(ctx context.Context, subID uuid.UUID, evs []violations.ViolationEvent, payload Payload) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := make([]Alert, 0, len(evs))
		for _, v := range evs {
			rows = append(rows, Alert{
				SubscriptionID:   subID,
				FacilityID:       v.FacilityID,
				ViolationEventID: v.ID,
				Payload:          payload,
				SentAt:           payload.SentAt,
			})
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}
		return tx.Model(&subscriptions.Subscription{}).
			Where("id = ?", subID).
			Update("last_run_at", payload.SentAt).Error
	})
}

func (s GormStore) MarkRun(ctx context.Context, subID uuid.UUID, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&subscriptions.Subscription{}).
		Where("id = ?", subID).
		Update("last_run_at", at).Error
}

// ListForUser returns the most recent alerts across the user's subscriptions.
func (s GormStore) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Alert, error) {
	owned := s.DB.Model(&subscriptions.Subscription{}).Select("id").Where("user_id = ?", userID)
	var out []Alert
	err := s.DB.WithContext(ctx).
		Where("subscription_id IN (?)", owned).
		Order("sent_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}
