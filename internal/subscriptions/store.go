package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("subscription not found")

type Store interface {
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	Facility(ctx context.Context, id uuid.UUID) (facilities.Facility, error)
}

type GormStore struct {
	DB *gorm.DB
}

func (s GormStore) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	var out []Subscription
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (s GormStore) Get(ctx context.Context, id uuid.UUID) (Subscription, error) {
	var sub Subscription
	err := s.DB.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Subscription{}, ErrNotFound
	}
	return sub, err
}

func (s GormStore) Create(ctx context.Context, sub *Subscription) error {
	return s.DB.WithContext(ctx).Create(sub).Error
}

// Update applies column updates and reloads sub.
func (s GormStore) Update(ctx context.Context, sub *Subscription, updates map[string]any) error {
	if len(updates) > 0 {
		if err := s.DB.WithContext(ctx).Model(sub).Updates(updates).Error; err != nil {
			return err
		}
	}
	return s.DB.WithContext(ctx).First(sub, "id = ?", sub.ID).Error
}

func (s GormStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.DB.WithContext(ctx).Delete(&Subscription{}, "id = ?", id).Error
}

func (s GormStore) Facility(ctx context.Context, id uuid.UUID) (facilities.Facility, error) {
	var f facilities.Facility
	err := s.DB.WithContext(ctx).First(&f, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return facilities.Facility{}, facilities.ErrNotFound
	}
	return f, err
}
