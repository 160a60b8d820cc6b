package subscriptions

import (
	"fmt"
	"log/slog"

	"github.com/stormwaterwatch/sww-backend/internal/db"
)

var (
	store  Store = GormStore{}
	logger       = slog.Default()
)

func Init(log *slog.Logger) error {
	if err := db.DB.AutoMigrate(&Subscription{}); err != nil {
		return fmt.Errorf("auto-migrate subscriptions: %w", err)
	}
	store = GormStore{DB: db.DB}
	logger = log
	return nil
}
