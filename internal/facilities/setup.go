package facilities

import (
	"fmt"

	"github.com/stormwaterwatch/sww-backend/internal/db"
)

var store Store = GormStore{}

func Init() error {
	if err := db.EnsureSchema(db.DB, db.Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", db.Schema, err)
	}
	if err := db.EnsureUUIDExtension(db.DB); err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	if err := db.DB.AutoMigrate(&Facility{}, &Sample{}); err != nil {
		return fmt.Errorf("auto-migrate facility tables: %w", err)
	}

	store = GormStore{DB: db.DB}
	return nil
}
