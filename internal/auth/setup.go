package auth

import (
	"fmt"

	"github.com/stormwaterwatch/sww-backend/internal/db"
)

// secureCookies marks session cookies Secure and SameSite=None for
// cross-site deployments. Local development keeps them plain.
var secureCookies bool

func Init(production bool) error {
	if err := db.EnsureSchema(db.DB, "app_auth"); err != nil {
		return fmt.Errorf("ensure schema app_auth: %w", err)
	}

	if err := db.DB.AutoMigrate(&User{}, &Session{}); err != nil {
		return fmt.Errorf("auto-migrate auth tables: %w", err)
	}

	secureCookies = production
	return nil
}
