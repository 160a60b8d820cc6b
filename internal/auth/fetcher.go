package auth

import (
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/utils"
)

// SessionInfo resolves session cookies and roles for the middleware.
type SessionInfo struct{}

func (SessionInfo) FindSessionByID(id string) (utils.SessionData, error) {
	var session Session

	err := db.DB.First(&session, "session_id = ?", id).Error
	if err != nil {
		return utils.SessionData{}, err
	}

	return utils.SessionData{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (SessionInfo) FindUserRole(userID string) (string, error) {
	var user User
	if err := db.DB.Select("role").First(&user, "user_id = ?", userID).Error; err != nil {
		return "", err
	}
	return user.Role, nil
}
