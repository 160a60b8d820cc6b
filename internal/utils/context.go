package utils

import (
	"context"
	"time"
)

type contextKey string

const (
	ContextUserIDKey contextKey = "userID"
	ContextRoleKey   contextKey = "role"
)

// SessionData is what the session middleware needs from a stored session.
type SessionData struct {
	UserID    string
	ExpiresAt time.Time
}

func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID := ctx.Value(ContextUserIDKey)
	userIDStr, ok := userID.(string)
	return userIDStr, ok && userIDStr != ""
}

// GetRoleFromContext returns the role stored by the admin middleware.
func GetRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(ContextRoleKey).(string)
	return role
}
