package auth

import "time"

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// sessionTTL is how long a login stays valid.
const sessionTTL = 7 * 24 * time.Hour

type Session struct {
	SessionID string    `gorm:"primaryKey" json:"-"`
	UserID    string    `gorm:"not null;unique" json:"-"`
	ExpiresAt time.Time `gorm:"not null"`
}

type User struct {
	UserID         string    `gorm:"primaryKey" json:"user_id"`
	Email          string    `gorm:"uniqueIndex;not null" json:"email"`
	Name           string    `json:"name"`
	HashedPassword string    `gorm:"not null" json:"-"`
	Role           string    `gorm:"default:'USER'" json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	Session        Session   `gorm:"foreignKey:UserID" json:"-"`
}

func (Session) TableName() string { return "app_auth.sessions" }
func (User) TableName() string    { return "app_auth.users" }
