package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"github.com/stormwaterwatch/sww-backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var validate = validator.New()

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"max=200"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type MeResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// sessionCookie builds the session_id cookie. maxAge < 0 clears it.
func sessionCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     "session_id",
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if secureCookies {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

func RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "A valid email and a password of at least 8 characters are required")
		return
	}

	var existing User
	err := db.DB.First(&existing, "email = ?", req.Email).Error
	if err == nil {
		httputil.WriteError(w, http.StatusConflict, "Email already registered")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Server error hashing password")
		return
	}

	user := User{
		UserID:         uuid.NewString(),
		Email:          req.Email,
		Name:           strings.TrimSpace(req.Name),
		HashedPassword: string(hashed),
		Role:           RoleUser,
	}
	if err := db.DB.Create(&user).Error; err != nil {
		if db.IsUniqueViolation(err) {
			httputil.WriteError(w, http.StatusConflict, "Email already registered")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"user_id": user.UserID,
		"email":   user.Email,
	})
}

// LoginHandler checks credentials and replaces any existing session for the
// user with a fresh one.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid data")
		return
	}

	var user User
	if err := db.DB.First(&user, "email = ?", normalizeEmail(req.Email)).Error; err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	sessionID := uuid.NewString()
	expires := time.Now().Add(sessionTTL)

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.UserID).Delete(&Session{}).Error; err != nil {
			return err
		}
		return tx.Create(&Session{SessionID: sessionID, UserID: user.UserID, ExpiresAt: expires}).Error
	})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	http.SetCookie(w, sessionCookie(sessionID, int(sessionTTL.Seconds())))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"user_id": user.UserID,
		"email":   user.Email,
		"name":    user.Name,
		"role":    user.Role,
	})
}

func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("session_id")
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "Couldn't find cookie")
		return
	}

	if err := db.DB.Where("session_id = ?", cookie.Value).Delete(&Session{}).Error; err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}

	http.SetCookie(w, sessionCookie("", -1))
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var user User
	if err := db.DB.First(&user, "user_id = ?", userID).Error; err != nil {
		httputil.WriteError(w, http.StatusNotFound, "Couldn't find user")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MeResponse{
		UserID: user.UserID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	})
}

// UpdatePasswordHandler requires the current password before storing a new hash.
func UpdatePasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
	}

	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Current and new password are required")
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "New password must be at least 8 characters")
		return
	}

	var user User
	if err := db.DB.First(&user, "user_id = ?", userID).Error; err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "Couldn't find user")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.CurrentPassword)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid current password")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Server error hashing password")
		return
	}
	if err := db.DB.Model(&user).Update("hashed_password", string(hashed)).Error; err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
