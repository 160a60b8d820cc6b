package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ana@example.org", normalizeEmail("  Ana@Example.ORG "))
}

func TestSessionCookie(t *testing.T) {
	t.Cleanup(func() { secureCookies = false })

	c := sessionCookie("abc", 3600)
	assert.Equal(t, "session_id", c.Name)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	secureCookies = true
	c = sessionCookie("", -1)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	assert.Equal(t, -1, c.MaxAge)
}

func TestRegisterHandler_RejectsBeforeDatabase(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"bad email", `{"email":"not-an-email","password":"longenough"}`},
		{"short password", `{"email":"ana@example.org","password":"short"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RegisterHandler(rec, httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMeHandler_RequiresUser(t *testing.T) {
	rec := httptest.NewRecorder()
	MeHandler(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
