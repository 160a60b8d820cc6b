package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronAuthMiddleware requires "Authorization: Bearer <secret>" on scheduled
// job endpoints. Outside production an empty secret leaves them open.
func CronAuthMiddleware(secret string, production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				if production {
					http.Error(w, "Cron secret not configured", http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
