package cron

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stormwaterwatch/sww-backend/internal/middleware"
)

func SetupRoutes(j *Jobs, secret string, production bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CronAuthMiddleware(secret, production))

	r.Get("/daily", j.handle("daily", j.daily))
	r.Get("/weekly", j.handle("weekly", j.weekly))
	r.Get("/recompute", j.handle("recompute", j.recompute))
	r.Get("/esmr-sync", j.handle("esmr-sync", j.esmrSync))

	return r
}
