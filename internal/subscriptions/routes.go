package subscriptions

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stormwaterwatch/sww-backend/internal/middleware"
)

func SetupRoutes(fetcher middleware.SessionFetcher, runner Runner) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(fetcher))

		r.Get("/", ListSubscriptions)
		r.Post("/", CreateSubscription)
		r.Post("/test-match", TestMatchSubscription)
		r.Get("/{subscription_id}", GetSubscription)
		r.Patch("/{subscription_id}", UpdateSubscription)
		r.Delete("/{subscription_id}", DeleteSubscription)
		r.Post("/{subscription_id}/send", SendSubscription(runner))
	})

	return r
}
