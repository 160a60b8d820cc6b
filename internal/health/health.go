package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 3 * time.Second

// CheckFunc reports whether one dependency is reachable.
type CheckFunc func(ctx context.Context) error

type response struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp string            `json:"timestamp"`
}

// Handler runs every check concurrently and answers 503 when any is down.
func Handler(checks map[string]CheckFunc, clock clockwork.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		res := response{Status: "healthy", Services: make(map[string]string, len(checks))}
		var mu sync.Mutex
		var g errgroup.Group
		for name, check := range checks {
			name, check := name, check
			g.Go(func() error {
				state := "up"
				if err := check(ctx); err != nil {
					state = "down"
				}
				mu.Lock()
				res.Services[name] = state
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		code := http.StatusOK
		for _, state := range res.Services {
			if state != "up" {
				res.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}
		res.Timestamp = clock.Now().UTC().Format(time.RFC3339)
		httputil.WriteJSON(w, code, res)
	}
}
