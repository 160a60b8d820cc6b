package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/alerts"
	"github.com/stormwaterwatch/sww-backend/internal/esmr"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/subscriptions"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

type AlertRunner interface {
	Run(ctx context.Context, schedule subscriptions.Schedule) (alerts.RunResult, error)
}

type Recomputer interface {
	Recompute(ctx context.Context, opts violations.RecomputeOptions) (violations.RecomputeResult, error)
}

type Syncer interface {
	Sync(ctx context.Context) (esmr.SyncResult, error)
}

// ErrorReporter is told about failed jobs, typically the Slack client.
type ErrorReporter interface {
	SendError(ctx context.Context, cause error, where string) error
}

// Jobs runs the scheduled work behind the cron endpoints. Errors may be nil.
type Jobs struct {
	Alerts    AlertRunner
	Recompute Recomputer
	ESMR      Syncer
	Errors    ErrorReporter
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	mu      sync.Mutex
	running map[string]*sync.Mutex
}

type jobFunc func(r *http.Request) (any, error)

var errBadRequest = errors.New("bad request")

func (j *Jobs) lock(name string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running == nil {
		j.running = map[string]*sync.Mutex{}
	}
	m, ok := j.running[name]
	if !ok {
		m = &sync.Mutex{}
		j.running[name] = m
	}
	return m
}

// handle runs one job at a time per name and answers
// {"success", "duration", ...result}.
func (j *Jobs) handle(name string, run jobFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := j.lock(name)
		if !m.TryLock() {
			httputil.WriteError(w, http.StatusConflict, fmt.Sprintf("%s job already running", name))
			return
		}
		defer m.Unlock()

		log := j.Logger.With("job", name)
		log.Info("cron job starting")
		start := j.Clock.Now()

		result, err := run(r)
		elapsed := j.Clock.Since(start)
		j.Metrics.CronDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		duration := fmt.Sprintf("%.2fs", elapsed.Seconds())

		if errors.Is(err, errBadRequest) {
			j.Metrics.CronRuns.WithLabelValues(name, "error").Inc()
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			j.Metrics.CronRuns.WithLabelValues(name, "error").Inc()
			log.Error("cron job failed", "duration", duration, "error", err)
			if j.Errors != nil {
				if rerr := j.Errors.SendError(r.Context(), err, name+" cron"); rerr != nil {
					log.Warn("reporting cron failure", "error", rerr)
				}
			}
			httputil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
				"success":  false,
				"duration": duration,
				"error":    err.Error(),
			})
			return
		}

		j.Metrics.CronRuns.WithLabelValues(name, "success").Inc()
		log.Info("cron job finished", "duration", duration)

		body, err := flatten(result)
		if err != nil {
			log.Error("encoding cron result", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to encode result")
			return
		}
		body["success"] = true
		body["duration"] = duration
		httputil.WriteJSON(w, http.StatusOK, body)
	}
}

// flatten turns a result struct into a map so its fields sit next to
// success and duration.
func flatten(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Jobs) daily(r *http.Request) (any, error) {
	return j.Alerts.Run(r.Context(), subscriptions.ScheduleDaily)
}

func (j *Jobs) weekly(r *http.Request) (any, error) {
	return j.Alerts.Run(r.Context(), subscriptions.ScheduleWeekly)
}

func (j *Jobs) recompute(r *http.Request) (any, error) {
	res, err := j.Recompute.Recompute(r.Context(), violations.RecomputeOptions{
		ReportingYear: r.URL.Query().Get("reporting_year"),
	})
	if errors.Is(err, violations.ErrInvalidReportingYear) {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return res, err
}

func (j *Jobs) esmrSync(r *http.Request) (any, error) {
	return j.ESMR.Sync(r.Context())
}
