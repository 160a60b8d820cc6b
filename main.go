package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stormwaterwatch/sww-backend/internal/alerts"
	"github.com/stormwaterwatch/sww-backend/internal/auth"
	"github.com/stormwaterwatch/sww-backend/internal/casepacket"
	"github.com/stormwaterwatch/sww-backend/internal/config"
	"github.com/stormwaterwatch/sww-backend/internal/cron"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/enrichment"
	"github.com/stormwaterwatch/sww-backend/internal/esmr"
	"github.com/stormwaterwatch/sww-backend/internal/events"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/health"
	"github.com/stormwaterwatch/sww-backend/internal/ingest"
	"github.com/stormwaterwatch/sww-backend/internal/logging"
	"github.com/stormwaterwatch/sww-backend/internal/middleware"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
	"github.com/stormwaterwatch/sww-backend/internal/subscriptions"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	if err := db.Connect(cfg.DatabaseURL, logger); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	publisher := events.NewPublisher(cfg, logger)
	router, esmrService, err := setup(cfg, logger, metrics, publisher)
	if err != nil {
		logger.Error("failed to initialize modules", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	// Import jobs write their final status through the database, so they
	// stop before it closes.
	if err := esmrService.Jobs.Shutdown(shutdownCtx); err != nil {
		logger.Error("esmr import jobs did not stop in time", "error", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Error("event publisher close error", "error", err)
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("shutdown complete")
}

// setup initialises every module in dependency order and mounts its routes.
func setup(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, publisher events.Publisher) (http.Handler, *esmr.Service, error) {
	ctx := context.Background()

	if err := facilities.Init(); err != nil {
		return nil, nil, err
	}
	if err := pollutants.Init(ctx, cfg.PollutantsFile, logger); err != nil {
		return nil, nil, fmt.Errorf("pollutants: %w", err)
	}
	if _, err := ingest.Init(logger, metrics); err != nil {
		return nil, nil, err
	}
	detector, err := violations.Init(publisher, logger, metrics)
	if err != nil {
		return nil, nil, err
	}
	if err := subscriptions.Init(logger); err != nil {
		return nil, nil, err
	}
	dispatcher, slackClient, err := alerts.Init(cfg, logger, metrics)
	if err != nil {
		return nil, nil, err
	}
	if err := auth.Init(cfg.IsProduction()); err != nil {
		return nil, nil, err
	}
	esmrService, err := esmr.Init(cfg, logger, metrics)
	if err != nil {
		return nil, nil, err
	}
	enrichment.Init(cfg, logger)
	casepacket.Init(logger)

	jobs := &cron.Jobs{
		Alerts:    dispatcher,
		Recompute: detector,
		ESMR:      esmrService.Syncer,
		Clock:     clockwork.NewRealClock(),
		Logger:    logger,
		Metrics:   metrics,
	}
	if slackClient != nil {
		jobs.Errors = slackClient
	}

	sessions := auth.SessionInfo{}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{
		Logger:  logging.StdLogger(logger, slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.Get("/", RootHandler)
	r.Get("/health", health.Handler(map[string]health.CheckFunc{"database": db.Ping}, clockwork.NewRealClock()))
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/cron", cron.SetupRoutes(jobs, cfg.CronSecret, cfg.IsProduction()))

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Mount("/auth", auth.SetupRoutes())
		r.Mount("/pollutants", pollutants.SetupRoutes())
		r.Mount("/facilities", facilities.SetupRoutes())
		r.Mount("/ingest", ingest.SetupRoutes(sessions))
		r.Mount("/violations", violations.SetupRoutes(sessions))
		r.Mount("/subscriptions", subscriptions.SetupRoutes(sessions, dispatcher))
		r.Mount("/alerts", alerts.SetupRoutes(sessions))
		r.Mount("/esmr", esmr.SetupRoutes())
		r.Mount("/import/esmr", esmr.SetupImportRoutes(sessions))
		r.Mount("/admin/facility-link", esmr.SetupLinkRoutes(sessions))
		r.Mount("/enrichment", enrichment.SetupRoutes(sessions))
		r.Get("/mapbox-token", enrichment.GetMapboxToken)
		r.Mount("/case-packet", casepacket.SetupRoutes())
	})

	return r, esmrService, nil
}
