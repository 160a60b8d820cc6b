package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/stormwaterwatch/sww-backend/internal/config"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/events"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/logging"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

var Version = "dev"

// app is what every subcommand shares once the database is up.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	publisher events.Publisher
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "stormwatch",
		Short:         "Stormwater Watch maintenance commands",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(recomputeCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(seedPollutantsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// bootstrap loads configuration, connects to the database and initialises
// the modules every command depends on.
func bootstrap(ctx context.Context) (*app, error) {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg)
	slog.SetDefault(logger)

	if err := db.Connect(cfg.DatabaseURL, logger); err != nil {
		return nil, err
	}
	if err := facilities.Init(); err != nil {
		return nil, err
	}
	if err := pollutants.Init(ctx, cfg.PollutantsFile, logger); err != nil {
		return nil, fmt.Errorf("pollutants: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   observability.NewMetrics(),
		publisher: events.NewPublisher(cfg, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("closing event publisher", "error", err)
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
