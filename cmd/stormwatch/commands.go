package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stormwaterwatch/sww-backend/internal/alerts"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/enrichment"
	"github.com/stormwaterwatch/sww-backend/internal/ingest"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
	"github.com/stormwaterwatch/sww-backend/internal/subscriptions"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

func ingestCmd() *cobra.Command {
	var sourceURL string
	var recompute bool

	cmd := &cobra.Command{
		Use:   "ingest [csv-file]",
		Short: "Load a CIWQS/SMARTS sample export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := ingest.Init(a.logger, a.metrics)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := svc.Ingest(ctx, f, ingest.Options{
				SourceURL:  sourceURL,
				FileName:   filepath.Base(args[0]),
				UploadedBy: "cli",
			})
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}

			if !recompute {
				return nil
			}
			detector, err := violations.Init(a.publisher, a.logger, a.metrics)
			if err != nil {
				return err
			}
			rec, err := detector.Recompute(ctx, violations.RecomputeOptions{})
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}

	cmd.Flags().StringVar(&sourceURL, "source-url", "", "URL the export was downloaded from")
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Recompute violations after loading")
	return cmd
}

func recomputeCmd() *cobra.Command {
	var year, facility string

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild violation events from stored samples",
		Long: `Rebuild violation events from stored samples.

Without --year the previous and current reporting years are recomputed.

Examples:
  stormwatch recompute
  stormwatch recompute --year 2025-2026 --facility 6f1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := violations.RecomputeOptions{ReportingYear: year}
			if facility != "" {
				id, err := uuid.Parse(facility)
				if err != nil {
					return fmt.Errorf("invalid --facility: %w", err)
				}
				opts.FacilityID = &id
			}

			detector, err := violations.Init(a.publisher, a.logger, a.metrics)
			if err != nil {
				return err
			}
			res, err := detector.Recompute(ctx, opts)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&year, "year", "", "Reporting year, e.g. 2025-2026")
	cmd.Flags().StringVar(&facility, "facility", "", "Limit to one facility id")
	return cmd
}

func alertsCmd() *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Send alerts for one subscription schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched := subscriptions.Schedule(strings.ToUpper(schedule))
			if sched != subscriptions.ScheduleDaily && sched != subscriptions.ScheduleWeekly {
				return fmt.Errorf("--schedule must be daily or weekly, got %q", schedule)
			}

			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := violations.Init(a.publisher, a.logger, a.metrics); err != nil {
				return err
			}
			if err := subscriptions.Init(a.logger); err != nil {
				return err
			}
			dispatcher, _, err := alerts.Init(a.cfg, a.logger, a.metrics)
			if err != nil {
				return err
			}
			res, err := dispatcher.Run(ctx, sched)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "daily", "daily or weekly")
	return cmd
}

func enrichCmd() *cobra.Command {
	var (
		ids      []string
		datasets []string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fill county, watershed, MS4 and DAC fields from boundary layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := enrichment.Options{Force: force, Datasets: datasets}
			for _, s := range ids {
				id, err := uuid.Parse(s)
				if err != nil {
					return fmt.Errorf("invalid facility id %q: %w", s, err)
				}
				opts.FacilityIDs = append(opts.FacilityIDs, id)
			}

			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			enricher := enrichment.Init(a.cfg, a.logger)
			if len(enricher.Datasets().Loaded()) == 0 {
				return fmt.Errorf("no boundary layers found in %s", a.cfg.GeodataDir)
			}
			stats, err := enricher.Run(ctx, opts)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}

	cmd.Flags().StringSliceVar(&ids, "facility", nil, "Facility ids to enrich (default: all unenriched)")
	cmd.Flags().StringSliceVar(&datasets, "datasets", nil, "Restrict to county, huc12, dac, ms4")
	cmd.Flags().BoolVar(&force, "force", false, "Re-enrich facilities that were already enriched")
	return cmd
}

func seedPollutantsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-pollutants",
		Short: "Upsert the pollutant configuration from YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if file == "" {
				file = a.cfg.PollutantsFile
			}
			list, err := pollutants.LoadFile(file)
			if err != nil {
				return err
			}
			if err := pollutants.Seed(ctx, db.DB, list); err != nil {
				return err
			}
			fmt.Printf("Seeded %d pollutants from %s\n", len(list), file)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Pollutant YAML (default: POLLUTANTS_FILE)")
	return cmd
}
