package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"

	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/esmr"
	"github.com/stormwaterwatch/sww-backend/internal/logging"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

// CLI flags
var (
	csvPath     = flag.String("csv", "", "Path to an eSMR analytical export CSV, or - for stdin (required)")
	dsn         = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
	batchSize   = flag.Int("batch", esmr.DefaultBatchSize, "Rows per write batch")
	dryRun      = flag.Bool("dry-run", false, "Parse + validate only; no DB writes")
	advisoryKey = flag.Int64("advisory-lock", 424242, "Postgres advisory lock key guarding concurrent imports. 0 = disabled")
	logLevel    = flag.String("log-level", "info", "debug, info, warn or error")
)

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()
	if *csvPath == "" {
		fatalf("--csv is required")
	}
	if *dsn == "" && !*dryRun {
		fatalf("--dsn not provided and DATABASE_URL not set")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(*logLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, closeIn, err := openInput(*csvPath)
	if err != nil {
		fatalf("open input: %v", err)
	}
	defer closeIn()

	if *dryRun {
		stats, err := esmr.NewImporter(nil, logger, nil).Import(ctx, in, esmr.ImportOptions{BatchSize: *batchSize, DryRun: true})
		if err != nil {
			fatalf("import: %v", err)
		}
		printStats(stats)
		fmt.Println("Dry run complete. No changes made.")
		return
	}

	sqlDB, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("open db: %v", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.PingContext(ctx); err != nil {
		fatalf("ping db: %v", err)
	}

	// The lock lives on its own session so the import batches can use the pool.
	if *advisoryKey != 0 {
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			fatalf("lock connection: %v", err)
		}
		defer conn.Close()

		var locked bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, *advisoryKey).Scan(&locked); err != nil {
			fatalf("advisory lock: %v", err)
		}
		if !locked {
			fatalf("another eSMR import holds advisory lock %d", *advisoryKey)
		}
		defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, *advisoryKey)
	}

	gdb, err := db.Open(postgres.New(postgres.Config{Conn: sqlDB}), logger)
	if err != nil {
		fatalf("gorm: %v", err)
	}
	if err := esmr.Migrate(gdb); err != nil {
		fatalf("migrate: %v", err)
	}
	reg, err := pollutants.LoadRegistry(ctx, gdb)
	if err != nil {
		logger.Warn("pollutant registry unavailable, parameters will have no canonical key", "error", err)
		reg = pollutants.NewRegistry(nil)
	}

	importer := esmr.NewImporter(esmr.GormStore{DB: gdb, Registry: reg}, logger, nil)
	batches := 0
	stats, err := importer.Import(ctx, in, esmr.ImportOptions{
		BatchSize: *batchSize,
		Progress: func(s esmr.Stats) {
			batches++
			if batches%10 == 0 {
				logger.Info("progress", "processed", s.RecordsProcessed, "inserted", s.RecordsInserted)
			}
		},
	})
	if err != nil {
		printStats(stats)
		fatalf("import: %v", err)
	}
	printStats(stats)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func printStats(s esmr.Stats) {
	fmt.Printf("Processed:  %d\n", s.RecordsProcessed)
	fmt.Printf("Inserted:   %d\n", s.RecordsInserted)
	fmt.Printf("Skipped:    %d\n", s.RecordsSkipped)
	fmt.Printf("Errored:    %d\n", s.RecordsErrored)
	fmt.Printf("Facilities: %d new, %d updated\n", s.FacilitiesCreated, s.FacilitiesUpdated)
	fmt.Printf("Locations:  %d new, %d updated\n", s.LocationsCreated, s.LocationsUpdated)
	fmt.Printf("Parameters: %d new\n", s.ParametersCreated)
	for _, e := range s.Errors {
		fmt.Println("  -", e)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
