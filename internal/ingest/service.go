package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

// SourceCIWQS labels rows uploaded from CIWQS/SMARTS exports.
const SourceCIWQS = "CIWQS"

var ErrNoValidRows = errors.New("no valid rows in file")

type Options struct {
	SourceURL  string
	FileName   string
	UploadedBy string
}

type Counts struct {
	FacilitiesCreated int `json:"facilities_created"`
	SamplesInserted   int `json:"samples_inserted"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
	RowsParsed        int `json:"rows_parsed"`
}

type Result struct {
	Success      bool      `json:"success"`
	Counts       Counts    `json:"counts"`
	Warnings     []string  `json:"warnings"`
	Checksum     string    `json:"checksum"`
	ProvenanceID uuid.UUID `json:"provenance_id"`
}

type Service struct {
	store    Store
	registry *pollutants.Registry
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

func NewService(store Store, registry *pollutants.Registry, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{store: store, registry: registry, clock: clock, logger: logger, metrics: metrics}
}

// Ingest parses, normalizes and stores an uploaded CSV. Rows already stored
// for the same facility, pollutant and day are skipped.
func (s *Service) Ingest(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	parsed, err := ParseCSV(r)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Checksum: parsed.Checksum,
		Warnings: parsed.Warnings,
		Counts:   Counts{RowsParsed: len(parsed.Rows)},
	}
	if len(parsed.Rows) == 0 {
		return res, ErrNoValidRows
	}

	samples, warnings := Normalize(parsed.Rows, s.registry, opts.SourceURL)
	res.Warnings = append(res.Warnings, warnings...)
	s.metrics.IngestRows.WithLabelValues("rejected").Add(float64(len(warnings)))

	now := s.clock.Now().UTC()
	err = s.store.WithTx(ctx, func(tx Store) error {
		prov := &Provenance{
			Source:     SourceCIWQS,
			URL:        opts.SourceURL,
			FileName:   opts.FileName,
			Checksum:   parsed.Checksum,
			FetchedAt:  now,
			UploadedBy: opts.UploadedBy,
			RowsParsed: len(parsed.Rows),
		}
		if err := tx.CreateProvenance(ctx, prov); err != nil {
			return fmt.Errorf("store provenance: %w", err)
		}
		res.ProvenanceID = prov.ID

		for _, in := range samples {
			if err := s.storeSample(ctx, tx, in, now, &res.Counts); err != nil {
				return fmt.Errorf("row %d: %w", in.Line, err)
			}
		}

		prov.SamplesInserted = res.Counts.SamplesInserted
		prov.Notes = fmt.Sprintf("Ingested %d samples", res.Counts.SamplesInserted)
		return tx.UpdateProvenance(ctx, prov)
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.IngestRows.WithLabelValues("inserted").Add(float64(res.Counts.SamplesInserted))
	s.metrics.IngestRows.WithLabelValues("duplicate").Add(float64(res.Counts.DuplicatesSkipped))
	s.metrics.FacilitiesCreated.Add(float64(res.Counts.FacilitiesCreated))
	s.logger.Info("ingest complete",
		"file", opts.FileName,
		"checksum", parsed.Checksum,
		"rows_parsed", res.Counts.RowsParsed,
		"samples_inserted", res.Counts.SamplesInserted,
		"duplicates_skipped", res.Counts.DuplicatesSkipped,
		"facilities_created", res.Counts.FacilitiesCreated,
		"warnings", len(res.Warnings),
	)

	res.Success = true
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return res, nil
}

func (s *Service) storeSample(ctx context.Context, tx Store, in NormalizedSample, now time.Time, counts *Counts) error {
	facility, created, err := tx.UpsertFacility(ctx, in, now)
	if err != nil {
		return fmt.Errorf("upsert facility %s: %w", in.PermitID, err)
	}
	if created {
		counts.FacilitiesCreated++
	}

	existing, err := tx.FindSample(ctx, facility.ID, in.Pollutant, in.SampleDate)
	if err != nil {
		return err
	}
	if existing != nil && IsDuplicate(*existing, in, DuplicateTolerance) {
		counts.DuplicatesSkipped++
		return nil
	}

	source := in.SourceDocURL
	if source == "" {
		source = SourceCIWQS
	}
	sample := &facilities.Sample{
		FacilityID:      facility.ID,
		SampleDate:      in.SampleDate,
		Pollutant:       in.Pollutant,
		Value:           in.Value,
		Unit:            in.Unit,
		Benchmark:       in.Benchmark,
		BenchmarkUnit:   in.BenchmarkUnit,
		ExceedanceRatio: ComputeExceedanceRatio(in.Value, in.Benchmark, in.Pollutant),
		ReportingYear:   in.ReportingYear,
		Source:          source,
		SourceDocURL:    in.SourceDocURL,
	}
	if err := tx.CreateSample(ctx, sample); err != nil {
		return err
	}
	counts.SamplesInserted++
	return nil
}
