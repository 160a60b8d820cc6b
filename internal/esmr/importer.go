package esmr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/stormwaterwatch/sww-backend/internal/observability"
)

const maxReportedErrors = 100

// BatchResult counts what one batch changed.
type BatchResult struct {
	RegionsCreated    int
	FacilitiesCreated int
	FacilitiesUpdated int
	LocationsCreated  int
	LocationsUpdated  int
	ParametersCreated int
	MethodsCreated    int
	SamplesInserted   int
	SamplesSkipped    int
}

// Writer persists batches of records. Samples already present are skipped.
type Writer interface {
	WriteBatch(ctx context.Context, recs []Record) (BatchResult, error)
}

// Stats summarises an import or sync.
type Stats struct {
	RecordsProcessed  int      `json:"records_processed"`
	RecordsInserted   int      `json:"records_inserted"`
	RecordsSkipped    int      `json:"records_skipped"`
	RecordsErrored    int      `json:"records_errored"`
	RegionsCreated    int      `json:"regions_created"`
	FacilitiesCreated int      `json:"facilities_created"`
	FacilitiesUpdated int      `json:"facilities_updated"`
	LocationsCreated  int      `json:"locations_created"`
	LocationsUpdated  int      `json:"locations_updated"`
	ParametersCreated int      `json:"parameters_created"`
	MethodsCreated    int      `json:"methods_created"`
	Errors            []string `json:"errors"`
}

func (s *Stats) add(b BatchResult) {
	s.RecordsInserted += b.SamplesInserted
	s.RecordsSkipped += b.SamplesSkipped
	s.RegionsCreated += b.RegionsCreated
	s.FacilitiesCreated += b.FacilitiesCreated
	s.FacilitiesUpdated += b.FacilitiesUpdated
	s.LocationsCreated += b.LocationsCreated
	s.LocationsUpdated += b.LocationsUpdated
	s.ParametersCreated += b.ParametersCreated
	s.MethodsCreated += b.MethodsCreated
}

// addError keeps the first maxReportedErrors distinct messages.
func (s *Stats) addError(msg string) {
	if len(s.Errors) >= maxReportedErrors {
		return
	}
	for _, e := range s.Errors {
		if e == msg {
			return
		}
	}
	s.Errors = append(s.Errors, msg)
}

type ImportOptions struct {
	BatchSize int
	DryRun    bool
	// Progress is called after every batch with the running totals.
	Progress func(Stats)
}

type Importer struct {
	writer  Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewImporter(w Writer, logger *slog.Logger, metrics *observability.Metrics) *Importer {
	return &Importer{writer: w, logger: logger, metrics: metrics}
}

// Import reads an analytical export CSV and writes it batch by batch. Bad rows
// and failed batches are counted and reported without stopping the import.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts ImportOptions) (Stats, error) {
	stats := Stats{Errors: []string{}}

	reader, err := NewReader(r)
	if err != nil {
		return stats, err
	}

	for batchNo := 1; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		recs, rowErrs, err := reader.Next(opts.BatchSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read batch %d: %w", batchNo, err)
		}

		stats.RecordsProcessed += len(recs) + len(rowErrs)
		stats.RecordsErrored += len(rowErrs)
		for _, e := range rowErrs {
			stats.addError(e.Error())
		}
		im.write(ctx, batchNo, recs, opts.DryRun, &stats)

		if opts.Progress != nil {
			opts.Progress(stats)
		}
	}

	im.logger.Info("esmr import finished",
		"processed", stats.RecordsProcessed,
		"inserted", stats.RecordsInserted,
		"skipped", stats.RecordsSkipped,
		"errored", stats.RecordsErrored,
		"dry_run", opts.DryRun,
	)
	return stats, nil
}

// ImportRecords transforms rows already keyed by column name, as returned by
// the open data API, and writes them in batches.
func (im *Importer) ImportRecords(ctx context.Context, rows []map[string]string, opts ImportOptions) (Stats, error) {
	stats := Stats{Errors: []string{}}
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var batch []Record
	batchNo := 0
	flush := func() {
		batchNo++
		im.write(ctx, batchNo, batch, opts.DryRun, &stats)
		batch = batch[:0]
		if opts.Progress != nil {
			opts.Progress(stats)
		}
	}

	for i, raw := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.RecordsProcessed++
		rec, err := TransformRow(raw, i+1)
		if err != nil {
			stats.RecordsErrored++
			stats.addError(err.Error())
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= size {
			flush()
		}
	}
	if len(batch) > 0 {
		flush()
	}
	return stats, nil
}

func (im *Importer) write(ctx context.Context, batchNo int, recs []Record, dryRun bool, stats *Stats) {
	if len(recs) == 0 || dryRun {
		return
	}
	res, err := im.writer.WriteBatch(ctx, recs)
	if err != nil {
		im.logger.Error("esmr batch failed", "batch", batchNo, "records", len(recs), "error", err)
		stats.RecordsErrored += len(recs)
		stats.addError(fmt.Sprintf("Batch %d: %v", batchNo, err))
		return
	}
	stats.add(res)
	if im.metrics != nil {
		im.metrics.ESMRSamplesImported.Add(float64(res.SamplesInserted))
	}
}
