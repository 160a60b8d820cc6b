package esmr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ImportRequest starts a bulk import of either one published year or a CSV
// export at SourceURL.
type ImportRequest struct {
	Year      int    `json:"year"`
	SourceURL string `json:"source_url"`
	DryRun    bool   `json:"dry_run"`
	BatchSize int    `json:"batch_size" validate:"omitempty,min=1,max=10000"`
}

// Validate checks the request can be served.
func (r ImportRequest) Validate() error {
	if r.SourceURL != "" {
		u, err := url.Parse(r.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("source_url must be an http(s) URL")
		}
		return nil
	}
	if r.Year == 0 {
		return errors.New("missing required field: year")
	}
	if _, ok := ResourceID(r.Year); !ok {
		years := make([]int, 0, len(resourceIDs))
		for y := range resourceIDs {
			years = append(years, y)
		}
		sort.Ints(years)
		parts := make([]string, len(years))
		for i, y := range years {
			parts[i] = strconv.Itoa(y)
		}
		return fmt.Errorf("no datastore resource for year %d, available years: %s", r.Year, strings.Join(parts, ", "))
	}
	return nil
}

func (r ImportRequest) source() string {
	if r.SourceURL != "" {
		return r.SourceURL
	}
	return "datastore:" + strconv.Itoa(r.Year)
}

// ErrJobsClosed is returned by Start once Shutdown has begun.
var ErrJobsClosed = errors.New("import jobs are shutting down")

type jobStore interface {
	CreateJob(ctx context.Context, job *ImportJob) error
	SaveJob(ctx context.Context, job *ImportJob) error
	FailUnfinishedJobs(ctx context.Context, reason string, at time.Time) (int64, error)
}

type pager interface {
	Page(ctx context.Context, resourceID string, offset int) ([]map[string]string, error)
}

// Jobs runs imports in the background and records their progress.
type Jobs struct {
	store      jobStore
	importer   *Importer
	pages      pager
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
	spawn      func(func())

	// base is cancelled by Shutdown; every running job derives from it.
	base   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewJobs(store jobStore, importer *Importer, pages pager, clock clockwork.Clock, logger *slog.Logger) *Jobs {
	base, cancel := context.WithCancel(context.Background())
	return &Jobs{
		store:      store,
		importer:   importer,
		pages:      pages,
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		clock:      clock,
		logger:     logger,
		spawn:      func(f func()) { go f() },
		base:       base,
		cancel:     cancel,
	}
}

// Recover marks jobs left unfinished by a previous process as failed. A row
// stuck in a running state would otherwise never reach a final status.
func (j *Jobs) Recover(ctx context.Context) error {
	n, err := j.store.FailUnfinishedJobs(ctx, "interrupted by server restart", j.clock.Now())
	if err != nil {
		return fmt.Errorf("failing unfinished import jobs: %w", err)
	}
	if n > 0 {
		j.logger.Warn("marked interrupted esmr import jobs as failed", "count", n)
	}
	return nil
}

// Shutdown stops accepting jobs, cancels the running ones and waits for them
// to record their final status or for ctx to expire.
func (j *Jobs) Shutdown(ctx context.Context) error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	j.cancel()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start records a pending job and runs it detached from the request.
func (j *Jobs) Start(ctx context.Context, req ImportRequest) (ImportJob, error) {
	now := j.clock.Now()
	job := ImportJob{
		ID:        uuid.New(),
		Status:    JobPending,
		Source:    req.source(),
		DryRun:    req.DryRun,
		Stats:     Stats{Errors: []string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ImportJob{}, ErrJobsClosed
	}
	if err := j.store.CreateJob(ctx, &job); err != nil {
		return ImportJob{}, fmt.Errorf("creating import job: %w", err)
	}

	snapshot := job
	j.wg.Add(1)
	j.spawn(func() {
		defer j.wg.Done()
		j.run(j.base, &job, req)
	})
	return snapshot, nil
}

func (j *Jobs) run(ctx context.Context, job *ImportJob, req ImportRequest) {
	log := j.logger.With("job_id", job.ID, "source", job.Source)
	log.Info("esmr import job started")

	opts := ImportOptions{
		BatchSize: req.BatchSize,
		DryRun:    req.DryRun,
		Progress: func(s Stats) {
			job.Stats = s
			j.save(ctx, job, JobImporting)
		},
	}

	var (
		stats Stats
		err   error
	)
	if req.SourceURL != "" {
		stats, err = j.fromURL(ctx, job, req.SourceURL, opts)
	} else {
		stats, err = j.fromDatastore(ctx, job, req.Year, opts)
	}

	// The final status must be written even when shutdown cancelled the run.
	final := context.WithoutCancel(ctx)
	job.Stats = stats
	end := j.clock.Now()
	job.EndedAt = &end
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "interrupted by server shutdown: " + msg
		}
		job.Error = &msg
		j.save(final, job, JobFailed)
		log.Error("esmr import job failed", "error", err)
		return
	}
	j.save(final, job, JobCompleted)
	log.Info("esmr import job completed", "inserted", stats.RecordsInserted, "errored", stats.RecordsErrored)
}

func (j *Jobs) fromURL(ctx context.Context, job *ImportJob, src string, opts ImportOptions) (Stats, error) {
	j.save(ctx, job, JobDownloading)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return Stats{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Stats{}, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}

	j.save(ctx, job, JobParsing)
	return j.importer.Import(ctx, resp.Body, opts)
}

// fromDatastore pages through a whole yearly resource.
func (j *Jobs) fromDatastore(ctx context.Context, job *ImportJob, year int, opts ImportOptions) (Stats, error) {
	resource, _ := ResourceID(year)
	total := Stats{Errors: []string{}}

	for offset := 0; ; offset += syncPageSize {
		j.save(ctx, job, JobDownloading)
		rows, err := j.pages.Page(ctx, resource, offset)
		if err != nil {
			return total, fmt.Errorf("page at offset %d: %w", offset, err)
		}

		base := total
		pageOpts := opts
		pageOpts.Progress = func(s Stats) {
			running := base
			running.Errors = append([]string(nil), base.Errors...)
			running.merge(s)
			if opts.Progress != nil {
				opts.Progress(running)
			}
		}
		stats, err := j.importer.ImportRecords(ctx, rows, pageOpts)
		total.merge(stats)
		if err != nil {
			return total, err
		}
		if len(rows) < syncPageSize {
			return total, nil
		}
	}
}

func (j *Jobs) save(ctx context.Context, job *ImportJob, status JobStatus) {
	job.Status = status
	job.UpdatedAt = j.clock.Now()
	if err := j.store.SaveJob(ctx, job); err != nil {
		j.logger.Warn("saving import job", "job_id", job.ID, "error", err)
	}
}

func (s *Stats) merge(o Stats) {
	s.RecordsProcessed += o.RecordsProcessed
	s.RecordsInserted += o.RecordsInserted
	s.RecordsSkipped += o.RecordsSkipped
	s.RecordsErrored += o.RecordsErrored
	s.RegionsCreated += o.RegionsCreated
	s.FacilitiesCreated += o.FacilitiesCreated
	s.FacilitiesUpdated += o.FacilitiesUpdated
	s.LocationsCreated += o.LocationsCreated
	s.LocationsUpdated += o.LocationsUpdated
	s.ParametersCreated += o.ParametersCreated
	s.MethodsCreated += o.MethodsCreated
	for _, e := range o.Errors {
		s.addError(e)
	}
}
