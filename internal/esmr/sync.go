package esmr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	syncPageSize     = 5000
	syncOverlap      = 24 * time.Hour
	syncFirstRunBack = 30 * 24 * time.Hour
	userAgent        = "StormwaterWatch/1.0"
)

// Datastore resource ids of the yearly analytical exports on data.ca.gov.
var resourceIDs = map[int]string{
	2025: "176a58bf-6f5d-4e3f-9ed9-592a509870eb",
	2024: "7adb8aea-62fb-412f-9e67-d13b0729222f",
	2023: "65eb7023-86b6-4960-b714-5f6574d43556",
}

const fallbackResourceYear = 2025

// ResourceID returns the datastore resource for year, or false when that
// year is not published through the SQL API.
func ResourceID(year int) (string, bool) {
	id, ok := resourceIDs[year]
	return id, ok
}

// Client queries the CKAN datastore SQL endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type ckanResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []map[string]any `json:"records"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Query runs sql and returns each record with its values as strings.
func (c *Client) Query(ctx context.Context, sql string) ([]map[string]string, error) {
	u := c.endpoint + "?sql=" + url.QueryEscape(sql)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("datastore request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("datastore returned HTTP %d", resp.StatusCode)
	}

	var body ckanResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding datastore response: %w", err)
	}
	if !body.Success {
		msg := "unknown error"
		if body.Error != nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		return nil, fmt.Errorf("datastore error: %s", msg)
	}

	out := make([]map[string]string, 0, len(body.Result.Records))
	for _, rec := range body.Result.Records {
		row := make(map[string]string, len(rec))
		for k, v := range rec {
			row[k] = stringValue(v)
		}
		out = append(out, row)
	}
	return out, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "Y"
		}
		return "N"
	default:
		return fmt.Sprint(t)
	}
}

// SamplesSince fetches the newest page of records sampled on or after since.
func (c *Client) SamplesSince(ctx context.Context, resourceID string, since time.Time) ([]map[string]string, error) {
	return c.Query(ctx, fmt.Sprintf(
		`SELECT * FROM "%s" WHERE sampling_date >= '%s' ORDER BY sampling_date DESC LIMIT %d`,
		resourceID, since.Format("2006-01-02"), syncPageSize))
}

// Page fetches one page of a full resource in a stable order.
func (c *Client) Page(ctx context.Context, resourceID string, offset int) ([]map[string]string, error) {
	return c.Query(ctx, fmt.Sprintf(
		`SELECT * FROM "%s" ORDER BY "_id" LIMIT %d OFFSET %d`,
		resourceID, syncPageSize, offset))
}

// Source is the part of Client the syncer needs.
type Source interface {
	SamplesSince(ctx context.Context, resourceID string, since time.Time) ([]map[string]string, error)
}

type latestSampler interface {
	LatestSamplingDate(ctx context.Context) (*time.Time, error)
}

type SyncResult struct {
	SinceDate       string `json:"since_date"`
	ResourceID      string `json:"resource_id"`
	RecordsReceived int    `json:"records_received"`
	Stats
}

// Syncer pulls recent samples from the open data portal into the eSMR tables.
type Syncer struct {
	source   Source
	store    latestSampler
	importer *Importer
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewSyncer(source Source, store latestSampler, importer *Importer, clock clockwork.Clock, logger *slog.Logger) *Syncer {
	return &Syncer{source: source, store: store, importer: importer, clock: clock, logger: logger}
}

// Sync fetches records sampled since a day before the newest stored sample,
// or the last 30 days when nothing is stored yet. Existing samples are
// skipped, so the overlap is safe.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	now := s.clock.Now().UTC()
	since := now.Add(-syncFirstRunBack)
	latest, err := s.store.LatestSamplingDate(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("latest sampling date: %w", err)
	}
	if latest != nil {
		since = latest.Add(-syncOverlap)
	}

	resource, ok := ResourceID(now.Year())
	if !ok {
		resource, _ = ResourceID(fallbackResourceYear)
	}
	res := SyncResult{SinceDate: since.Format("2006-01-02"), ResourceID: resource, Stats: Stats{Errors: []string{}}}

	s.logger.Info("esmr sync starting", "since", res.SinceDate, "resource", resource)
	rows, err := s.source.SamplesSince(ctx, resource, since)
	if err != nil {
		return res, err
	}
	res.RecordsReceived = len(rows)
	if len(rows) == 0 {
		return res, nil
	}

	stats, err := s.importer.ImportRecords(ctx, rows, ImportOptions{})
	res.Stats = stats
	if err != nil {
		return res, err
	}
	s.logger.Info("esmr sync finished",
		"received", res.RecordsReceived,
		"inserted", stats.RecordsInserted,
		"skipped", stats.RecordsSkipped,
		"errors", len(stats.Errors),
	)
	return res, nil
}
