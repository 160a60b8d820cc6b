package esmr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
)

func ptr[T any](v T) *T { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawRow() map[string]string {
	return map[string]string{
		"region":                    "Region 4 - Los Angeles",
		"location":                  "EFF-001",
		"location_place_id":         "1001",
		"location_place_type":       "Effluent Monitoring",
		"parameter":                 "Zinc, Total",
		"analytical_method_code":    "EPA 200.8",
		"analytical_method":         "Metals by ICP-MS",
		"qualifier":                 "=",
		"result":                    "0.42",
		"units":                     "mg/L",
		"mdl":                       "0.01",
		"sampling_date":             "2025-01-15",
		"sampling_time":             "14:30",
		"analysis_date":             "2025-01-20",
		"facility_name":             "Acme Metals",
		"facility_place_id":         "501",
		"report_name":               "Q1 2025",
		"latitude":                  "34.05",
		"longitude":                 "-118.25",
		"receiving_water_body":      "Dominguez Channel",
		"smr_document_id":           "9001",
		"review_priority_indicator": "N",
	}
}

func TestParseQualifier(t *testing.T) {
	tests := []struct {
		raw  string
		want Qualifier
	}{
		{"=", QualifierDetected},
		{"<", QualifierLessThan},
		{">", QualifierGreaterThan},
		{" nd ", QualifierNotDetected},
		{"DNQ", QualifierDetectedNotQuantified},
	}
	for _, tt := range tests {
		got, err := ParseQualifier(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := ParseQualifier("~")
	assert.EqualError(t, err, "unknown qualifier: ~")
}

func TestParseLocationType(t *testing.T) {
	tests := map[string]LocationType{
		"Effluent Monitoring":        LocationEffluent,
		"influent monitoring":        LocationInfluent,
		"Receiving Water Monitoring": LocationReceivingWater,
		"Recycled Water":             LocationRecycledWater,
		"Internal Monitoring":        LocationInternal,
		"Groundwater Monitoring":     LocationGroundwater,
	}
	for raw, want := range tests {
		got, err := ParseLocationType(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseLocationType("Storm Drain")
	assert.Error(t, err)
}

func TestRegionCode(t *testing.T) {
	for raw, want := range map[string]string{
		"Region 2 - San Francisco Bay": "R2",
		"Region 5F - Central Valley":   "R5F",
		"region 6v":                    "R6V",
	} {
		got, err := RegionCode(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := RegionCode("Statewide")
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	for raw, want := range map[string]string{
		"14:30":    "14:30:00",
		"7:05:09":  "07:05:09",
		"":         "00:00:00",
		"NA":       "00:00:00",
		"23:59:59": "23:59:59",
	} {
		got, err := parseTime(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"24:00", "12", "ab:cd", "1:2:3:4"} {
		_, err := parseTime(raw)
		assert.Error(t, err, raw)
	}
}

func TestTransformRow(t *testing.T) {
	rec, err := TransformRow(rawRow(), 7)
	require.NoError(t, err)

	want := Record{
		Row:    7,
		Region: Region{Code: "R4", Name: "Region 4 - Los Angeles"},
		Facility: Facility{
			FacilityPlaceID:    501,
			FacilityName:       "Acme Metals",
			RegionCode:         "R4",
			ReceivingWaterBody: ptr("Dominguez Channel"),
		},
		Location: Location{
			LocationPlaceID: 1001,
			FacilityPlaceID: 501,
			LocationCode:    "EFF-001",
			LocationType:    LocationEffluent,
			Latitude:        ptr(34.05),
			Longitude:       ptr(-118.25),
		},
		Parameter: "Zinc, Total",
		Method:    &AnalyticalMethod{MethodCode: "EPA 200.8", MethodName: "Metals by ICP-MS"},
		Sample: Sample{
			LocationPlaceID:         1001,
			AnalyticalMethodCode:    ptr("EPA 200.8"),
			SamplingDate:            time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
			SamplingTime:            "14:30:00",
			AnalysisDate:            ptr(time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC)),
			Qualifier:               QualifierDetected,
			Result:                  ptr(0.42),
			Units:                   "mg/L",
			MDL:                     ptr(0.01),
			ReviewPriorityIndicator: ptr(false),
			ReportName:              "Q1 2025",
			SMRDocumentID:           9001,
		},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("TransformRow mismatch (-want +got):\n%s", diff)
	}
}

func TestTransformRow_NullsAndDefaults(t *testing.T) {
	raw := rawRow()
	raw["analytical_method_code"] = "NA"
	raw["result"] = "NaN"
	raw["latitude"] = ""
	raw["receiving_water_body"] = "NA"
	raw["facility_name"] = ""
	raw["location"] = ""
	raw["sampling_time"] = ""
	raw["analysis_date"] = "NA"
	raw["review_priority_indicator"] = "maybe"

	rec, err := TransformRow(raw, 1)
	require.NoError(t, err)
	assert.Nil(t, rec.Method)
	assert.Nil(t, rec.Sample.AnalyticalMethodCode)
	assert.Nil(t, rec.Sample.Result)
	assert.Nil(t, rec.Location.Latitude)
	assert.NotNil(t, rec.Location.Longitude)
	assert.Nil(t, rec.Facility.ReceivingWaterBody)
	assert.Equal(t, "Facility 501", rec.Facility.FacilityName)
	assert.Equal(t, "LOC-1001", rec.Location.LocationCode)
	assert.Equal(t, "00:00:00", rec.Sample.SamplingTime)
	assert.Nil(t, rec.Sample.AnalysisDate)
	assert.Nil(t, rec.Sample.ReviewPriorityIndicator)
}

func TestTransformRow_Errors(t *testing.T) {
	tests := []struct {
		field, value, want string
	}{
		{"qualifier", "XX", "Row 3: unknown qualifier: XX"},
		{"region", "Statewide", "Row 3: cannot extract region code from: Statewide"},
		{"facility_place_id", "abc", "Row 3: invalid facility_place_id: abc"},
		{"smr_document_id", "", "Row 3: invalid smr_document_id: "},
		{"sampling_date", "someday", "Row 3: invalid date: someday"},
		{"units", "NA", "Row 3: missing units"},
		{"parameter", " ", "Row 3: missing parameter"},
	}
	for _, tt := range tests {
		raw := rawRow()
		raw[tt.field] = tt.value
		_, err := TransformRow(raw, 3)
		require.Error(t, err, tt.field)
		assert.Equal(t, tt.want, err.Error())

		var rerr RowError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, 3, rerr.Row)
	}
}

const exportCSV = "\ufeffregion,location,location_place_id,location_place_type,parameter,analytical_method_code,analytical_method,qualifier,result,units,mdl,sampling_date,sampling_time,analysis_date,facility_name,facility_place_id,report_name,latitude,longitude,receiving_water_body,smr_document_id,review_priority_indicator\n" +
	`Region 4 - Los Angeles,EFF-001,1001,Effluent Monitoring,"Zinc, Total",EPA 200.8,Metals by ICP-MS,=,0.42,mg/L,0.01,2025-01-15,14:30,2025-01-20,Acme Metals,501,Q1 2025,34.05,-118.25,Dominguez Channel,9001,N` + "\n" +
	`Region 4 - Los Angeles,EFF-001,1001,Effluent Monitoring,Copper,EPA 200.8,Metals by ICP-MS,XX,0.1,mg/L,0.01,2025-01-15,14:30,2025-01-20,Acme Metals,501,Q1 2025,34.05,-118.25,Dominguez Channel,9001,N` + "\n" +
	",,,,,,,,,,,,,,,,,,,,,\n" +
	`Region 5F - Central Valley,RSW-002,1002,Receiving Water,pH,NA,NA,ND,NaN,SU,NA,2025-02-01,,NA,Valley Ag,502,Q1 2025,NA,NA,NA,9002,Y` + "\n"

func TestReader(t *testing.T) {
	r, err := NewReader(strings.NewReader(exportCSV))
	require.NoError(t, err)

	recs, errs, err := r.Next(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, errs)
	assert.Equal(t, "Zinc, Total", recs[0].Parameter)
	assert.Equal(t, 1, recs[0].Row)

	recs, errs, err = r.Next(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "Row 2: unknown qualifier: XX", errs[0].Error())
	assert.Equal(t, 3, recs[0].Row)
	assert.Equal(t, "R5F", recs[0].Region.Code)
	assert.Equal(t, LocationReceivingWater, recs[0].Location.LocationType)
	assert.Equal(t, QualifierNotDetected, recs[0].Sample.Qualifier)
	assert.True(t, *recs[0].Sample.ReviewPriorityIndicator)

	_, _, err = r.Next(1)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewReader_Errors(t *testing.T) {
	_, err := NewReader(strings.NewReader(""))
	assert.EqualError(t, err, "file is empty")

	_, err = NewReader(strings.NewReader("region,location,parameter\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns: location_place_id, qualifier, units")
}

type fakeWriter struct {
	batches [][]Record
	err     error
}

func (w *fakeWriter) WriteBatch(_ context.Context, recs []Record) (BatchResult, error) {
	if w.err != nil {
		return BatchResult{}, w.err
	}
	w.batches = append(w.batches, append([]Record(nil), recs...))
	return BatchResult{SamplesInserted: len(recs), FacilitiesCreated: 1}, nil
}

func TestImporter_Import(t *testing.T) {
	w := &fakeWriter{}
	m := observability.NewMetricsForTesting()
	im := NewImporter(w, discardLogger(), m)

	var progress []int
	stats, err := im.Import(context.Background(), strings.NewReader(exportCSV), ImportOptions{
		BatchSize: 1,
		Progress:  func(s Stats) { progress = append(progress, s.RecordsProcessed) },
	})
	require.NoError(t, err)

	assert.Len(t, w.batches, 2)
	assert.Equal(t, 3, stats.RecordsProcessed)
	assert.Equal(t, 2, stats.RecordsInserted)
	assert.Equal(t, 1, stats.RecordsErrored)
	assert.Equal(t, 2, stats.FacilitiesCreated)
	assert.Equal(t, []string{"Row 2: unknown qualifier: XX"}, stats.Errors)
	assert.Equal(t, []int{1, 3}, progress)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ESMRSamplesImported))
}

func TestImporter_DryRunAndWriterFailure(t *testing.T) {
	w := &fakeWriter{}
	stats, err := NewImporter(w, discardLogger(), nil).Import(context.Background(), strings.NewReader(exportCSV), ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, w.batches)
	assert.Equal(t, 3, stats.RecordsProcessed)
	assert.Zero(t, stats.RecordsInserted)

	w = &fakeWriter{err: errors.New("connection reset")}
	stats, err = NewImporter(w, discardLogger(), nil).Import(context.Background(), strings.NewReader(exportCSV), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RecordsErrored)
	assert.Contains(t, stats.Errors, "Batch 1: connection reset")

	_, err = NewImporter(w, discardLogger(), nil).Import(context.Background(), strings.NewReader("a,b\n"), ImportOptions{})
	assert.Error(t, err)
}

func TestImporter_ImportRecords(t *testing.T) {
	bad := rawRow()
	bad["qualifier"] = "?"
	rows := []map[string]string{rawRow(), bad, rawRow(), rawRow()}

	w := &fakeWriter{}
	stats, err := NewImporter(w, discardLogger(), nil).ImportRecords(context.Background(), rows, ImportOptions{BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[0], 2)
	assert.Len(t, w.batches[1], 1)
	assert.Equal(t, 4, stats.RecordsProcessed)
	assert.Equal(t, 1, stats.RecordsErrored)
	assert.Equal(t, []string{"Row 2: unknown qualifier: ?"}, stats.Errors)
}

func TestStats_ErrorsAreDedupedAndCapped(t *testing.T) {
	var s Stats
	s.addError("same")
	s.addError("same")
	assert.Len(t, s.Errors, 1)
	for i := 0; i < maxReportedErrors*2; i++ {
		s.addError(strings.Repeat("x", i+1))
	}
	assert.Len(t, s.Errors, maxReportedErrors)
}

func TestClient_Query(t *testing.T) {
	var gotSQL, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSQL = r.URL.Query().Get("sql")
		gotUA = r.Header.Get("User-Agent")
		_, _ = io.WriteString(w, `{"success":true,"result":{"records":[
			{"facility_place_id":501,"result":0.42,"comments":null,"qualifier":"=","flag":true}
		]}}`)
	}))
	defer srv.Close()

	rows, err := NewClient(srv.URL).SamplesSince(context.Background(), "res-1", time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "res-1" WHERE sampling_date >= '2026-09-30' ORDER BY sampling_date DESC LIMIT 5000`, gotSQL)
	assert.Equal(t, userAgent, gotUA)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{
		"facility_place_id": "501",
		"result":            "0.42",
		"comments":          "",
		"qualifier":         "=",
		"flag":              "Y",
	}, rows[0])
}

func TestClient_QueryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("sql"), "OFFSET") {
			_, _ = io.WriteString(w, `{"success":false,"error":{"message":"relation does not exist"}}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Page(context.Background(), "res-1", 0)
	assert.EqualError(t, err, "datastore error: relation does not exist")

	_, err = c.SamplesSince(context.Background(), "res-1", time.Now())
	assert.EqualError(t, err, "datastore returned HTTP 502")
}

type fakeSource struct {
	resource string
	since    time.Time
	rows     []map[string]string
}

func (s *fakeSource) SamplesSince(_ context.Context, resourceID string, since time.Time) ([]map[string]string, error) {
	s.resource, s.since = resourceID, since
	return s.rows, nil
}

type fakeLatest struct{ latest *time.Time }

func (f fakeLatest) LatestSamplingDate(context.Context) (*time.Time, error) { return f.latest, nil }

func TestSyncer_Sync(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC))
	src := &fakeSource{rows: []map[string]string{rawRow(), rawRow()}}
	w := &fakeWriter{}
	latest := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	s := NewSyncer(src, fakeLatest{&latest}, NewImporter(w, discardLogger(), nil), clock, discardLogger())
	res, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2026-09-30", res.SinceDate)
	assert.Equal(t, resourceIDs[fallbackResourceYear], src.resource)
	assert.Equal(t, 2, res.RecordsReceived)
	assert.Equal(t, 2, res.RecordsInserted)
	require.Len(t, w.batches, 1)
}

func TestSyncer_FirstRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 31, 12, 0, 0, 0, time.UTC))
	src := &fakeSource{}
	s := NewSyncer(src, fakeLatest{}, NewImporter(&fakeWriter{}, discardLogger(), nil), clock, discardLogger())

	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", res.SinceDate)
	assert.Equal(t, resourceIDs[2025], src.resource)
	assert.Zero(t, res.RecordsReceived)
	assert.Empty(t, res.Errors)
}

func TestImportRequest_Validate(t *testing.T) {
	assert.NoError(t, ImportRequest{Year: 2024}.Validate())
	assert.NoError(t, ImportRequest{SourceURL: "https://data.ca.gov/export.csv"}.Validate())
	assert.EqualError(t, ImportRequest{}.Validate(), "missing required field: year")
	assert.EqualError(t, ImportRequest{Year: 2010}.Validate(), "no datastore resource for year 2010, available years: 2023, 2024, 2025")
	assert.Error(t, ImportRequest{SourceURL: "ftp://example.com/x.csv"}.Validate())
}

type fakeJobStore struct {
	created  []ImportJob
	statuses []JobStatus
	last     ImportJob
	failed   int64
	reason   string
}

func (s *fakeJobStore) CreateJob(_ context.Context, job *ImportJob) error {
	s.created = append(s.created, *job)
	return nil
}

func (s *fakeJobStore) SaveJob(_ context.Context, job *ImportJob) error {
	s.statuses = append(s.statuses, job.Status)
	s.last = *job
	return nil
}

func (s *fakeJobStore) FailUnfinishedJobs(_ context.Context, reason string, _ time.Time) (int64, error) {
	s.reason = reason
	return s.failed, nil
}

type fakePager struct{ offsets []int }

func (p *fakePager) Page(_ context.Context, _ string, offset int) ([]map[string]string, error) {
	p.offsets = append(p.offsets, offset)
	return []map[string]string{rawRow()}, nil
}

func newTestJobs(s jobStore, p pager) *Jobs {
	j := NewJobs(s, NewImporter(&fakeWriter{}, discardLogger(), nil), p, clockwork.NewFakeClock(), discardLogger())
	j.spawn = func(f func()) { f() }
	return j
}

func TestJobs_StartFromDatastore(t *testing.T) {
	js := &fakeJobStore{}
	p := &fakePager{}
	j := newTestJobs(js, p)

	job, err := j.Start(context.Background(), ImportRequest{Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, "datastore:2024", job.Source)
	require.Len(t, js.created, 1)

	assert.Equal(t, []int{0}, p.offsets)
	assert.Equal(t, []JobStatus{JobDownloading, JobImporting, JobCompleted}, js.statuses)
	assert.Equal(t, 1, js.last.Stats.RecordsInserted)
	assert.NotNil(t, js.last.EndedAt)
	assert.Nil(t, js.last.Error)
}

func TestJobs_StartFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, exportCSV)
	}))
	defer srv.Close()

	js := &fakeJobStore{}
	j := newTestJobs(js, &fakePager{})
	_, err := j.Start(context.Background(), ImportRequest{SourceURL: srv.URL + "/export.csv"})
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, js.last.Status)
	assert.Equal(t, 2, js.last.Stats.RecordsInserted)
	assert.Equal(t, 1, js.last.Stats.RecordsErrored)

	js = &fakeJobStore{}
	j = newTestJobs(js, &fakePager{})
	_, err = j.Start(context.Background(), ImportRequest{SourceURL: srv.URL + "/missing.csv"})
	require.NoError(t, err)
	assert.Equal(t, JobFailed, js.last.Status)
	require.NotNil(t, js.last.Error)
	assert.Equal(t, "download returned HTTP 404", *js.last.Error)
}

// blockingPager holds the first page until release is closed or ctx ends.
type blockingPager struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingPager) Page(ctx context.Context, _ string, _ int) ([]map[string]string, error) {
	close(p.started)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.release:
		return nil, errors.New("released")
	}
}

func TestJobs_ShutdownFailsRunningJob(t *testing.T) {
	js := &fakeJobStore{}
	p := &blockingPager{started: make(chan struct{}), release: make(chan struct{})}
	j := NewJobs(js, NewImporter(&fakeWriter{}, discardLogger(), nil), p, clockwork.NewFakeClock(), discardLogger())

	_, err := j.Start(context.Background(), ImportRequest{Year: 2024})
	require.NoError(t, err)
	<-p.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, j.Shutdown(ctx))

	assert.Equal(t, JobFailed, js.last.Status)
	require.NotNil(t, js.last.Error)
	assert.Contains(t, *js.last.Error, "interrupted by server shutdown")
	assert.NotNil(t, js.last.EndedAt)

	_, err = j.Start(context.Background(), ImportRequest{Year: 2024})
	assert.ErrorIs(t, err, ErrJobsClosed)
	assert.Len(t, js.created, 1)
}

func TestJobs_ShutdownTimeout(t *testing.T) {
	p := &blockingPager{started: make(chan struct{}), release: make(chan struct{})}
	j := NewJobs(&fakeJobStore{}, NewImporter(&fakeWriter{}, discardLogger(), nil), p, clockwork.NewFakeClock(), discardLogger())
	// Ignore cancellation so the job outlives the deadline.
	j.base = context.WithoutCancel(j.base)

	_, err := j.Start(context.Background(), ImportRequest{Year: 2024})
	require.NoError(t, err)
	<-p.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.Shutdown(ctx), context.Canceled)

	close(p.release)
	require.NoError(t, j.Shutdown(context.Background()))
}

func TestJobs_Recover(t *testing.T) {
	js := &fakeJobStore{failed: 2}
	require.NoError(t, newTestJobs(js, &fakePager{}).Recover(context.Background()))
	assert.Equal(t, "interrupted by server restart", js.reason)
}

type fakeStore struct {
	Store
	samples    []SampleRow
	lastSample SampleQuery
	params     []ParameterRow
	detail     *FacilityDetail
	jobs       map[uuid.UUID]ImportJob
	fail       bool
}

func (s *fakeStore) ListSamples(_ context.Context, q SampleQuery) ([]SampleRow, int64, error) {
	s.lastSample = q
	if s.fail {
		return nil, 0, errors.New("db down")
	}
	return s.samples, int64(len(s.samples)), nil
}

func (s *fakeStore) ListParameters(_ context.Context, _ string, _, _ int) ([]ParameterRow, int64, error) {
	return s.params, int64(len(s.params)), nil
}

func (s *fakeStore) FacilityDetail(_ context.Context, id int64) (FacilityDetail, error) {
	if s.detail == nil || s.detail.Facility.FacilityPlaceID != id {
		return FacilityDetail{}, ErrNotFound
	}
	return *s.detail, nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (ImportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return ImportJob{}, ErrNotFound
	}
	return job, nil
}

func withStore(t *testing.T, s Store) {
	t.Helper()
	prevStore, prevLogger := store, logger
	store, logger = s, discardLogger()
	t.Cleanup(func() { store, logger = prevStore, prevLogger })
}

func TestParseSampleQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/samples?facility_place_id=501&parameter_id=5d0c6f1e-3b9a-4f7e-9a51-2f6f0d3c8b47&start_date=2025-01-01&end_date=2025-03-31&qualifier=nd&location_type=effluent_monitoring&sort_by=result&sort_order=asc&limit=900", nil)
	q, err := ParseSampleQuery(req)
	require.NoError(t, err)

	assert.Equal(t, int64(501), *q.FacilityPlaceID)
	assert.Nil(t, q.LocationPlaceID)
	assert.Equal(t, idNamespace, *q.ParameterID)
	assert.Equal(t, time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC), *q.EndDate)
	assert.Equal(t, QualifierNotDetected, q.Qualifier)
	assert.Equal(t, LocationEffluent, q.LocationType)
	assert.Equal(t, "result", q.SortBy)
	assert.False(t, q.SortDesc)
	assert.Equal(t, 500, q.Limit)

	q, err = ParseSampleQuery(httptest.NewRequest(http.MethodGet, "/samples", nil))
	require.NoError(t, err)
	assert.Equal(t, "sampling_date", q.SortBy)
	assert.True(t, q.SortDesc)
	assert.Equal(t, 50, q.Limit)

	for raw, want := range map[string]Qualifier{
		"not_detected": QualifierNotDetected,
		"%3C":          QualifierLessThan,
		"%3E":          QualifierGreaterThan,
		"%3D":          QualifierDetected,
		"dnq":          QualifierDetectedNotQuantified,
	} {
		q, err := ParseSampleQuery(httptest.NewRequest(http.MethodGet, "/samples?qualifier="+raw, nil))
		require.NoError(t, err, raw)
		assert.Equal(t, want, q.Qualifier, raw)
	}

	for _, bad := range []string{
		"facility_place_id=x",
		"parameter_id=nope",
		"start_date=01/02/2025",
		"start_date=2025-02-01&end_date=2025-01-01",
		"qualifier=maybe",
		"location_type=storm",
		"sort_by=units",
		"sort_order=up",
		"limit=0",
	} {
		_, err := ParseSampleQuery(httptest.NewRequest(http.MethodGet, "/samples?"+bad, nil))
		assert.Error(t, err, bad)
	}
}

func TestListSamples(t *testing.T) {
	fs := &fakeStore{samples: []SampleRow{{ID: uuid.New(), FacilityName: "Acme Metals", Qualifier: QualifierDetected}}}
	withStore(t, fs)

	rec := httptest.NewRecorder()
	ListSamples(rec, httptest.NewRequest(http.MethodGet, "/samples?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Samples    []SampleRow `json:"samples"`
		Pagination pagination  `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Samples, 1)
	assert.Equal(t, pagination{Total: 1, Limit: 1, Offset: 0, HasMore: false}, body.Pagination)

	rec = httptest.NewRecorder()
	ListSamples(rec, httptest.NewRequest(http.MethodGet, "/samples?qualifier=bad", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fs.fail = true
	rec = httptest.NewRecorder()
	ListSamples(rec, httptest.NewRequest(http.MethodGet, "/samples", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetFacility(t *testing.T) {
	withStore(t, &fakeStore{detail: &FacilityDetail{Facility: FacilityRow{FacilityPlaceID: 501, FacilityName: "Acme Metals"}}})
	r := chi.NewRouter()
	r.Get("/facilities/{facility_place_id}", GetFacility)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/facilities/501", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"locations":[]`)
	assert.Contains(t, rec.Body.String(), `"recent_samples":[]`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/facilities/502", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/facilities/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid facility ID"}`, rec.Body.String())
}

func TestListParameters_Grouped(t *testing.T) {
	withStore(t, &fakeStore{params: []ParameterRow{
		{ParameterName: "Zinc, Total", Category: ptr("Metals"), SampleCount: 4},
		{ParameterName: "Copper", Category: ptr("Metals"), SampleCount: 2},
		{ParameterName: "pH"},
	}})

	rec := httptest.NewRecorder()
	ListParameters(rec, httptest.NewRequest(http.MethodGet, "/parameters?group_by_category=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]ParameterRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["Metals"], 2)
	assert.Len(t, body["Uncategorized"], 1)
}

func TestStartImportAndJobStatus(t *testing.T) {
	jobID := uuid.New()
	withStore(t, &fakeStore{jobs: map[uuid.UUID]ImportJob{jobID: {ID: jobID, Status: JobImporting}}})
	prevJobs := jobs
	t.Cleanup(func() { jobs = prevJobs })
	js := &fakeJobStore{}
	jobs = newTestJobs(js, &fakePager{})

	rec := httptest.NewRecorder()
	StartImport(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"year":2025,"dry_run":true}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "pending", started["status"])
	assert.Equal(t, "/import/esmr/"+js.created[0].ID.String(), started["status_url"])
	assert.True(t, js.last.DryRun)

	for body, code := range map[string]int{
		`{`:                             http.StatusBadRequest,
		`{}`:                            http.StatusBadRequest,
		`{"year":1999}`:                 http.StatusBadRequest,
		`{"year":2025,"batch_size":-1}`: http.StatusBadRequest,
	} {
		rec = httptest.NewRecorder()
		StartImport(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		assert.Equal(t, code, rec.Code, body)
	}

	require.NoError(t, jobs.Shutdown(context.Background()))
	rec = httptest.NewRecorder()
	StartImport(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"year":2025}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, js.created, 1)

	r := chi.NewRouter()
	r.Get("/{job_id}", GetImportJob)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+jobID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"importing"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeLinkStore struct {
	LinkStore
	linkErr error
	linked  map[uuid.UUID]int64
}

func (s *fakeLinkStore) Link(_ context.Context, id uuid.UUID, placeID int64) (LinkedFacility, error) {
	if s.linkErr != nil {
		return LinkedFacility{}, s.linkErr
	}
	s.linked[id] = placeID
	return LinkedFacility{ID: id, ESMRFacilityPlaceID: &placeID}, nil
}

func (s *fakeLinkStore) Unlink(_ context.Context, id uuid.UUID) (LinkedFacility, error) {
	if _, ok := s.linked[id]; !ok {
		return LinkedFacility{}, facilities.ErrNotFound
	}
	delete(s.linked, id)
	return LinkedFacility{ID: id}, nil
}

func TestLinkAndUnlinkFacility(t *testing.T) {
	ls := &fakeLinkStore{linked: map[uuid.UUID]int64{}}
	prev := linkStore
	linkStore = ls
	withStore(t, &fakeStore{})
	t.Cleanup(func() { linkStore = prev })

	id := uuid.New()
	rec := httptest.NewRecorder()
	LinkFacility(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"facility_id":"`+id.String()+`","esmr_facility_place_id":501}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(501), ls.linked[id])

	rec = httptest.NewRecorder()
	LinkFacility(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"facility_id":"`+id.String()+`"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for err, code := range map[error]int{
		facilities.ErrNotFound: http.StatusNotFound,
		ErrNotFound:            http.StatusNotFound,
		ErrAlreadyLinked:       http.StatusBadRequest,
		errors.New("boom"):     http.StatusInternalServerError,
	} {
		ls.linkErr = err
		rec = httptest.NewRecorder()
		LinkFacility(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"facility_id":"`+id.String()+`","esmr_facility_place_id":7}`)))
		assert.Equal(t, code, rec.Code, err.Error())
	}

	rec = httptest.NewRecorder()
	UnlinkFacility(rec, httptest.NewRequest(http.MethodDelete, "/", strings.NewReader(`{"facility_id":"`+id.String()+`"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, ls.linked, id)

	rec = httptest.NewRecorder()
	UnlinkFacility(rec, httptest.NewRequest(http.MethodDelete, "/", strings.NewReader(`{"facility_id":"`+id.String()+`"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	ListLinkData(rec, httptest.NewRequest(http.MethodGet, "/?type=other", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
