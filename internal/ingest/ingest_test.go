package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

const registryYAML = `
pollutants:
  - key: TSS
    aliases: [Total Suspended Solids]
    canonical_unit: mg/L
    benchmark: 100
  - key: COPPER
    aliases: [Copper, Total Copper]
    canonical_unit: ug/L
    benchmark: 33.2
  - key: PH
    aliases: [pH]
    canonical_unit: SU
    ph_min: 6.0
    ph_max: 9.0
`

func testRegistry(t *testing.T) *pollutants.Registry {
	t.Helper()
	list, err := pollutants.Parse([]byte(registryYAML))
	require.NoError(t, err)
	return pollutants.NewRegistry(list)
}

const sampleCSV = "\ufeffFacility Name,WDID,Parameter,Result,Units,Occurrence Date,County\n" +
	"Acme Metals,4 19I000001,Total Suspended Solids,250,mg/L,01/15/2025,Los Angeles\n" +
	"Acme Metals,4 19I000001,Copper,50,ug/L,2025-02-03,Los Angeles\n" +
	"Acme Metals,4 19I000001,pH,5.2,SU,2024-11-20,Los Angeles\n" +
	"Bad Row,,,,,,\n"

func TestParseCSV(t *testing.T) {
	res, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	require.Len(t, res.Rows, 3)
	assert.Equal(t, "Acme Metals", res.Rows[0].FacilityName)
	assert.Equal(t, "4 19I000001", res.Rows[0].PermitID)
	assert.Equal(t, "Total Suspended Solids", res.Rows[0].Pollutant)
	assert.Equal(t, "250", res.Rows[0].Value)
	assert.Equal(t, "Los Angeles", res.Rows[0].County)
	assert.Equal(t, 1, res.Rows[0].Line)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "Row 4: Missing pollutant/parameter; Missing value/result; Missing sample date", res.Warnings[0])
	assert.Len(t, res.Checksum, 64)
}

func TestParseCSV_NoRows(t *testing.T) {
	res, err := ParseCSV(strings.NewReader("Facility Name,WDID\n"))
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Equal(t, []string{"No valid rows parsed from file"}, res.Warnings)

	res, err = ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, []string{"No valid rows parsed from file"}, res.Warnings)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"1/15/2025", "01/15/2025", "2025-01-15", "2025-01-15T13:45:00", "1/15/2025 08:30"} {
		got, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseDate("15th of January")
	assert.False(t, ok)
	_, ok = ParseDate("")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	reg := testRegistry(t)
	parsed, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	samples, warnings := Normalize(parsed.Rows, reg, "https://example.org/export.csv")
	assert.Empty(t, warnings)
	require.Len(t, samples, 3)

	tss := samples[0]
	assert.Equal(t, "TSS", tss.Pollutant)
	assert.Equal(t, 250.0, tss.Value)
	assert.Equal(t, 100.0, tss.Benchmark)
	assert.Equal(t, "2024-2025", tss.ReportingYear)

	copper := samples[1]
	assert.Equal(t, "COPPER", copper.Pollutant)
	assert.Equal(t, pollutants.UnitUgL, copper.Unit)
	assert.Equal(t, 50.0, copper.Value)
	assert.Equal(t, 33.2, copper.Benchmark)

	ph := samples[2]
	assert.Equal(t, pollutants.PHKey, ph.Pollutant)
	assert.Equal(t, pollutants.UnitPH, ph.Unit)
	assert.Zero(t, ph.Benchmark)
}

func TestNormalize_Rejections(t *testing.T) {
	reg := testRegistry(t)
	rows := []Row{
		{Line: 1, FacilityName: "No Permit", Pollutant: "TSS", Value: "1", SampleDate: "2025-01-01"},
		{Line: 2, PermitID: "P1", Pollutant: "TSS", Value: "abc", SampleDate: "2025-01-01"},
		{Line: 3, PermitID: "P1", Pollutant: "TSS", Value: "1", SampleDate: "yesterday"},
		{Line: 4, PermitID: "P1", Pollutant: "Mystery", Value: "1", SampleDate: "2025-01-01"},
		{Line: 5, PermitID: "P1", Pollutant: "TSS", Value: "1", Unit: "pH", SampleDate: "2025-01-01"},
		{Line: 6, PermitID: "P1", Pollutant: "Mystery", Value: "1", Benchmark: "2", SampleDate: "2025-01-01"},
	}
	samples, warnings := Normalize(rows, reg, "")
	require.Len(t, samples, 1)
	assert.Equal(t, "MYSTERY", samples[0].Pollutant)
	assert.Equal(t, "P1", samples[0].FacilityName)

	require.Len(t, warnings, 5)
	assert.Equal(t, "Row 1: missing permit ID", warnings[0])
	assert.Equal(t, `Row 2: invalid value "abc"`, warnings[1])
	assert.Equal(t, `Row 3: invalid sample date "yesterday"`, warnings[2])
	assert.Equal(t, "Row 4: no benchmark for pollutant MYSTERY", warnings[3])
	assert.Contains(t, warnings[4], "cannot convert")
}

func TestNormalize_UnitConversion(t *testing.T) {
	reg := testRegistry(t)
	rows := []Row{{Line: 1, PermitID: "P1", Pollutant: "Total Copper", Value: "0.05", Unit: "mg/L", SampleDate: "2025-03-01", ReportingYear: "2024-2025"}}
	samples, warnings := Normalize(rows, reg, "")
	require.Empty(t, warnings)
	require.Len(t, samples, 1)
	assert.InDelta(t, 50.0, samples[0].Value, 1e-9)
	assert.Equal(t, pollutants.UnitUgL, samples[0].Unit)
}

func TestComputeExceedanceRatio(t *testing.T) {
	r := ComputeExceedanceRatio(250, 100, "TSS")
	require.NotNil(t, r)
	assert.Equal(t, 2.5, *r)

	r = ComputeExceedanceRatio(50, 33.2, "COPPER")
	require.NotNil(t, r)
	assert.Equal(t, 1.506, *r)

	assert.Nil(t, ComputeExceedanceRatio(5.2, 0, pollutants.PHKey))
	assert.Nil(t, ComputeExceedanceRatio(10, 0, "TSS"))
}

func TestIsDuplicate(t *testing.T) {
	day := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	existing := facilities.Sample{Pollutant: "TSS", SampleDate: day, Value: 100}

	assert.True(t, IsDuplicate(existing, NormalizedSample{Pollutant: "TSS", SampleDate: day, Value: 104}, DuplicateTolerance))
	assert.False(t, IsDuplicate(existing, NormalizedSample{Pollutant: "TSS", SampleDate: day, Value: 106}, DuplicateTolerance))
	assert.False(t, IsDuplicate(existing, NormalizedSample{Pollutant: "COPPER", SampleDate: day, Value: 100}, DuplicateTolerance))
	assert.False(t, IsDuplicate(existing, NormalizedSample{Pollutant: "TSS", SampleDate: day.AddDate(0, 0, 1), Value: 100}, DuplicateTolerance))

	zero := facilities.Sample{Pollutant: "TSS", SampleDate: day}
	assert.True(t, IsDuplicate(zero, NormalizedSample{Pollutant: "TSS", SampleDate: day}, DuplicateTolerance))
}

type memStore struct {
	facilities  map[string]facilities.Facility
	samples     []facilities.Sample
	provenance  []*Provenance
	failSamples bool
}

func newMemStore() *memStore {
	return &memStore{facilities: map[string]facilities.Facility{}}
}

func (m *memStore) WithTx(_ context.Context, fn func(Store) error) error {
	snapshotFacilities := make(map[string]facilities.Facility, len(m.facilities))
	for k, v := range m.facilities {
		snapshotFacilities[k] = v
	}
	snapshotSamples := append([]facilities.Sample(nil), m.samples...)
	snapshotProv := append([]*Provenance(nil), m.provenance...)

	if err := fn(m); err != nil {
		m.facilities, m.samples, m.provenance = snapshotFacilities, snapshotSamples, snapshotProv
		return err
	}
	return nil
}

func (m *memStore) CreateProvenance(_ context.Context, p *Provenance) error {
	p.ID = uuid.New()
	m.provenance = append(m.provenance, p)
	return nil
}

func (m *memStore) UpdateProvenance(context.Context, *Provenance) error { return nil }

func (m *memStore) UpsertFacility(_ context.Context, in NormalizedSample, now time.Time) (facilities.Facility, bool, error) {
	if f, ok := m.facilities[in.PermitID]; ok {
		return f, false, nil
	}
	f := facilities.Facility{ID: uuid.New(), Name: in.FacilityName, PermitID: in.PermitID, County: in.County, LastSeenAt: &now}
	m.facilities[in.PermitID] = f
	return f, true, nil
}

func (m *memStore) FindSample(_ context.Context, facilityID uuid.UUID, pollutant string, day time.Time) (*facilities.Sample, error) {
	for i := range m.samples {
		s := m.samples[i]
		if s.FacilityID == facilityID && s.Pollutant == pollutant && s.SampleDate.Equal(day) {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateSample(_ context.Context, s *facilities.Sample) error {
	if m.failSamples {
		return errors.New("disk full")
	}
	s.ID = uuid.New()
	m.samples = append(m.samples, *s)
	return nil
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, testRegistry(t), clock, logger, observability.NewMetricsForTesting())
}

func TestService_Ingest(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)

	res, err := svc.Ingest(context.Background(), strings.NewReader(sampleCSV), Options{FileName: "acme.csv", UploadedBy: "admin-1"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, Counts{FacilitiesCreated: 1, SamplesInserted: 3, RowsParsed: 3}, res.Counts)
	assert.Len(t, res.Warnings, 1)
	assert.NotEqual(t, uuid.Nil, res.ProvenanceID)

	require.Len(t, store.samples, 3)
	tss := store.samples[0]
	require.NotNil(t, tss.ExceedanceRatio)
	assert.Equal(t, 2.5, *tss.ExceedanceRatio)
	assert.Equal(t, SourceCIWQS, tss.Source)
	assert.Nil(t, store.samples[2].ExceedanceRatio)

	require.Len(t, store.provenance, 1)
	assert.Equal(t, 3, store.provenance[0].SamplesInserted)
	assert.Equal(t, "Ingested 3 samples", store.provenance[0].Notes)
	assert.Equal(t, "admin-1", store.provenance[0].UploadedBy)

	// A second upload of the same file stores nothing new.
	res, err = svc.Ingest(context.Background(), strings.NewReader(sampleCSV), Options{FileName: "acme.csv"})
	require.NoError(t, err)
	assert.Equal(t, Counts{SamplesInserted: 0, DuplicatesSkipped: 3, RowsParsed: 3}, res.Counts)
	assert.Len(t, store.samples, 3)
}

func TestService_Ingest_NoValidRows(t *testing.T) {
	svc := newTestService(t, newMemStore())

	res, err := svc.Ingest(context.Background(), strings.NewReader("Facility Name,WDID\n"), Options{})
	assert.ErrorIs(t, err, ErrNoValidRows)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"No valid rows parsed from file"}, res.Warnings)
}

func TestService_Ingest_RollsBackOnStoreError(t *testing.T) {
	store := newMemStore()
	store.failSamples = true
	svc := newTestService(t, store)

	_, err := svc.Ingest(context.Background(), strings.NewReader(sampleCSV), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, store.facilities)
	assert.Empty(t, store.provenance)
}

func multipartUpload(t *testing.T, field, name, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("source_url", "https://ciwqs.example/export"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadSamples(t *testing.T) {
	prev := service
	t.Cleanup(func() { service = prev })

	store := newMemStore()
	service = newTestService(t, store)

	rec := httptest.NewRecorder()
	UploadSamples(rec, multipartUpload(t, "file", "acme.csv", sampleCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Counts.SamplesInserted)
	assert.Equal(t, "https://ciwqs.example/export", store.samples[0].SourceDocURL)
	assert.Equal(t, "https://ciwqs.example/export", store.samples[0].Source)
}

func TestUploadSamples_Errors(t *testing.T) {
	prev := service
	t.Cleanup(func() { service = prev })
	service = newTestService(t, newMemStore())

	rec := httptest.NewRecorder()
	UploadSamples(rec, multipartUpload(t, "", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No file provided")

	rec = httptest.NewRecorder()
	UploadSamples(rec, multipartUpload(t, "file", "empty.csv", "Facility Name\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "No valid rows in file", body["error"])
}
