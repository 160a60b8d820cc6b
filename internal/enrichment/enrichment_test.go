package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/geo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// A box over central Los Angeles.
const laRing = `[[[-118.5, 33.8], [-118.0, 33.8], [-118.0, 34.3], [-118.5, 34.3], [-118.5, 33.8]]]`

func layer(props string) string {
	return fmt.Sprintf(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":%s,"geometry":{"type":"Polygon","coordinates":%s}}]}`, props, laRing)
}

func mustLayer(t *testing.T, props string) *geo.FeatureCollection {
	t.Helper()
	var fc geo.FeatureCollection
	require.NoError(t, json.Unmarshal([]byte(layer(props)), &fc))
	return &fc
}

func testDatasets(t *testing.T) Datasets {
	return Datasets{
		County: mustLayer(t, `{"NAME":"LOS ANGELES"}`),
		HUC12:  mustLayer(t, `{"HUC12":"180701040700","NAME":"Ballona Creek"}`),
		DAC:    mustLayer(t, `{"CIscoreP":82.5,"Tract":"6037207400"}`),
		MS4:    mustLayer(t, `{"AGENCY":"City of Los Angeles"}`),
	}
}

func TestCountyName(t *testing.T) {
	for raw, want := range map[string]string{
		"LOS ANGELES":           "Los Angeles",
		"San Bernardino County": "San Bernardino",
		" contra costa ":        "Contra Costa",
	} {
		assert.Equal(t, want, countyName(raw), raw)
	}
}

func TestDatasetsLookup(t *testing.T) {
	ds := testDatasets(t)

	got := ds.Lookup(Current{}, 34.05, -118.25)
	require.NotNil(t, got.County)
	assert.Equal(t, "Los Angeles", *got.County)
	assert.Equal(t, "180701040700", *got.WatershedHUC12)
	assert.Equal(t, "City of Los Angeles", *got.MS4)
	assert.True(t, *got.IsInDAC)

	got = ds.Lookup(Current{County: "Los Angeles", MS4: "County of LA"}, 34.05, -118.25)
	assert.Nil(t, got.County)
	assert.Nil(t, got.MS4)
	assert.NotNil(t, got.WatershedHUC12)

	got = ds.Lookup(Current{}, 37.80, -122.27)
	assert.Nil(t, got.County)
	assert.Nil(t, got.WatershedHUC12)
	require.NotNil(t, got.IsInDAC)
	assert.False(t, *got.IsInDAC)

	low := Datasets{DAC: mustLayer(t, `{"CIscoreP":40}`)}
	assert.False(t, *low.Lookup(Current{}, 34.05, -118.25).IsInDAC)
}

func TestDatasetsOnly(t *testing.T) {
	ds := testDatasets(t)
	assert.Equal(t, []string{DatasetCounty, DatasetHUC12, DatasetDAC, DatasetMS4}, ds.Loaded())
	assert.Equal(t, []string{DatasetHUC12, DatasetMS4}, ds.Only([]string{"ms4", "huc12"}).Loaded())
	assert.Equal(t, ds.Loaded(), ds.Only(nil).Loaded())
}

func TestLoadDatasets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, datasetFiles[DatasetCounty]), []byte(layer(`{"NAME":"Los Angeles"}`)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, datasetFiles[DatasetDAC]), []byte("not json"), 0o644))

	ds := LoadDatasets(dir, discardLogger())
	assert.Equal(t, []string{DatasetCounty}, ds.Loaded())
	assert.Len(t, ds.County.Features, 1)
}

type fakeStore struct {
	mu         sync.Mutex
	candidates []facilities.Facility
	lastOpts   Options
	applied    map[uuid.UUID]Update
	failFor    uuid.UUID
	status     Status
}

func (s *fakeStore) Candidates(_ context.Context, opts Options) ([]facilities.Facility, error) {
	s.lastOpts = opts
	return s.candidates, nil
}

func (s *fakeStore) Apply(_ context.Context, id uuid.UUID, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.failFor {
		return errors.New("deadlock detected")
	}
	if s.applied == nil {
		s.applied = map[uuid.UUID]Update{}
	}
	s.applied[id] = u
	return nil
}

func (s *fakeStore) Status(context.Context) (Status, error) { return s.status, nil }

type fakeGeocoder struct {
	mu      sync.Mutex
	queries []string
	hits    map[string]Point
}

func (g *fakeGeocoder) ForwardGeocode(_ context.Context, q string) (Point, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, q)
	if strings.HasPrefix(q, "Broken") {
		return Point{}, false, errors.New("mapbox API error: status 401")
	}
	p, ok := g.hits[q]
	return p, ok, nil
}

func TestEnricher_Run(t *testing.T) {
	located := facilities.Facility{ID: uuid.New(), Name: "Harbor Metals", Lat: 34.05, Lon: -118.25}
	geocoded := facilities.Facility{ID: uuid.New(), Name: "Valley Recycling", County: "Los Angeles"}
	unknown := facilities.Facility{ID: uuid.New(), Name: "Nowhere Plating"}
	broken := facilities.Facility{ID: uuid.New(), Name: "Broken Yard"}
	failing := facilities.Facility{ID: uuid.New(), Name: "Pier 400", Lat: 33.9, Lon: -118.2}

	fs := &fakeStore{
		candidates: []facilities.Facility{located, geocoded, unknown, broken, failing},
		failFor:    failing.ID,
	}
	gc := &fakeGeocoder{hits: map[string]Point{
		"Valley Recycling, Los Angeles County, California": {Lat: 34.1, Lon: -118.3},
	}}
	now := time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)
	e := NewEnricher(fs, testDatasets(t), gc, clockwork.NewFakeClockAt(now), discardLogger())

	stats, err := e.Run(context.Background(), Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Enriched)
	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, stats.Errors, 2)
	assert.Contains(t, strings.Join(stats.Errors, "\n"), broken.ID.String()+": geocode: mapbox API error: status 401")
	assert.Contains(t, strings.Join(stats.Errors, "\n"), failing.ID.String()+": deadlock detected")
	assert.True(t, fs.lastOpts.Force)

	u := fs.applied[located.ID]
	assert.Nil(t, u.Lat)
	assert.Equal(t, "Los Angeles", *u.County)
	assert.Equal(t, now, u.EnrichedAt)

	u = fs.applied[geocoded.ID]
	require.NotNil(t, u.Lat)
	assert.Equal(t, 34.1, *u.Lat)
	assert.Equal(t, -118.3, *u.Lon)
	assert.Nil(t, u.County)
	assert.True(t, *u.IsInDAC)

	assert.NotContains(t, fs.applied, unknown.ID)
}

func TestEnricher_SkipsWithoutGeocoderOrLayers(t *testing.T) {
	fs := &fakeStore{candidates: []facilities.Facility{
		{ID: uuid.New(), Name: "No Coordinates"},
		{ID: uuid.New(), Name: "Outside", Lat: 40.0, Lon: -120.0},
	}}
	e := NewEnricher(fs, Datasets{County: mustLayer(t, `{"NAME":"Los Angeles"}`)}, nil, clockwork.NewFakeClock(), discardLogger())

	stats, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Skipped: 2, Errors: []string{}}, stats)
	assert.Empty(t, fs.applied)
}

func TestMapboxClient_ForwardGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		if strings.Contains(r.URL.Path, "Nowhere") {
			_, _ = io.WriteString(w, `{"features":[]}`)
			return
		}
		assert.Contains(t, r.URL.Path, "Harbor Metals, California")
		_, _ = io.WriteString(w, `{"features":[{"center":[-118.25,34.05],"place_name":"Harbor Metals, Los Angeles, CA","relevance":0.9}]}`)
	}))
	defer srv.Close()

	c := NewMapboxClient("test-token", 5*time.Second, discardLogger())
	c.baseURL = srv.URL

	p, ok, err := c.ForwardGeocode(context.Background(), "Harbor Metals, California")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Point{Lat: 34.05, Lon: -118.25, PlaceName: "Harbor Metals, Los Angeles, CA"}, p)

	_, ok, err = c.ForwardGeocode(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Nil(t, NewMapboxClient("", time.Second, discardLogger()))
}

func TestMapboxClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Not Authorized - Invalid Token"}`)
	}))
	defer srv.Close()

	c := NewMapboxClient("bad", time.Second, discardLogger())
	c.baseURL = srv.URL
	_, _, err := c.ForwardGeocode(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func withEnricher(t *testing.T, fs *fakeStore) {
	t.Helper()
	prevStore, prevEnricher, prevLogger := store, enricher, logger
	store = fs
	enricher = NewEnricher(fs, testDatasets(t), nil, clockwork.NewFakeClock(), discardLogger())
	logger = discardLogger()
	t.Cleanup(func() { store, enricher, logger = prevStore, prevEnricher, prevLogger })
}

func TestRunSpatial(t *testing.T) {
	id := uuid.New()
	fs := &fakeStore{candidates: []facilities.Facility{{ID: id, Name: "Harbor Metals", Lat: 34.05, Lon: -118.25}}}
	withEnricher(t, fs)

	rec := httptest.NewRecorder()
	body := `{"mode":"specific","facility_ids":["` + id.String() + `"],"datasets":["county"]}`
	RunSpatial(rec, httptest.NewRequest(http.MethodPost, "/spatial", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"success": true,
		"stats": {"total": 1, "enriched": 1, "skipped": 0, "error_count": 0},
		"errors": [],
		"message": "Enrichment completed successfully"
	}`, rec.Body.String())
	assert.Equal(t, []uuid.UUID{id}, fs.lastOpts.FacilityIDs)
	assert.False(t, fs.lastOpts.Force)
	assert.Nil(t, fs.applied[id].IsInDAC)

	rec = httptest.NewRecorder()
	RunSpatial(rec, httptest.NewRequest(http.MethodPost, "/spatial", strings.NewReader(`{"mode":"all"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fs.lastOpts.Force)
	assert.Nil(t, fs.lastOpts.FacilityIDs)

	for _, bad := range []string{
		`{"mode":"specific"}`,
		`{"mode":"everything"}`,
		`{"datasets":["rivers"]}`,
		`{`,
	} {
		rec = httptest.NewRecorder()
		RunSpatial(rec, httptest.NewRequest(http.MethodPost, "/spatial", strings.NewReader(bad)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestGetStatus(t *testing.T) {
	fs := &fakeStore{status: Status{Total: 4, Enriched: 3, Unenriched: 1, PercentEnriched: 75}}
	withEnricher(t, fs)

	rec := httptest.NewRecorder()
	GetStatus(rec, httptest.NewRequest(http.MethodGet, "/spatial", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"percent_enriched":75`)
}

func TestGetMapboxToken(t *testing.T) {
	prev := mapboxToken
	t.Cleanup(func() { mapboxToken = prev })

	mapboxToken = ""
	rec := httptest.NewRecorder()
	GetMapboxToken(rec, httptest.NewRequest(http.MethodGet, "/mapbox-token", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	mapboxToken = "pk.test"
	rec = httptest.NewRecorder()
	GetMapboxToken(rec, httptest.NewRequest(http.MethodGet, "/mapbox-token", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"token":"pk.test"}`, rec.Body.String())
}
