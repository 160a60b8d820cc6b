package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"golang.org/x/sync/errgroup"
)

const workers = 8

// Options selects which facilities to enrich and with which layers.
type Options struct {
	FacilityIDs []uuid.UUID
	// Force re-enriches facilities that already have an enriched_at.
	Force    bool
	Datasets []string
}

type Stats struct {
	Total    int      `json:"total"`
	Enriched int      `json:"enriched"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// Enricher fills county, watershed, MS4 and DAC attributes from boundary
// layers, geocoding facilities that have no coordinates first.
type Enricher struct {
	store    Store
	datasets Datasets
	geocoder Geocoder
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewEnricher builds an enricher. geocoder may be nil.
func NewEnricher(store Store, datasets Datasets, geocoder Geocoder, clock clockwork.Clock, logger *slog.Logger) *Enricher {
	return &Enricher{store: store, datasets: datasets, geocoder: geocoder, clock: clock, logger: logger}
}

func (e *Enricher) Datasets() Datasets { return e.datasets }

func (e *Enricher) Run(ctx context.Context, opts Options) (Stats, error) {
	stats := Stats{Errors: []string{}}
	list, err := e.store.Candidates(ctx, opts)
	if err != nil {
		return stats, fmt.Errorf("loading facilities: %w", err)
	}
	stats.Total = len(list)
	ds := e.datasets.Only(opts.Datasets)
	e.logger.Info("spatial enrichment starting", "facilities", stats.Total, "datasets", ds.Loaded())

	// Per-facility failures are collected in stats, so workers never return
	// an error and one bad facility does not stop the rest.
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, f := range list {
		if ctx.Err() != nil {
			break
		}
		f := f
		g.Go(func() error {
			enriched, err := e.enrichOne(ctx, ds, f)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", f.ID, err))
			case enriched:
				stats.Enriched++
			default:
				stats.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(stats.Errors)

	e.logger.Info("spatial enrichment finished",
		"enriched", stats.Enriched,
		"skipped", stats.Skipped,
		"errors", len(stats.Errors),
	)
	return stats, ctx.Err()
}

func (e *Enricher) enrichOne(ctx context.Context, ds Datasets, f facilities.Facility) (bool, error) {
	var u Update
	lat, lon := f.Lat, f.Lon
	if !f.HasLocation() {
		if e.geocoder == nil {
			return false, nil
		}
		p, ok, err := e.geocoder.ForwardGeocode(ctx, geocodeQuery(f))
		if err != nil {
			return false, fmt.Errorf("geocode: %w", err)
		}
		if !ok {
			return false, nil
		}
		lat, lon = p.Lat, p.Lon
		u.Lat, u.Lon = &lat, &lon
	}

	u.Fields = ds.Lookup(Current{County: f.County, WatershedHUC12: f.WatershedHUC12, MS4: f.MS4}, lat, lon)
	if u.Fields.empty() && u.Lat == nil {
		return false, nil
	}
	u.EnrichedAt = e.clock.Now()
	if err := e.store.Apply(ctx, f.ID, u); err != nil {
		return false, err
	}
	return true, nil
}

func geocodeQuery(f facilities.Facility) string {
	parts := []string{f.Name}
	if f.County != "" {
		parts = append(parts, f.County+" County")
	}
	parts = append(parts, "California")
	return strings.Join(parts, ", ")
}
