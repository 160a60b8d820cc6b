package violations

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/events"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

// DetectionConfig tunes which samples become violation events.
type DetectionConfig struct {
	MinRatio                float64 `json:"min_ratio"`
	RepeatOffenderThreshold int     `json:"repeat_offender_threshold"`
	ImpairedWaterBonus      bool    `json:"impaired_water_bonus"`
}

func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{MinRatio: 1.0, RepeatOffenderThreshold: 2, ImpairedWaterBonus: true}
}

// Aggregate is one facility+pollutant group ready to be upserted.
type Aggregate struct {
	FacilityID    uuid.UUID
	PermitID      string
	Pollutant     string
	ReportingYear string
	FirstDate     time.Time
	LastDate      time.Time
	Count         int
	MaxRatio      float64
	ImpairedWater bool
}

// AggregateSamples groups qualifying samples of one reporting year by
// facility and pollutant. A sample qualifies when its exceedance ratio is at
// least cfg.MinRatio, or when it is a pH reading outside the acceptable range.
// Groups smaller than the repeat offender threshold are dropped.
func AggregateSamples(samples []facilities.Sample, year string, cfg DetectionConfig, reg *pollutants.Registry) []Aggregate {
	phMin, phMax := reg.PHRange()

	ordered := make([]facilities.Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SampleDate.Before(ordered[j].SampleDate) })

	type groupKey struct {
		facility  uuid.UUID
		pollutant string
	}
	var keys []groupKey
	groups := map[groupKey][]facilities.Sample{}

	for _, s := range ordered {
		if !qualifies(s, cfg.MinRatio, phMin, phMax) {
			continue
		}
		k := groupKey{s.FacilityID, s.Pollutant}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s)
	}

	var out []Aggregate
	for _, k := range keys {
		group := groups[k]
		if len(group) < cfg.RepeatOffenderThreshold {
			continue
		}

		var maxRatio float64
		for _, s := range group {
			r := 1.0
			if s.ExceedanceRatio != nil {
				r = *s.ExceedanceRatio
			}
			maxRatio = math.Max(maxRatio, r)
		}

		agg := Aggregate{
			FacilityID:    k.facility,
			Pollutant:     k.pollutant,
			ReportingYear: year,
			FirstDate:     group[0].SampleDate,
			LastDate:      group[len(group)-1].SampleDate,
			Count:         len(group),
			MaxRatio:      math.Round(maxRatio*100) / 100,
		}
		if f := group[0].Facility; f != nil {
			agg.PermitID = f.PermitID
			agg.ImpairedWater = cfg.ImpairedWaterBonus && IsImpairedWater(f.ReceivingWater)
		}
		out = append(out, agg)
	}
	return out
}

func qualifies(s facilities.Sample, minRatio, phMin, phMax float64) bool {
	if s.ExceedanceRatio != nil {
		return *s.ExceedanceRatio >= minRatio
	}
	return s.Pollutant == pollutants.PHKey && (s.Value < phMin || s.Value > phMax)
}

// IsImpairedWater flags receiving waters on the impaired list. Only bays are
// recognised until a 303(d) dataset is loaded.
func IsImpairedWater(receivingWater string) bool {
	return strings.Contains(strings.ToLower(receivingWater), "bay")
}

type RecomputeOptions struct {
	ReportingYear string     `json:"reporting_year"`
	FacilityID    *uuid.UUID `json:"facility_id"`
	Config        DetectionConfig
}

type RecomputeResult struct {
	Success        bool     `json:"success"`
	ProcessedCount int      `json:"processed_count"`
	Years          []string `json:"years"`
}

// Detector rebuilds violation events from stored samples.
type Detector struct {
	store     Store
	registry  *pollutants.Registry
	publisher events.Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewDetector(store Store, registry *pollutants.Registry, publisher events.Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Detector {
	return &Detector{
		store:     store,
		registry:  registry,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Recompute aggregates samples for the requested reporting year, or the
// previous and current years when none is given, and upserts the results.
func (d *Detector) Recompute(ctx context.Context, opts RecomputeOptions) (RecomputeResult, error) {
	start := d.clock.Now()
	defer func() { d.metrics.RecomputeDuration.Observe(d.clock.Since(start).Seconds()) }()

	// A zero Config means the caller wants the defaults, impaired flag included.
	cfg := opts.Config
	def := DefaultDetectionConfig()
	if cfg == (DetectionConfig{}) {
		cfg = def
	}
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = def.MinRatio
	}
	if cfg.RepeatOffenderThreshold <= 0 {
		cfg.RepeatOffenderThreshold = def.RepeatOffenderThreshold
	}

	years := []string{opts.ReportingYear}
	if opts.ReportingYear == "" {
		years = facilities.CurrentReportingYears(start.UTC())
	} else if !facilities.ValidReportingYear(opts.ReportingYear) {
		return RecomputeResult{}, fmt.Errorf("%w: %q", ErrInvalidReportingYear, opts.ReportingYear)
	}

	res := RecomputeResult{Years: years}
	var published []events.ViolationDetected
	for _, year := range years {
		samples, err := d.store.QualifyingSamples(ctx, year, opts.FacilityID, cfg.MinRatio)
		if err != nil {
			return RecomputeResult{}, fmt.Errorf("load samples for %s: %w", year, err)
		}

		for _, agg := range AggregateSamples(samples, year, cfg, d.registry) {
			ev := &ViolationEvent{
				FacilityID:    agg.FacilityID,
				Pollutant:     agg.Pollutant,
				ReportingYear: agg.ReportingYear,
				FirstDate:     agg.FirstDate,
				LastDate:      agg.LastDate,
				Count:         agg.Count,
				MaxRatio:      agg.MaxRatio,
				ImpairedWater: agg.ImpairedWater,
			}
			if err := d.store.UpsertEvent(ctx, ev); err != nil {
				return RecomputeResult{}, fmt.Errorf("upsert violation %s/%s/%s: %w", agg.FacilityID, agg.Pollutant, year, err)
			}
			res.ProcessedCount++
			published = append(published, events.ViolationDetected{
				ViolationID:   ev.ID,
				FacilityID:    agg.FacilityID,
				PermitID:      agg.PermitID,
				Pollutant:     agg.Pollutant,
				ReportingYear: year,
				Count:         agg.Count,
				MaxRatio:      agg.MaxRatio,
				ImpairedWater: agg.ImpairedWater,
				DetectedAt:    start.UTC(),
			})
		}
	}
	d.metrics.ViolationsUpserted.Add(float64(res.ProcessedCount))

	if err := d.publisher.PublishViolations(ctx, published); err != nil {
		d.metrics.EventsPublished.WithLabelValues("error").Add(float64(len(published)))
		d.logger.Error("publish violation events", "count", len(published), "error", err)
	} else {
		d.metrics.EventsPublished.WithLabelValues("success").Add(float64(len(published)))
	}

	d.logger.Info("violations recomputed",
		"years", years,
		"processed", res.ProcessedCount,
		"duration_ms", d.clock.Since(start).Milliseconds(),
	)
	res.Success = true
	return res, nil
}
