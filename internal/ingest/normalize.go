package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
)

// DuplicateTolerance is the relative value difference under which a sample
// on the same facility, pollutant and day counts as already stored.
const DuplicateTolerance = 0.05

// NormalizedSample is a row resolved to canonical pollutant, units and
// reporting year.
type NormalizedSample struct {
	Line           int
	FacilityName   string
	PermitID       string
	Pollutant      string
	Value          float64
	Unit           string
	Benchmark      float64
	BenchmarkUnit  string
	SampleDate     time.Time
	ReportingYear  string
	SourceDocURL   string
	County         string
	ReceivingWater string
	Lat            float64
	Lon            float64
}

// Normalize converts parsed rows into samples, skipping rows that cannot be
// interpreted and reporting why.
func Normalize(rows []Row, reg *pollutants.Registry, sourceURL string) ([]NormalizedSample, []string) {
	var (
		out      []NormalizedSample
		warnings []string
	)
	for _, row := range rows {
		s, err := normalizeRow(row, reg, sourceURL)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Row %d: %v", row.Line, err))
			continue
		}
		out = append(out, s)
	}
	return out, warnings
}

func normalizeRow(row Row, reg *pollutants.Registry, sourceURL string) (NormalizedSample, error) {
	if row.PermitID == "" {
		return NormalizedSample{}, fmt.Errorf("missing permit ID")
	}

	key := reg.Resolve(row.Pollutant)
	cfg, known := reg.Lookup(key)

	value, err := parseNumber(row.Value)
	if err != nil {
		return NormalizedSample{}, fmt.Errorf("invalid value %q", row.Value)
	}
	date, ok := ParseDate(row.SampleDate)
	if !ok {
		return NormalizedSample{}, fmt.Errorf("invalid sample date %q", row.SampleDate)
	}

	unit := pollutants.NormalizeUnit(row.Unit)
	if unit == "" {
		unit = pollutants.UnitMgL
		if key == pollutants.PHKey {
			unit = pollutants.UnitPH
		}
	}
	canonical := unit
	if known {
		canonical = cfg.CanonicalUnit
	}

	var benchmark float64
	benchmarkUnit := unit
	switch {
	case row.Benchmark != "":
		benchmark, err = parseNumber(row.Benchmark)
		if err != nil {
			return NormalizedSample{}, fmt.Errorf("invalid benchmark %q", row.Benchmark)
		}
	case known && cfg.Benchmark != nil:
		benchmark, benchmarkUnit = *cfg.Benchmark, cfg.BenchmarkUnit
	case key == pollutants.PHKey:
	default:
		return NormalizedSample{}, fmt.Errorf("no benchmark for pollutant %s", key)
	}

	converted, ok := pollutants.ConvertUnit(value, unit, canonical)
	if !ok {
		return NormalizedSample{}, fmt.Errorf("cannot convert %s to %s", unit, canonical)
	}
	convertedBenchmark, ok := pollutants.ConvertUnit(benchmark, benchmarkUnit, canonical)
	if !ok {
		return NormalizedSample{}, fmt.Errorf("cannot convert benchmark %s to %s", benchmarkUnit, canonical)
	}

	year := row.ReportingYear
	if !facilities.ValidReportingYear(year) {
		year = facilities.ReportingYear(date)
	}

	s := NormalizedSample{
		Line:           row.Line,
		FacilityName:   row.FacilityName,
		PermitID:       row.PermitID,
		Pollutant:      key,
		Value:          converted,
		Unit:           canonical,
		Benchmark:      convertedBenchmark,
		BenchmarkUnit:  canonical,
		SampleDate:     date,
		ReportingYear:  year,
		SourceDocURL:   sourceURL,
		County:         row.County,
		ReceivingWater: row.ReceivingWater,
	}
	if s.FacilityName == "" {
		s.FacilityName = row.PermitID
	}
	s.Lat, _ = parseNumber(row.Lat)
	s.Lon, _ = parseNumber(row.Lon)
	return s, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

// ComputeExceedanceRatio returns value/benchmark rounded to four decimals, or
// nil when the pollutant is range based or the benchmark is zero.
func ComputeExceedanceRatio(value, benchmark float64, pollutant string) *float64 {
	if pollutant == pollutants.PHKey || benchmark == 0 {
		return nil
	}
	r := math.Round(value/benchmark*10000) / 10000
	return &r
}

// IsDuplicate reports whether incoming matches a stored sample for the same
// pollutant and day within the relative tolerance.
func IsDuplicate(existing facilities.Sample, incoming NormalizedSample, tolerance float64) bool {
	if existing.Pollutant != incoming.Pollutant {
		return false
	}
	ey, em, ed := existing.SampleDate.Date()
	iy, im, id := incoming.SampleDate.Date()
	if ey != iy || em != im || ed != id {
		return false
	}
	if existing.Value == 0 {
		return incoming.Value == 0
	}
	return math.Abs(existing.Value-incoming.Value)/math.Abs(existing.Value) < tolerance
}
