package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// Row is one CSV record keyed by canonical column names.
type Row struct {
	Line           int
	FacilityName   string
	PermitID       string
	Pollutant      string
	Value          string
	Unit           string
	Benchmark      string
	SampleDate     string
	ReportingYear  string
	County         string
	Lat            string
	Lon            string
	ReceivingWater string
}

type ParseResult struct {
	Rows     []Row
	Warnings []string
	Checksum string
}

const (
	colFacilityName   = "facility_name"
	colPermitID       = "permit_id"
	colPollutant      = "pollutant"
	colValue          = "value"
	colUnit           = "unit"
	colBenchmark      = "benchmark"
	colSampleDate     = "sample_date"
	colReportingYear  = "reporting_year"
	colCounty         = "county"
	colLat            = "lat"
	colLon            = "lon"
	colReceivingWater = "receiving_water"
)

// Header spellings seen in CIWQS and SMARTS exports.
var columnAliases = map[string]string{
	"facility name":        colFacilityName,
	"facility_name":        colFacilityName,
	"wdid":                 colPermitID,
	"permit id":            colPermitID,
	"permit_id":            colPermitID,
	"parameter":            colPollutant,
	"pollutant":            colPollutant,
	"value":                colValue,
	"result":               colValue,
	"unit":                 colUnit,
	"units":                colUnit,
	"benchmark":            colBenchmark,
	"nal":                  colBenchmark,
	"occurrence date":      colSampleDate,
	"occurrence_date":      colSampleDate,
	"sample date":          colSampleDate,
	"sample_date":          colSampleDate,
	"reporting year":       colReportingYear,
	"reporting_year":       colReportingYear,
	"county":               colCounty,
	"regional board":       colCounty,
	"latitude":             colLat,
	"lat":                  colLat,
	"longitude":            colLon,
	"lon":                  colLon,
	"receiving water":      colReceivingWater,
	"receiving_water":      colReceivingWater,
	"receiving water body": colReceivingWater,
	"receiving_water_body": colReceivingWater,
}

func normalizeHeader(h string) string {
	n := strings.ToLower(strings.TrimSpace(h))
	if c, ok := columnAliases[n]; ok {
		return c
	}
	return n
}

// ParseCSV reads an upload, maps its headers and keeps rows carrying the
// minimum fields. Rejected rows are reported as warnings.
func ParseCSV(r io.Reader) (ParseResult, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return ParseResult{}, fmt.Errorf("read upload: %w", err)
	}
	sum := sha256.Sum256(payload)
	result := ParseResult{Checksum: hex.EncodeToString(sum[:])}

	cr := csv.NewReader(bytes.NewReader(payload))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		result.Warnings = append(result.Warnings, "No valid rows parsed from file")
		return result, nil
	}
	if err != nil {
		return ParseResult{}, fmt.Errorf("CSV parsing failed: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	col := map[string]int{}
	for i, h := range header {
		if _, dup := col[normalizeHeader(h)]; !dup {
			col[normalizeHeader(h)] = i
		}
	}

	for n := 1; ; n++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ParseResult{}, fmt.Errorf("CSV parsing failed: %w", err)
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		row := Row{
			Line:           n,
			FacilityName:   get(colFacilityName),
			PermitID:       get(colPermitID),
			Pollutant:      get(colPollutant),
			Value:          get(colValue),
			Unit:           get(colUnit),
			Benchmark:      get(colBenchmark),
			SampleDate:     get(colSampleDate),
			ReportingYear:  get(colReportingYear),
			County:         get(colCounty),
			Lat:            get(colLat),
			Lon:            get(colLon),
			ReceivingWater: get(colReceivingWater),
		}

		if problems := validateRow(row); len(problems) > 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Row %d: %s", n, strings.Join(problems, "; ")))
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	if len(result.Rows) == 0 {
		result.Warnings = append(result.Warnings, "No valid rows parsed from file")
	}
	return result, nil
}

func validateRow(row Row) []string {
	var problems []string
	if row.FacilityName == "" && row.PermitID == "" {
		problems = append(problems, "Missing facility name or permit ID")
	}
	if row.Pollutant == "" {
		problems = append(problems, "Missing pollutant/parameter")
	}
	if row.Value == "" {
		problems = append(problems, "Missing value/result")
	}
	if row.SampleDate == "" {
		problems = append(problems, "Missing sample date")
	}
	return problems
}

var dateLayouts = []string{
	"1/2/2006",
	"2006-1-2",
	"1-2-2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseDate accepts US and ISO date forms and returns a UTC calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
