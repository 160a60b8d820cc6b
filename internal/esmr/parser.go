package esmr

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DefaultBatchSize = 1000

var requiredColumns = []string{
	"region",
	"location",
	"location_place_id",
	"parameter",
	"qualifier",
	"units",
	"sampling_date",
	"sampling_time",
	"facility_name",
	"facility_place_id",
	"smr_document_id",
}

// Record is one eSMR row split into the rows it touches in each table.
type Record struct {
	Row       int
	Region    Region
	Facility  Facility
	Location  Location
	Parameter string
	Method    *AnalyticalMethod
	Sample    Sample
}

// RowError is a row that could not be transformed. Rows are numbered from 1,
// not counting the header.
type RowError struct {
	Row     int
	Message string
}

func (e RowError) Error() string { return fmt.Sprintf("Row %d: %s", e.Row, e.Message) }

func ParseQualifier(raw string) (Qualifier, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "=":
		return QualifierDetected, nil
	case "<":
		return QualifierLessThan, nil
	case ">":
		return QualifierGreaterThan, nil
	case "ND":
		return QualifierNotDetected, nil
	case "DNQ":
		return QualifierDetectedNotQuantified, nil
	}
	return "", fmt.Errorf("unknown qualifier: %s", raw)
}

// ParseLocationType maps labels such as "Effluent Monitoring" by keyword.
func ParseLocationType(raw string) (LocationType, error) {
	n := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.Contains(n, "EFFLUENT"):
		return LocationEffluent, nil
	case strings.Contains(n, "INFLUENT"):
		return LocationInfluent, nil
	case strings.Contains(n, "RECEIVING"):
		return LocationReceivingWater, nil
	case strings.Contains(n, "RECYCLED"):
		return LocationRecycledWater, nil
	case strings.Contains(n, "INTERNAL"):
		return LocationInternal, nil
	case strings.Contains(n, "GROUND"):
		return LocationGroundwater, nil
	}
	return "", fmt.Errorf("unknown location type: %s", raw)
}

var regionPattern = regexp.MustCompile(`(?i)Region\s+(\d+[A-Z]?)`)

// RegionCode turns "Region 5F - Central Valley" into "R5F".
func RegionCode(name string) (string, error) {
	m := regionPattern.FindStringSubmatch(name)
	if m == nil {
		return "", fmt.Errorf("cannot extract region code from: %s", name)
	}
	return "R" + strings.ToUpper(m[1]), nil
}

func isBlank(raw string) bool {
	t := strings.TrimSpace(raw)
	return t == "" || t == "NA" || t == "NaN"
}

func cleanString(raw string) *string {
	if isBlank(raw) {
		return nil
	}
	s := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	return &s
}

func parseDecimal(raw string) *float64 {
	if isBlank(raw) {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseBool(raw string) *bool {
	if isBlank(raw) {
		return nil
	}
	var b bool
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "Y", "YES":
		b = true
	case "N", "NO":
		b = false
	default:
		return nil
	}
	return &b
}

func parseID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", field, raw)
	}
	return id, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006",
}

func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %s", raw)
}

// parseTime normalises "H:MM" or "HH:MM:SS" to "HH:MM:SS". Blank means
// midnight.
func parseTime(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if isBlank(s) {
		return "00:00:00", nil
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("invalid time: %s", raw)
	}
	limits := []int{23, 59, 59}
	vals := []int{0, 0, 0}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return "", fmt.Errorf("invalid time: %s", raw)
		}
		vals[i] = v
	}
	return fmt.Sprintf("%02d:%02d:%02d", vals[0], vals[1], vals[2]), nil
}

// TransformRow converts one raw row keyed by column name.
func TransformRow(raw map[string]string, row int) (Record, error) {
	rec, err := transform(raw)
	if err != nil {
		return Record{}, RowError{Row: row, Message: err.Error()}
	}
	rec.Row = row
	return rec, nil
}

func transform(raw map[string]string) (Record, error) {
	regionName := strings.TrimSpace(raw["region"])
	code, err := RegionCode(regionName)
	if err != nil {
		return Record{}, err
	}

	facilityID, err := parseID("facility_place_id", raw["facility_place_id"])
	if err != nil {
		return Record{}, err
	}
	locationID, err := parseID("location_place_id", raw["location_place_id"])
	if err != nil {
		return Record{}, err
	}
	docID, err := parseID("smr_document_id", raw["smr_document_id"])
	if err != nil {
		return Record{}, err
	}

	locType, err := ParseLocationType(raw["location_place_type"])
	if err != nil {
		return Record{}, err
	}
	qualifier, err := ParseQualifier(raw["qualifier"])
	if err != nil {
		return Record{}, err
	}

	parameter := strings.TrimSpace(raw["parameter"])
	if parameter == "" {
		return Record{}, errors.New("missing parameter")
	}
	units := strings.TrimSpace(raw["units"])
	if isBlank(units) {
		return Record{}, errors.New("missing units")
	}

	samplingDate, err := parseDate(raw["sampling_date"])
	if err != nil {
		return Record{}, err
	}
	samplingTime, err := parseTime(raw["sampling_time"])
	if err != nil {
		return Record{}, err
	}

	var analysisDate *time.Time
	if !isBlank(raw["analysis_date"]) {
		d, err := parseDate(raw["analysis_date"])
		if err != nil {
			return Record{}, err
		}
		analysisDate = &d
	}
	var analysisTime *string
	if !isBlank(raw["analysis_time"]) {
		t, err := parseTime(raw["analysis_time"])
		if err != nil {
			return Record{}, err
		}
		analysisTime = &t
	}

	facilityName := strings.TrimSpace(raw["facility_name"])
	if facilityName == "" {
		facilityName = fmt.Sprintf("Facility %d", facilityID)
	}
	locationCode := strings.TrimSpace(raw["location"])
	if locationCode == "" {
		locationCode = fmt.Sprintf("LOC-%d", locationID)
	}

	var method *AnalyticalMethod
	methodCode := cleanString(raw["analytical_method_code"])
	if methodName := cleanString(raw["analytical_method"]); methodCode != nil && methodName != nil {
		method = &AnalyticalMethod{MethodCode: *methodCode, MethodName: *methodName}
	}

	return Record{
		Region: Region{Code: code, Name: regionName},
		Facility: Facility{
			FacilityPlaceID:    facilityID,
			FacilityName:       facilityName,
			RegionCode:         code,
			ReceivingWaterBody: cleanString(raw["receiving_water_body"]),
		},
		Location: Location{
			LocationPlaceID: locationID,
			FacilityPlaceID: facilityID,
			LocationCode:    locationCode,
			LocationType:    locType,
			Latitude:        parseDecimal(raw["latitude"]),
			Longitude:       parseDecimal(raw["longitude"]),
			LocationDesc:    cleanString(raw["location_desc"]),
		},
		Parameter: parameter,
		Method:    method,
		Sample: Sample{
			LocationPlaceID:         locationID,
			AnalyticalMethodCode:    methodCode,
			CalculatedMethod:        cleanString(raw["calculated_method"]),
			SamplingDate:            samplingDate,
			SamplingTime:            samplingTime,
			AnalysisDate:            analysisDate,
			AnalysisTime:            analysisTime,
			Qualifier:               qualifier,
			Result:                  parseDecimal(raw["result"]),
			Units:                   units,
			MDL:                     parseDecimal(raw["mdl"]),
			ML:                      parseDecimal(raw["ml"]),
			RL:                      parseDecimal(raw["rl"]),
			ReviewPriorityIndicator: parseBool(raw["review_priority_indicator"]),
			QACodes:                 cleanString(raw["qa_codes"]),
			Comments:                cleanString(raw["comments"]),
			ReportName:              strings.TrimSpace(raw["report_name"]),
			SMRDocumentID:           docID,
		},
	}, nil
}

// Reader streams records out of an eSMR analytical export.
type Reader struct {
	cr     *csv.Reader
	header []string
	row    int
}

// NewReader reads the header and checks the required columns are present.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = strings.ToLower(strings.TrimSpace(h))
		seen[cols[i]] = true
	}

	var missing []string
	for _, c := range requiredColumns {
		if !seen[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return &Reader{cr: cr, header: cols}, nil
}

// Next returns up to n transformed records along with the rows that failed.
// It returns io.EOF once the input is exhausted and nothing was read.
func (r *Reader) Next(n int) ([]Record, []RowError, error) {
	if n <= 0 {
		n = DefaultBatchSize
	}
	var (
		out  []Record
		errs []RowError
	)
	for len(out) < n {
		fields, err := r.cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.row++
			errs = append(errs, RowError{Row: r.row, Message: perr.Err.Error()})
			continue
		}
		if err != nil {
			return out, errs, err
		}
		if blankLine(fields) {
			continue
		}
		r.row++

		raw := make(map[string]string, len(r.header))
		for i, col := range r.header {
			if i < len(fields) {
				raw[col] = strings.TrimSpace(fields[i])
			}
		}
		rec, err := TransformRow(raw, r.row)
		if err != nil {
			var rerr RowError
			errors.As(err, &rerr)
			errs = append(errs, rerr)
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 && len(errs) == 0 {
		return nil, nil, io.EOF
	}
	return out, errs, nil
}

func blankLine(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
