package facilities

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var reportingYearPattern = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// ReportingYear returns the permit reporting year containing t. Years run
// July 1 through June 30 and are labelled "YYYY-YYYY".
func ReportingYear(t time.Time) string {
	start := t.Year()
	if t.Month() < time.July {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// CurrentReportingYears returns the previous and current reporting years as
// seen from now.
func CurrentReportingYears(now time.Time) []string {
	current := ReportingYear(now)
	previous := ReportingYear(now.AddDate(-1, 0, 0))
	return []string{previous, current}
}

// ValidReportingYear reports whether s is a well-formed, consecutive year pair.
func ValidReportingYear(s string) bool {
	m := reportingYearPattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	return end == start+1
}

// ReportingYearBounds returns the first and last day of a reporting year.
func ReportingYearBounds(s string) (time.Time, time.Time, error) {
	if !ValidReportingYear(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid reporting year %q", s)
	}
	start, _ := strconv.Atoi(s[:4])
	from := time.Date(start, time.July, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(start+1, time.June, 30, 0, 0, 0, 0, time.UTC)
	return from, to, nil
}
