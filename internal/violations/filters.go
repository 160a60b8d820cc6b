package violations

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"github.com/stormwaterwatch/sww-backend/internal/ingest"
)

var (
	ErrNotFound             = errors.New("violation not found")
	ErrInvalidReportingYear = errors.New("invalid reporting year")
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Filter narrows the violation list. Zero values mean "no constraint", except
// HideDismissed which callers set explicitly.
type Filter struct {
	Pollutants    []string
	Counties      []string
	HUC12s        []string
	MS4s          []string
	Years         []string
	MinRatio      *float64
	ImpairedOnly  bool
	HideDismissed bool
	DateFrom      *time.Time
	DateTo        *time.Time
	Limit         int
	Offset        int
}

// ParseFilter reads list filters from the query string. hide_dismissed
// defaults to true and date_to covers the whole day.
func ParseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Pollutants:    httputil.ListParam(r, "pollutants"),
		Counties:      httputil.ListParam(r, "counties"),
		HUC12s:        httputil.ListParam(r, "huc12s"),
		MS4s:          httputil.ListParam(r, "ms4s"),
		Years:         httputil.ListParam(r, "years"),
		ImpairedOnly:  httputil.BoolParam(r, "impaired_only", false),
		HideDismissed: httputil.BoolParam(r, "hide_dismissed", true),
	}

	var err error
	f.Limit, f.Offset, err = httputil.ParseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		return Filter{}, err
	}

	if s := q.Get("min_ratio"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return Filter{}, fmt.Errorf("invalid min_ratio %q", s)
		}
		f.MinRatio = &v
	}
	if s := q.Get("date_from"); s != "" {
		t, ok := ingest.ParseDate(s)
		if !ok {
			return Filter{}, fmt.Errorf("invalid date_from %q", s)
		}
		f.DateFrom = &t
	}
	if s := q.Get("date_to"); s != "" {
		t, ok := ingest.ParseDate(s)
		if !ok {
			return Filter{}, fmt.Errorf("invalid date_to %q", s)
		}
		end := t.Add(24*time.Hour - time.Millisecond)
		f.DateTo = &end
	}
	return f, nil
}

func (f Filter) hasFacilityFilter() bool {
	return len(f.Counties) > 0 || len(f.HUC12s) > 0 || len(f.MS4s) > 0
}

// FilterOptions lists the distinct values the UI can filter on.
type FilterOptions struct {
	Pollutants []string `json:"pollutants"`
	Counties   []string `json:"counties"`
	HUC12s     []string `json:"huc12s"`
	MS4s       []string `json:"ms4s"`
	Years      []string `json:"years"`
}
