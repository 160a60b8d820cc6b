package violations

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

type CountyCount struct {
	County string `json:"county"`
	Count  int    `json:"count"`
}

type PollutantCount struct {
	Pollutant string `json:"pollutant"`
	Count     int    `json:"count"`
}

type Stats struct {
	Total         int              `json:"total"`
	ImpairedWater int              `json:"impaired_water"`
	ByCounty      []CountyCount    `json:"by_county"`
	ByPollutant   []PollutantCount `json:"by_pollutant"`
}

// ComputeStats summarises events by county and pollutant, largest first.
// Ties keep the order in which values were first seen.
func ComputeStats(evs []ViolationEvent) Stats {
	st := Stats{Total: len(evs), ByCounty: []CountyCount{}, ByPollutant: []PollutantCount{}}
	countyIdx := map[string]int{}
	pollutantIdx := map[string]int{}

	for _, ev := range evs {
		if ev.ImpairedWater {
			st.ImpairedWater++
		}

		county := ""
		if ev.Facility != nil {
			county = ev.Facility.County
		}
		if i, ok := countyIdx[county]; ok {
			st.ByCounty[i].Count++
		} else {
			countyIdx[county] = len(st.ByCounty)
			st.ByCounty = append(st.ByCounty, CountyCount{County: county, Count: 1})
		}

		if i, ok := pollutantIdx[ev.Pollutant]; ok {
			st.ByPollutant[i].Count++
		} else {
			pollutantIdx[ev.Pollutant] = len(st.ByPollutant)
			st.ByPollutant = append(st.ByPollutant, PollutantCount{Pollutant: ev.Pollutant, Count: 1})
		}
	}

	sort.SliceStable(st.ByCounty, func(i, j int) bool { return st.ByCounty[i].Count > st.ByCounty[j].Count })
	sort.SliceStable(st.ByPollutant, func(i, j int) bool { return st.ByPollutant[i].Count > st.ByPollutant[j].Count })
	return st
}

var exportHeader = []string{
	"Facility Name",
	"Permit ID",
	"County",
	"Pollutant",
	"Reporting Year",
	"First Violation Date",
	"Last Violation Date",
	"Violation Count",
	"Max Exceedance Ratio",
	"Severity",
	"Days Active",
	"Impaired Water",
	"Dismissed",
}

// WriteCSV streams events as a spreadsheet-friendly CSV.
func WriteCSV(w io.Writer, evs []ViolationEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, ev := range evs {
		var name, permit, county string
		if ev.Facility != nil {
			name, permit, county = ev.Facility.Name, ev.Facility.PermitID, ev.Facility.County
		}
		rec := []string{
			name,
			permit,
			county,
			ev.Pollutant,
			ev.ReportingYear,
			ev.FirstDate.Format("2006-01-02"),
			ev.LastDate.Format("2006-01-02"),
			strconv.Itoa(ev.Count),
			fmt.Sprintf("%.2f", ev.MaxRatio),
			ev.Severity(),
			strconv.Itoa(ev.DaysActive()),
			strconv.FormatBool(ev.ImpairedWater),
			strconv.FormatBool(ev.Dismissed),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
