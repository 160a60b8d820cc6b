package subscriptions

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/geo"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

type MatchResult struct {
	Matched bool   `json:"matches"`
	Reason  string `json:"reason"`
}

func noMatch(format string, args ...any) MatchResult {
	return MatchResult{Reason: fmt.Sprintf(format, args...)}
}

// Match decides whether a violation at facility f should be sent to sub.
// The area check runs first, then the ratio, impaired-water and repeat
// offender thresholds. The first failing check supplies the reason.
func Match(sub Subscription, v violations.ViolationEvent, f facilities.Facility) MatchResult {
	if r, ok := matchArea(sub.Mode, sub.Params, f); !ok {
		return r
	}

	if v.MaxRatio < sub.MinRatio {
		return noMatch("Exceedance ratio %.2f below threshold %s", v.MaxRatio, formatNumber(sub.MinRatio))
	}
	if sub.ImpairedOnly && !v.ImpairedWater {
		return noMatch("Subscription requires impaired water but facility doesn't discharge to one")
	}
	if sub.RepeatOffenderThreshold > 1 && v.Count < sub.RepeatOffenderThreshold {
		return noMatch("Violation count %d below repeat offender threshold %d", v.Count, sub.RepeatOffenderThreshold)
	}
	return MatchResult{Matched: true, Reason: "All criteria matched"}
}

func matchArea(mode Mode, p Params, f facilities.Facility) (MatchResult, bool) {
	switch mode {
	case ModePolygon:
		if len(p.Polygon) == 0 || string(p.Polygon) == "null" {
			return noMatch("No polygon defined in subscription params"), false
		}
		area, err := geo.ParseArea(p.Polygon)
		if err != nil {
			return noMatch("Invalid polygon: %v", err), false
		}
		if !f.HasLocation() || !area.Contains(f.Lat, f.Lon) {
			return noMatch("Facility outside polygon boundary"), false
		}

	case ModeBuffer:
		if p.CenterLat == nil || p.CenterLon == nil || p.RadiusKm == nil || *p.RadiusKm <= 0 {
			return noMatch("Invalid buffer params (need center_lat, center_lon, radius_km)"), false
		}
		if !f.HasLocation() || !geo.WithinBuffer(f.Lat, f.Lon, *p.CenterLat, *p.CenterLon, *p.RadiusKm) {
			return noMatch("Facility outside %skm buffer", formatNumber(*p.RadiusKm)), false
		}

	case ModeJurisdiction:
		if !containsValue(p.Counties, f.County) &&
			!containsValue(p.Watersheds, f.WatershedHUC12) &&
			!containsValue(p.MS4s, f.MS4) {
			return noMatch("Facility not in specified jurisdiction (county/watershed/MS4)"), false
		}

	default:
		return noMatch("Unknown subscription mode: %s", mode), false
	}
	return MatchResult{}, true
}

func containsValue(list []string, v string) bool {
	return v != "" && slices.Contains(list, v)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// MatchAll returns the subscriptions that want violation v.
func MatchAll(subs []Subscription, v violations.ViolationEvent, f facilities.Facility) []Subscription {
	var out []Subscription
	for _, s := range subs {
		if Match(s, v, f).Matched {
			out = append(out, s)
		}
	}
	return out
}

// BatchMatch maps each violation id to its matching subscriptions. Violations
// without a loaded facility never match.
func BatchMatch(evs []violations.ViolationEvent, subs []Subscription) map[uuid.UUID][]Subscription {
	out := make(map[uuid.UUID][]Subscription, len(evs))
	for _, v := range evs {
		if v.Facility == nil {
			out[v.ID] = nil
			continue
		}
		out[v.ID] = MatchAll(subs, v, *v.Facility)
	}
	return out
}

// TestMatch previews whether a facility falls inside an area definition,
// using a mock violation that clears every threshold.
func TestMatch(p Params, mode Mode, f facilities.Facility) MatchResult {
	sub := Subscription{
		Name:                    "Test",
		Mode:                    mode,
		Params:                  p,
		MinRatio:                1.0,
		RepeatOffenderThreshold: 1,
	}
	mock := violations.ViolationEvent{
		FacilityID: f.ID,
		Pollutant:  "test",
		Count:      1,
		MaxRatio:   2.0,
	}
	return Match(sub, mock, f)
}
