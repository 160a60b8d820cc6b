package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Feature is a GeoJSON feature with an areal geometry.
type Feature struct {
	Properties map[string]any `json:"properties"`
	Geometry   Geometry       `json:"geometry"`
}

// Property returns the first non-empty property among keys, stringified.
func (f Feature) Property(keys ...string) string {
	for _, k := range keys {
		v, ok := f.Properties[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}

type FeatureCollection struct {
	Features []Feature `json:"features"`
}

// Locate returns the first feature whose geometry contains the point.
func (fc FeatureCollection) Locate(lat, lon float64) (Feature, bool) {
	for _, f := range fc.Features {
		if f.Geometry.Contains(lat, lon) {
			return f, true
		}
	}
	return Feature{}, false
}

// LoadFeatureCollection reads a GeoJSON FeatureCollection from disk.
func LoadFeatureCollection(path string) (FeatureCollection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FeatureCollection{}, err
	}
	var fc FeatureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return FeatureCollection{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// ParseArea accepts a bare geometry, a Feature or a FeatureCollection and
// returns the union of their polygons.
func ParseArea(raw json.RawMessage) (Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Geometry{}, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	var g Geometry
	switch head.Type {
	case "Feature":
		var f Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return Geometry{}, err
		}
		g = f.Geometry
	case "FeatureCollection":
		var fc FeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return Geometry{}, err
		}
		g.Type = "MultiPolygon"
		for _, f := range fc.Features {
			g.Polygons = append(g.Polygons, f.Geometry.Polygons...)
		}
	default:
		if err := json.Unmarshal(raw, &g); err != nil {
			return Geometry{}, err
		}
	}

	if len(g.Polygons) == 0 {
		return Geometry{}, ErrEmptyGeometry
	}
	for _, p := range g.Polygons {
		if len(p) == 0 || len(p[0]) < 4 {
			return Geometry{}, fmt.Errorf("polygon ring needs at least 4 positions")
		}
	}
	return g, nil
}
