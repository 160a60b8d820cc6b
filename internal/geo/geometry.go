package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
	ErrEmptyGeometry       = errors.New("geometry has no polygons")
)

// Ring is a closed sequence of [lon, lat] positions.
type Ring [][2]float64

// Polygon is an exterior ring followed by zero or more holes.
type Polygon []Ring

// Geometry is any GeoJSON areal geometry flattened to a list of polygons.
type Geometry struct {
	Type     string
	Polygons []Polygon
}

func (g *Geometry) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var raw struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
		Geometries  []Geometry      `json:"geometries"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	g.Type = raw.Type
	g.Polygons = nil
	switch raw.Type {
	case "Polygon":
		var p Polygon
		if err := json.Unmarshal(raw.Coordinates, &p); err != nil {
			return fmt.Errorf("decode polygon: %w", err)
		}
		g.Polygons = []Polygon{p}
	case "MultiPolygon":
		if err := json.Unmarshal(raw.Coordinates, &g.Polygons); err != nil {
			return fmt.Errorf("decode multipolygon: %w", err)
		}
	case "GeometryCollection":
		for _, child := range raw.Geometries {
			g.Polygons = append(g.Polygons, child.Polygons...)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedGeometry, raw.Type)
	}
	return nil
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	if len(g.Polygons) == 1 {
		return json.Marshal(map[string]any{"type": "Polygon", "coordinates": g.Polygons[0]})
	}
	return json.Marshal(map[string]any{"type": "MultiPolygon", "coordinates": g.Polygons})
}

// Contains reports whether the point lies inside any polygon and outside that
// polygon's holes.
func (g Geometry) Contains(lat, lon float64) bool {
	for _, p := range g.Polygons {
		if p.Contains(lat, lon) {
			return true
		}
	}
	return false
}

func (p Polygon) Contains(lat, lon float64) bool {
	if len(p) == 0 || !p[0].Contains(lat, lon) {
		return false
	}
	for _, hole := range p[1:] {
		if hole.Contains(lat, lon) {
			return false
		}
	}
	return true
}

// Contains uses even-odd ray casting.
func (r Ring) Contains(lat, lon float64) bool {
	inside := false
	n := len(r)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := r[i][0], r[i][1]
		xj, yj := r[j][0], r[j][1]
		if (yi > lat) != (yj > lat) && lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Bounds returns the bounding box as minLon, minLat, maxLon, maxLat.
func (g Geometry) Bounds() (minLon, minLat, maxLon, maxLat float64) {
	minLon, minLat = math.Inf(1), math.Inf(1)
	maxLon, maxLat = math.Inf(-1), math.Inf(-1)
	for _, p := range g.Polygons {
		if len(p) == 0 {
			continue
		}
		for _, pos := range p[0] {
			minLon = math.Min(minLon, pos[0])
			maxLon = math.Max(maxLon, pos[0])
			minLat = math.Min(minLat, pos[1])
			maxLat = math.Max(maxLat, pos[1])
		}
	}
	return
}
