package geo

import "math"

const (
	earthRadiusKm    = 6371.0088
	earthRadiusMiles = 3958.7613
)

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return earthRadiusKm * centralAngle(lat1, lon1, lat2, lon2)
}

func DistanceMiles(lat1, lon1, lat2, lon2 float64) float64 {
	return earthRadiusMiles * centralAngle(lat1, lon1, lat2, lon2)
}

// WithinBuffer reports whether a point is within radiusKm of the center.
func WithinBuffer(lat, lon, centerLat, centerLon, radiusKm float64) bool {
	return DistanceKm(lat, lon, centerLat, centerLon) <= radiusKm
}

func centralAngle(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ValidCoordinate rejects the zero point and out-of-range values.
func ValidCoordinate(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
