package pollutants

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	UnitMgL = "mg/L"
	UnitUgL = "\u00b5g/L"
	UnitNgL = "ng/L"
	UnitPH  = "pH"
)

// Concentration units relative to mg/L.
var massFactors = map[string]float64{
	UnitMgL: 1,
	UnitUgL: 1e-3,
	UnitNgL: 1e-6,
}

// NormalizeUnit returns the canonical spelling of a unit. NFKC folds the
// micro sign into the Greek mu, so both spellings land on the same unit.
func NormalizeUnit(u string) string {
	trimmed := strings.TrimSpace(u)
	switch strings.ToLower(norm.NFKC.String(trimmed)) {
	case "mg/l", "mg / l", "ppm":
		return UnitMgL
	case "\u03bcg/l", "ug/l", "mcg/l", "\u03bcg / l", "ppb":
		return UnitUgL
	case "ng/l":
		return UnitNgL
	case "ph", "su", "s.u.", "ph units", "std units":
		return UnitPH
	default:
		return trimmed
	}
}

// ConvertUnit converts a concentration between mass units. ok is false when
// the units are not interconvertible, in which case value is returned as is.
func ConvertUnit(value float64, from, to string) (float64, bool) {
	from, to = NormalizeUnit(from), NormalizeUnit(to)
	if from == to {
		return value, true
	}
	ff, okFrom := massFactors[from]
	ft, okTo := massFactors[to]
	if !okFrom || !okTo {
		return value, false
	}
	return value * ff / ft, true
}
