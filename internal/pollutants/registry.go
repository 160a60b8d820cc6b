package pollutants

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PHKey is the canonical key of the one range-based pollutant.
const PHKey = "PH"

const (
	defaultPHMin = 6.0
	defaultPHMax = 9.0
)

// Registry resolves raw pollutant names to canonical configuration.
type Registry struct {
	byKey   map[string]ConfigPollutant
	byAlias map[string]string
}

func NewRegistry(list []ConfigPollutant) *Registry {
	r := &Registry{
		byKey:   make(map[string]ConfigPollutant, len(list)),
		byAlias: make(map[string]string),
	}
	for _, p := range list {
		r.byKey[p.Key] = p
		r.byAlias[aliasKey(p.Key)] = p.Key
		for _, a := range p.Aliases {
			r.byAlias[aliasKey(a)] = p.Key
		}
	}
	return r
}

// Resolve returns the canonical key for a raw name. Unknown names fall back
// to their trimmed upper-case form.
func (r *Registry) Resolve(raw string) string {
	if k, ok := r.byAlias[aliasKey(raw)]; ok {
		return k
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

func (r *Registry) Lookup(key string) (ConfigPollutant, bool) {
	p, ok := r.byKey[key]
	return p, ok
}

// All returns every configured pollutant ordered by key.
func (r *Registry) All() []ConfigPollutant {
	out := make([]ConfigPollutant, 0, len(r.byKey))
	for _, p := range r.byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// PHRange returns the acceptable pH window.
func (r *Registry) PHRange() (min, max float64) {
	min, max = defaultPHMin, defaultPHMax
	if p, ok := r.byKey[PHKey]; ok {
		if p.PHMin != nil {
			min = *p.PHMin
		}
		if p.PHMax != nil {
			max = *p.PHMax
		}
	}
	return min, max
}

func aliasKey(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(norm.NFKC.String(s)), " "))
}
