package pollutants

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type fileFormat struct {
	Pollutants []fileEntry `yaml:"pollutants"`
}

type fileEntry struct {
	Key           string   `yaml:"key"`
	DisplayName   string   `yaml:"display_name"`
	Aliases       []string `yaml:"aliases"`
	CanonicalUnit string   `yaml:"canonical_unit"`
	Benchmark     *float64 `yaml:"benchmark"`
	BenchmarkUnit string   `yaml:"benchmark_unit"`
	PHMin         *float64 `yaml:"ph_min"`
	PHMax         *float64 `yaml:"ph_max"`
	Notes         string   `yaml:"notes"`
}

// LoadFile reads the pollutant configuration YAML.
func LoadFile(path string) ([]ConfigPollutant, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) ([]ConfigPollutant, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse pollutant config: %w", err)
	}
	if len(f.Pollutants) == 0 {
		return nil, errors.New("pollutant config has no entries")
	}

	title := cases.Title(language.English)
	seen := map[string]bool{}
	out := make([]ConfigPollutant, 0, len(f.Pollutants))
	for i, e := range f.Pollutants {
		key := strings.ToUpper(strings.TrimSpace(e.Key))
		if key == "" {
			return nil, fmt.Errorf("pollutant %d: key is required", i+1)
		}
		if seen[key] {
			return nil, fmt.Errorf("pollutant %s: duplicate key", key)
		}
		seen[key] = true
		if strings.TrimSpace(e.CanonicalUnit) == "" {
			return nil, fmt.Errorf("pollutant %s: canonical_unit is required", key)
		}

		p := ConfigPollutant{
			Key:           key,
			DisplayName:   e.DisplayName,
			Aliases:       e.Aliases,
			CanonicalUnit: NormalizeUnit(e.CanonicalUnit),
			Benchmark:     e.Benchmark,
			BenchmarkUnit: NormalizeUnit(e.BenchmarkUnit),
			PHMin:         e.PHMin,
			PHMax:         e.PHMax,
			Notes:         e.Notes,
		}
		if p.DisplayName == "" {
			p.DisplayName = title.String(strings.ToLower(key))
		}
		if p.Benchmark != nil && p.BenchmarkUnit == "" {
			p.BenchmarkUnit = p.CanonicalUnit
		}
		out = append(out, p)
	}
	return out, nil
}

// Seed upserts the configuration, replacing every column of existing keys.
func Seed(ctx context.Context, d *gorm.DB, list []ConfigPollutant) error {
	if len(list) == 0 {
		return nil
	}
	return d.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&list).Error
}

// LoadRegistry builds a registry from the stored configuration.
func LoadRegistry(ctx context.Context, d *gorm.DB) (*Registry, error) {
	var list []ConfigPollutant
	if err := d.WithContext(ctx).Order("key").Find(&list).Error; err != nil {
		return nil, err
	}
	return NewRegistry(list), nil
}
