package enrichment

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stormwaterwatch/sww-backend/internal/geo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	DatasetCounty = "county"
	DatasetHUC12  = "huc12"
	DatasetDAC    = "dac"
	DatasetMS4    = "ms4"
)

// dacThreshold is the CalEnviroScreen percentile at or above which a tract
// counts as a disadvantaged community.
const dacThreshold = 75

var datasetFiles = map[string]string{
	DatasetCounty: "california-counties.geojson",
	DatasetHUC12:  "huc12-california.geojson",
	DatasetDAC:    "calenviroscreen-dacs.geojson",
	DatasetMS4:    "ms4-boundaries.geojson",
}

// Datasets holds the boundary layers used for lookups. A nil layer was not
// loaded and is skipped.
type Datasets struct {
	County *geo.FeatureCollection
	HUC12  *geo.FeatureCollection
	DAC    *geo.FeatureCollection
	MS4    *geo.FeatureCollection
}

// LoadDatasets reads every layer found in dir. Missing files are logged and
// left out.
func LoadDatasets(dir string, logger *slog.Logger) Datasets {
	var ds Datasets
	for name, file := range datasetFiles {
		path := filepath.Join(dir, file)
		fc, err := geo.LoadFeatureCollection(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("geodata layer not found", "dataset", name, "path", path)
			continue
		}
		if err != nil {
			logger.Error("loading geodata layer", "dataset", name, "path", path, "error", err)
			continue
		}
		logger.Info("loaded geodata layer", "dataset", name, "features", len(fc.Features))
		ds.set(name, &fc)
	}
	return ds
}

func (d *Datasets) set(name string, fc *geo.FeatureCollection) {
	switch name {
	case DatasetCounty:
		d.County = fc
	case DatasetHUC12:
		d.HUC12 = fc
	case DatasetDAC:
		d.DAC = fc
	case DatasetMS4:
		d.MS4 = fc
	}
}

// Only keeps the named layers. An empty list keeps all of them.
func (d Datasets) Only(names []string) Datasets {
	if len(names) == 0 {
		return d
	}
	var out Datasets
	for _, n := range names {
		switch n {
		case DatasetCounty:
			out.County = d.County
		case DatasetHUC12:
			out.HUC12 = d.HUC12
		case DatasetDAC:
			out.DAC = d.DAC
		case DatasetMS4:
			out.MS4 = d.MS4
		}
	}
	return out
}

// Loaded lists the names of the layers present.
func (d Datasets) Loaded() []string {
	var out []string
	for _, l := range []struct {
		name string
		fc   *geo.FeatureCollection
	}{
		{DatasetCounty, d.County},
		{DatasetHUC12, d.HUC12},
		{DatasetDAC, d.DAC},
		{DatasetMS4, d.MS4},
	} {
		if l.fc != nil {
			out = append(out, l.name)
		}
	}
	return out
}

// Fields are the attributes a lookup can fill. Nil means no change.
type Fields struct {
	County         *string `json:"county,omitempty"`
	WatershedHUC12 *string `json:"watershed_huc12,omitempty"`
	MS4            *string `json:"ms4,omitempty"`
	IsInDAC        *bool   `json:"is_in_dac,omitempty"`
}

func (f Fields) empty() bool {
	return f.County == nil && f.WatershedHUC12 == nil && f.MS4 == nil && f.IsInDAC == nil
}

// Current is what the facility already has; set attributes are not
// overwritten. The DAC flag is always recomputed when its layer is loaded.
type Current struct {
	County         string
	WatershedHUC12 string
	MS4            string
}

// Lookup finds the polygons containing the point.
func (d Datasets) Lookup(cur Current, lat, lon float64) Fields {
	var out Fields

	if d.County != nil && cur.County == "" {
		if f, ok := d.County.Locate(lat, lon); ok {
			if name := f.Property("NAME", "NAMELSAD"); name != "" {
				out.County = ptr(countyName(name))
			}
		}
	}
	if d.HUC12 != nil && cur.WatershedHUC12 == "" {
		if f, ok := d.HUC12.Locate(lat, lon); ok {
			if huc := f.Property("HUC12", "huc12"); huc != "" {
				out.WatershedHUC12 = &huc
			}
		}
	}
	if d.MS4 != nil && cur.MS4 == "" {
		if f, ok := d.MS4.Locate(lat, lon); ok {
			if name := f.Property("NAME", "AGENCY"); name != "" {
				out.MS4 = &name
			}
		}
	}
	if d.DAC != nil {
		dac := false
		if f, ok := d.DAC.Locate(lat, lon); ok {
			score, err := strconv.ParseFloat(f.Property("CIscoreP", "CIscorP", "CIscore"), 64)
			dac = err == nil && score >= dacThreshold
		}
		out.IsInDAC = &dac
	}
	return out
}

// countyName title-cases a county and drops a trailing "County".
func countyName(raw string) string {
	name := strings.TrimSpace(raw)
	if strings.HasSuffix(strings.ToLower(name), " county") {
		name = strings.TrimSpace(name[:len(name)-len(" county")])
	}
	return cases.Title(language.English).String(strings.ToLower(name))
}

func ptr[T any](v T) *T { return &v }
