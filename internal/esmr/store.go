package esmr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stormwaterwatch/sww-backend/internal/pollutants"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("not found")

	// idNamespace seeds the deterministic ids of parameters and samples so a
	// re-import produces the same keys.
	idNamespace = uuid.MustParse("5d0c6f1e-3b9a-4f7e-9a51-2f6f0d3c8b47")
)

func parameterID(name string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte("parameter:"+name))
}

func sampleID(s Sample) uuid.UUID {
	key := fmt.Sprintf("sample:%d:%s:%s:%s:%d",
		s.LocationPlaceID, s.ParameterID, s.SamplingDate.Format("2006-01-02"), s.SamplingTime, s.SMRDocumentID)
	return uuid.NewSHA1(idNamespace, []byte(key))
}

type FacilityQuery struct {
	RegionCode         string
	Name               string
	ReceivingWaterBody string
	Limit              int
	Offset             int
}

type FacilityRow struct {
	FacilityPlaceID    int64   `json:"facility_place_id"`
	FacilityName       string  `json:"facility_name"`
	RegionCode         string  `json:"region_code"`
	RegionName         string  `json:"region_name"`
	ReceivingWaterBody *string `json:"receiving_water_body"`
	LocationCount      int64   `json:"location_count"`
	SampleCount        int64   `json:"sample_count"`
}

type LocationRow struct {
	LocationPlaceID int64        `json:"location_place_id"`
	LocationCode    string       `json:"location_code"`
	LocationType    LocationType `json:"location_type"`
	Latitude        *float64     `json:"latitude"`
	Longitude       *float64     `json:"longitude"`
	LocationDesc    *string      `json:"location_desc"`
	SampleCount     int64        `json:"sample_count"`
}

// ParameterSummary aggregates one parameter's results at a facility.
type ParameterSummary struct {
	ParameterID   uuid.UUID `json:"parameter_id"`
	ParameterName string    `json:"parameter"`
	Category      *string   `json:"category"`
	LatestSample  time.Time `json:"latest_sample"`
	SampleCount   int64     `json:"sample_count"`
	AvgResult     *float64  `json:"avg_result"`
	MinResult     *float64  `json:"min_result"`
	MaxResult     *float64  `json:"max_result"`
	Units         *string   `json:"units"`
}

type DateRange struct {
	Earliest *string `json:"earliest"`
	Latest   *string `json:"latest"`
}

type FacilityDetail struct {
	Facility      FacilityRow        `json:"facility"`
	CreatedAt     time.Time          `json:"created_at"`
	LastSeenAt    time.Time          `json:"last_seen_at"`
	Locations     []LocationRow      `json:"locations"`
	RecentSamples []ParameterSummary `json:"recent_samples"`
	Stats         FacilityStats      `json:"stats"`
}

type FacilityStats struct {
	TotalLocations  int       `json:"total_locations"`
	TotalSamples    int64     `json:"total_samples"`
	TotalParameters int64     `json:"total_parameters"`
	DateRange       DateRange `json:"date_range"`
}

type SampleQuery struct {
	FacilityPlaceID *int64
	LocationPlaceID *int64
	ParameterID     *uuid.UUID
	StartDate       *time.Time
	EndDate         *time.Time
	Qualifier       Qualifier
	LocationType    LocationType
	SortBy          string
	SortDesc        bool
	Limit           int
	Offset          int
}

type SampleRow struct {
	ID                      uuid.UUID    `json:"id"`
	LocationPlaceID         int64        `json:"location_place_id"`
	LocationCode            string       `json:"location_code"`
	LocationType            LocationType `json:"location_type"`
	LocationDesc            *string      `json:"location_desc"`
	FacilityPlaceID         int64        `json:"facility_place_id"`
	FacilityName            string       `json:"facility_name"`
	ParameterID             uuid.UUID    `json:"parameter_id"`
	ParameterName           string       `json:"parameter_name"`
	ParameterCategory       *string      `json:"parameter_category"`
	SamplingDate            time.Time    `json:"sampling_date"`
	SamplingTime            string       `json:"sampling_time"`
	Qualifier               Qualifier    `json:"qualifier"`
	Result                  *float64     `json:"result"`
	Units                   string       `json:"units"`
	MDL                     *float64     `json:"mdl"`
	ML                      *float64     `json:"ml"`
	RL                      *float64     `json:"rl"`
	AnalyticalMethodCode    *string      `json:"analytical_method_code"`
	ReviewPriorityIndicator *bool        `json:"review_priority_indicator"`
}

type ParameterRow struct {
	ID            uuid.UUID `json:"id"`
	ParameterName string    `json:"parameter_name"`
	Category      *string   `json:"category"`
	CanonicalKey  *string   `json:"canonical_key"`
	SampleCount   int64     `json:"sample_count"`
}

type RegionRow struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	FacilityCount int64  `json:"facility_count"`
	LocationCount int64  `json:"location_count"`
	SampleCount   int64  `json:"sample_count"`
}

type NamedCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type Overview struct {
	Totals struct {
		Facilities int64 `json:"facilities"`
		Locations  int64 `json:"locations"`
		Samples    int64 `json:"samples"`
		Parameters int64 `json:"parameters"`
		Regions    int64 `json:"regions"`
	} `json:"totals"`
	RecentActivity struct {
		SamplesLast30Days int64 `json:"samples_last_30_days"`
		SamplesLast7Days  int64 `json:"samples_last_7_days"`
	} `json:"recent_activity"`
	TopParameters  []NamedCount `json:"top_parameters"`
	DateRange      DateRange    `json:"date_range"`
	ByQualifier    []NamedCount `json:"by_qualifier"`
	ByLocationType []NamedCount `json:"by_location_type"`
}

type Store interface {
	Writer
	LatestSamplingDate(ctx context.Context) (*time.Time, error)

	ListFacilities(ctx context.Context, q FacilityQuery) ([]FacilityRow, int64, error)
	FacilityDetail(ctx context.Context, id int64) (FacilityDetail, error)
	ListSamples(ctx context.Context, q SampleQuery) ([]SampleRow, int64, error)
	ListParameters(ctx context.Context, category string, limit, offset int) ([]ParameterRow, int64, error)
	ListRegions(ctx context.Context) ([]RegionRow, error)
	Overview(ctx context.Context, now time.Time) (Overview, error)

	CreateJob(ctx context.Context, job *ImportJob) error
	SaveJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, id uuid.UUID) (ImportJob, error)
	RecentJobs(ctx context.Context, limit int) ([]ImportJob, error)
}

type GormStore struct {
	DB       *gorm.DB
	Registry *pollutants.Registry
}

// WriteBatch upserts the dimension rows of recs and inserts their samples in
// one transaction. Facilities and locations take the latest names and
// coordinates; parameters and methods are insert-only.
func (s GormStore) WriteBatch(ctx context.Context, recs []Record) (BatchResult, error) {
	var res BatchResult
	now := time.Now().UTC()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		regions := map[string]Region{}
		facilities := map[int64]Facility{}
		locations := map[int64]Location{}
		params := map[string]bool{}
		methods := map[string]AnalyticalMethod{}
		for _, r := range recs {
			regions[r.Region.Code] = r.Region
			f := r.Facility
			f.LastSeenAt = now
			facilities[f.FacilityPlaceID] = f
			l := r.Location
			l.LastSeenAt = now
			locations[l.LocationPlaceID] = l
			params[r.Parameter] = true
			if r.Method != nil {
				methods[r.Method.MethodCode] = *r.Method
			}
		}

		n, err := s.insertRegions(tx, regions)
		if err != nil {
			return err
		}
		res.RegionsCreated = n

		if res.FacilitiesCreated, res.FacilitiesUpdated, err = upsertFacilities(tx, facilities); err != nil {
			return err
		}
		if res.LocationsCreated, res.LocationsUpdated, err = upsertLocations(tx, locations); err != nil {
			return err
		}

		paramIDs, created, err := s.ensureParameters(tx, params)
		if err != nil {
			return err
		}
		res.ParametersCreated = created

		if len(methods) > 0 {
			rows := make([]AnalyticalMethod, 0, len(methods))
			for _, m := range methods {
				rows = append(rows, m)
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
			if result.Error != nil {
				return fmt.Errorf("insert analytical methods: %w", result.Error)
			}
			res.MethodsCreated = int(result.RowsAffected)
		}

		samples := make([]Sample, 0, len(recs))
		for _, r := range recs {
			smp := r.Sample
			smp.ParameterID = paramIDs[r.Parameter]
			smp.ID = sampleID(smp)
			samples = append(samples, smp)
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&samples, 500)
		if result.Error != nil {
			return fmt.Errorf("insert samples: %w", result.Error)
		}
		res.SamplesInserted = int(result.RowsAffected)
		res.SamplesSkipped = len(samples) - res.SamplesInserted
		return nil
	})
	return res, err
}

func (s GormStore) insertRegions(tx *gorm.DB, regions map[string]Region) (int, error) {
	rows := make([]Region, 0, len(regions))
	for _, r := range regions {
		rows = append(rows, r)
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("insert regions: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func upsertFacilities(tx *gorm.DB, facilities map[int64]Facility) (created, updated int, err error) {
	ids := make([]int64, 0, len(facilities))
	rows := make([]Facility, 0, len(facilities))
	for id, f := range facilities {
		ids = append(ids, id)
		rows = append(rows, f)
	}
	var existing int64
	if err := tx.Model(&Facility{}).Where("facility_place_id IN ?", ids).Count(&existing).Error; err != nil {
		return 0, 0, fmt.Errorf("count facilities: %w", err)
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "facility_place_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"facility_name", "region_code", "receiving_water_body", "last_seen_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, 0, fmt.Errorf("upsert facilities: %w", err)
	}
	return len(rows) - int(existing), int(existing), nil
}

func upsertLocations(tx *gorm.DB, locations map[int64]Location) (created, updated int, err error) {
	ids := make([]int64, 0, len(locations))
	rows := make([]Location, 0, len(locations))
	for id, l := range locations {
		ids = append(ids, id)
		rows = append(rows, l)
	}
	var existing int64
	if err := tx.Model(&Location{}).Where("location_place_id IN ?", ids).Count(&existing).Error; err != nil {
		return 0, 0, fmt.Errorf("count locations: %w", err)
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "location_place_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"location_code", "location_type", "latitude", "longitude", "location_desc", "last_seen_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, 0, fmt.Errorf("upsert locations: %w", err)
	}
	return len(rows) - int(existing), int(existing), nil
}

// ensureParameters inserts unseen parameter names and returns the id of every
// name in the batch.
func (s GormStore) ensureParameters(tx *gorm.DB, names map[string]bool) (map[string]uuid.UUID, int, error) {
	rows := make([]Parameter, 0, len(names))
	list := make([]string, 0, len(names))
	for name := range names {
		list = append(list, name)
		p := Parameter{ID: parameterID(name), ParameterName: name}
		if key := s.canonicalKey(name); key != "" {
			p.CanonicalKey = &key
		}
		rows = append(rows, p)
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "parameter_name"}},
		DoNothing: true,
	}).Create(&rows)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("insert parameters: %w", result.Error)
	}

	var found []Parameter
	if err := tx.Select("id", "parameter_name").Where("parameter_name = ANY(?)", pq.Array(list)).Find(&found).Error; err != nil {
		return nil, 0, fmt.Errorf("load parameter ids: %w", err)
	}
	ids := make(map[string]uuid.UUID, len(found))
	for _, p := range found {
		ids[p.ParameterName] = p.ID
	}
	return ids, int(result.RowsAffected), nil
}

// canonicalKey links a parameter to a configured pollutant when the registry
// recognises the name.
func (s GormStore) canonicalKey(name string) string {
	if s.Registry == nil {
		return ""
	}
	key := s.Registry.Resolve(name)
	if _, ok := s.Registry.Lookup(key); !ok {
		return ""
	}
	return key
}

func (s GormStore) LatestSamplingDate(ctx context.Context) (*time.Time, error) {
	var latest sql.NullTime
	if err := s.DB.WithContext(ctx).Model(&Sample{}).Select("MAX(sampling_date)").Scan(&latest).Error; err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

const facilityColumns = `f.facility_place_id, f.facility_name, f.region_code, COALESCE(r.name, '') AS region_name, f.receiving_water_body,
	(SELECT COUNT(*) FROM esmr.locations l WHERE l.facility_place_id = f.facility_place_id) AS location_count,
	(SELECT COUNT(*) FROM esmr.samples s JOIN esmr.locations l ON l.location_place_id = s.location_place_id
		WHERE l.facility_place_id = f.facility_place_id) AS sample_count`

func (s GormStore) ListFacilities(ctx context.Context, q FacilityQuery) ([]FacilityRow, int64, error) {
	base := func() *gorm.DB {
		tx := s.DB.WithContext(ctx).Table("esmr.facilities AS f")
		if q.RegionCode != "" {
			tx = tx.Where("f.region_code = ?", q.RegionCode)
		}
		if q.Name != "" {
			tx = tx.Where("f.facility_name ILIKE ?", "%"+q.Name+"%")
		}
		if q.ReceivingWaterBody != "" {
			tx = tx.Where("f.receiving_water_body ILIKE ?", "%"+q.ReceivingWaterBody+"%")
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []FacilityRow
	err := base().
		Select(facilityColumns).
		Joins("LEFT JOIN esmr.regions r ON r.code = f.region_code").
		Order("f.facility_name ASC").
		Limit(q.Limit).Offset(q.Offset).
		Scan(&rows).Error
	return rows, total, err
}

func (s GormStore) FacilityDetail(ctx context.Context, id int64) (FacilityDetail, error) {
	db := s.DB.WithContext(ctx)

	var f Facility
	err := db.Preload("Region").First(&f, "facility_place_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FacilityDetail{}, ErrNotFound
	}
	if err != nil {
		return FacilityDetail{}, err
	}

	out := FacilityDetail{
		Facility: FacilityRow{
			FacilityPlaceID:    f.FacilityPlaceID,
			FacilityName:       f.FacilityName,
			RegionCode:         f.RegionCode,
			ReceivingWaterBody: f.ReceivingWaterBody,
		},
		CreatedAt:  f.CreatedAt,
		LastSeenAt: f.LastSeenAt,
	}
	if f.Region != nil {
		out.Facility.RegionName = f.Region.Name
	}

	err = db.Table("esmr.locations AS l").
		Select(`l.location_place_id, l.location_code, l.location_type, l.latitude, l.longitude, l.location_desc,
			(SELECT COUNT(*) FROM esmr.samples s WHERE s.location_place_id = l.location_place_id) AS sample_count`).
		Where("l.facility_place_id = ?", id).
		Order("l.location_code ASC").
		Scan(&out.Locations).Error
	if err != nil {
		return FacilityDetail{}, fmt.Errorf("locations: %w", err)
	}
	out.Facility.LocationCount = int64(len(out.Locations))
	out.Stats.TotalLocations = len(out.Locations)

	err = db.Raw(`
		SELECT p.id AS parameter_id, p.parameter_name, p.category,
			MAX(s.sampling_date) AS latest_sample,
			COUNT(s.id) AS sample_count,
			AVG(s.result) AS avg_result,
			MIN(s.result) AS min_result,
			MAX(s.result) AS max_result,
			MODE() WITHIN GROUP (ORDER BY s.units) AS units
		FROM esmr.samples s
		JOIN esmr.parameters p ON p.id = s.parameter_id
		JOIN esmr.locations l ON l.location_place_id = s.location_place_id
		WHERE l.facility_place_id = ?
		GROUP BY p.id, p.parameter_name, p.category
		ORDER BY latest_sample DESC, sample_count DESC
		LIMIT 50`, id).Scan(&out.RecentSamples).Error
	if err != nil {
		return FacilityDetail{}, fmt.Errorf("parameter summary: %w", err)
	}

	var agg struct {
		Total      int64
		Parameters int64
		Earliest   sql.NullTime
		Latest     sql.NullTime
	}
	err = db.Raw(`
		SELECT COUNT(s.id) AS total, COUNT(DISTINCT s.parameter_id) AS parameters,
			MIN(s.sampling_date) AS earliest, MAX(s.sampling_date) AS latest
		FROM esmr.samples s
		JOIN esmr.locations l ON l.location_place_id = s.location_place_id
		WHERE l.facility_place_id = ?`, id).Scan(&agg).Error
	if err != nil {
		return FacilityDetail{}, fmt.Errorf("facility stats: %w", err)
	}
	out.Stats.TotalSamples = agg.Total
	out.Stats.TotalParameters = agg.Parameters
	out.Stats.DateRange = dateRange(agg.Earliest, agg.Latest)
	out.Facility.SampleCount = agg.Total
	return out, nil
}

func dateRange(earliest, latest sql.NullTime) DateRange {
	var dr DateRange
	if earliest.Valid {
		s := earliest.Time.Format("2006-01-02")
		dr.Earliest = &s
	}
	if latest.Valid {
		s := latest.Time.Format("2006-01-02")
		dr.Latest = &s
	}
	return dr
}

func (s GormStore) ListSamples(ctx context.Context, q SampleQuery) ([]SampleRow, int64, error) {
	base := func() *gorm.DB {
		tx := s.DB.WithContext(ctx).Table("esmr.samples AS s").
			Joins("JOIN esmr.locations l ON l.location_place_id = s.location_place_id").
			Joins("JOIN esmr.facilities f ON f.facility_place_id = l.facility_place_id").
			Joins("JOIN esmr.parameters p ON p.id = s.parameter_id")
		if q.FacilityPlaceID != nil {
			tx = tx.Where("l.facility_place_id = ?", *q.FacilityPlaceID)
		}
		if q.LocationPlaceID != nil {
			tx = tx.Where("s.location_place_id = ?", *q.LocationPlaceID)
		}
		if q.ParameterID != nil {
			tx = tx.Where("s.parameter_id = ?", *q.ParameterID)
		}
		if q.StartDate != nil {
			tx = tx.Where("s.sampling_date >= ?", *q.StartDate)
		}
		if q.EndDate != nil {
			tx = tx.Where("s.sampling_date <= ?", *q.EndDate)
		}
		if q.Qualifier != "" {
			tx = tx.Where("s.qualifier = ?", q.Qualifier)
		}
		if q.LocationType != "" {
			tx = tx.Where("l.location_type = ?", q.LocationType)
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	col := "s.sampling_date"
	if q.SortBy == "result" {
		col = "s.result"
	}
	order := clause.OrderByColumn{Column: clause.Column{Name: col, Raw: true}, Desc: q.SortDesc}

	var rows []SampleRow
	err := base().
		Select(`s.id, s.location_place_id, l.location_code, l.location_type, l.location_desc,
			l.facility_place_id, f.facility_name, s.parameter_id, p.parameter_name, p.category AS parameter_category,
			s.sampling_date, s.sampling_time, s.qualifier, s.result, s.units, s.mdl, s.ml, s.rl,
			s.analytical_method_code, s.review_priority_indicator`).
		Order(order).
		Order("s.id").
		Limit(q.Limit).Offset(q.Offset).
		Scan(&rows).Error
	return rows, total, err
}

func (s GormStore) ListParameters(ctx context.Context, category string, limit, offset int) ([]ParameterRow, int64, error) {
	base := func() *gorm.DB {
		tx := s.DB.WithContext(ctx).Table("esmr.parameters AS p")
		if category != "" {
			tx = tx.Where("p.category = ?", category)
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	tx := base().
		Select(`p.id, p.parameter_name, p.category, p.canonical_key,
			(SELECT COUNT(*) FROM esmr.samples s WHERE s.parameter_id = p.id) AS sample_count`).
		Order("p.category ASC NULLS LAST").
		Order("sample_count DESC").
		Order("p.parameter_name ASC")
	if limit > 0 {
		tx = tx.Limit(limit).Offset(offset)
	}
	var rows []ParameterRow
	err := tx.Scan(&rows).Error
	return rows, total, err
}

func (s GormStore) ListRegions(ctx context.Context) ([]RegionRow, error) {
	var rows []RegionRow
	err := s.DB.WithContext(ctx).Raw(`
		SELECT r.code, r.name,
			COUNT(DISTINCT f.facility_place_id) AS facility_count,
			COUNT(DISTINCT l.location_place_id) AS location_count,
			COUNT(s.id) AS sample_count
		FROM esmr.regions r
		LEFT JOIN esmr.facilities f ON f.region_code = r.code
		LEFT JOIN esmr.locations l ON l.facility_place_id = f.facility_place_id
		LEFT JOIN esmr.samples s ON s.location_place_id = l.location_place_id
		GROUP BY r.code, r.name
		ORDER BY r.name ASC`).Scan(&rows).Error
	return rows, err
}

func (s GormStore) Overview(ctx context.Context, now time.Time) (Overview, error) {
	db := s.DB.WithContext(ctx)
	var out Overview

	counts := []struct {
		model any
		dest  *int64
	}{
		{&Facility{}, &out.Totals.Facilities},
		{&Location{}, &out.Totals.Locations},
		{&Sample{}, &out.Totals.Samples},
		{&Parameter{}, &out.Totals.Parameters},
		{&Region{}, &out.Totals.Regions},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dest).Error; err != nil {
			return Overview{}, err
		}
	}

	day := now.UTC().Truncate(24 * time.Hour)
	if err := db.Model(&Sample{}).Where("sampling_date >= ?", day.AddDate(0, 0, -30)).Count(&out.RecentActivity.SamplesLast30Days).Error; err != nil {
		return Overview{}, err
	}
	if err := db.Model(&Sample{}).Where("sampling_date >= ?", day.AddDate(0, 0, -7)).Count(&out.RecentActivity.SamplesLast7Days).Error; err != nil {
		return Overview{}, err
	}

	err := db.Raw(`
		SELECT p.parameter_name AS name, COUNT(s.id) AS count
		FROM esmr.samples s JOIN esmr.parameters p ON p.id = s.parameter_id
		GROUP BY p.parameter_name
		ORDER BY count DESC, name ASC
		LIMIT 20`).Scan(&out.TopParameters).Error
	if err != nil {
		return Overview{}, err
	}

	var span struct {
		Earliest sql.NullTime
		Latest   sql.NullTime
	}
	if err := db.Model(&Sample{}).Select("MIN(sampling_date) AS earliest, MAX(sampling_date) AS latest").Scan(&span).Error; err != nil {
		return Overview{}, err
	}
	out.DateRange = dateRange(span.Earliest, span.Latest)

	if err := db.Model(&Sample{}).Select("qualifier AS name, COUNT(*) AS count").Group("qualifier").Order("count DESC").Scan(&out.ByQualifier).Error; err != nil {
		return Overview{}, err
	}
	err = db.Raw(`
		SELECT l.location_type AS name, COUNT(s.id) AS count
		FROM esmr.samples s JOIN esmr.locations l ON l.location_place_id = s.location_place_id
		GROUP BY l.location_type
		ORDER BY count DESC`).Scan(&out.ByLocationType).Error
	if err != nil {
		return Overview{}, err
	}
	return out, nil
}

func (s GormStore) CreateJob(ctx context.Context, job *ImportJob) error {
	return s.DB.WithContext(ctx).Create(job).Error
}

func (s GormStore) SaveJob(ctx context.Context, job *ImportJob) error {
	return s.DB.WithContext(ctx).Save(job).Error
}

// FailUnfinishedJobs closes out every job that never reached a final status.
func (s GormStore) FailUnfinishedJobs(ctx context.Context, reason string, at time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&ImportJob{}).
		Where("status IN ?", []JobStatus{JobPending, JobDownloading, JobParsing, JobImporting}).
		Updates(map[string]any{
			"status":     JobFailed,
			"error":      reason,
			"ended_at":   at,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

func (s GormStore) GetJob(ctx context.Context, id uuid.UUID) (ImportJob, error) {
	var job ImportJob
	err := s.DB.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ImportJob{}, ErrNotFound
	}
	return job, err
}

func (s GormStore) RecentJobs(ctx context.Context, limit int) ([]ImportJob, error) {
	var jobs []ImportJob
	err := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}
