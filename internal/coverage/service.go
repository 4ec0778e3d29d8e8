// Package coverage is the application facade used by the HTTP server and the
// CLI: cached coverage computation, per-city statistics, cache administration
// and refresh control.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache/keys"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/enrich"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/refresh"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/scheduler"
)

var (
	ErrCityNotFound   = refresh.ErrCityNotFound
	ErrNoCoverageData = errors.New("no green coverage data")
	ErrUnavailable    = errors.New("component not configured")
)

type Store interface {
	FindCity(ctx context.Context, nameOrID string) (*model.City, error)
	UpsertCity(ctx context.Context, c model.City) (int64, error)
	UpsertCoverage(ctx context.Context, r model.CoverageRecord) (int64, error)
	ListCoverageHistory(ctx context.Context, cityID int64) ([]model.CoverageRecord, error)
}

type Computer interface {
	Run(ctx context.Context, req analyzer.Request) (model.CoverageResult, error)
}

type Refresher interface {
	TriggerManual(ctx context.Context, city string) (refresh.RunSummary, error)
	LastRun() (refresh.RunSummary, bool)
}

type SchedulerStatus interface {
	Status() scheduler.Status
}

// Enricher adds live external context to a city profile.
type Enricher interface {
	City(ctx context.Context, c model.City) enrich.CityData
}

type Config struct {
	DefaultThreshold float64
	NameAttribute    string
}

type Service struct {
	cfg   Config
	comp  Computer
	cache *cache.Service
	store Store
	log   *slog.Logger
	now   func() time.Time

	refresher Refresher
	sched     SchedulerStatus
	enricher  Enricher
}

type Option func(*Service)

func WithRefresher(r Refresher) Option { return func(s *Service) { s.refresher = r } }

func WithScheduler(st SchedulerStatus) Option { return func(s *Service) { s.sched = st } }

func WithEnricher(e Enricher) Option { return func(s *Service) { s.enricher = e } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, comp Computer, c *cache.Service, store Store, opts ...Option) *Service {
	if cfg.DefaultThreshold == 0 {
		cfg.DefaultThreshold = analyzer.DefaultThreshold
	}
	if cfg.NameAttribute == "" {
		cfg.NameAttribute = analyzer.DefaultNameAttribute
	}
	s := &Service{cfg: cfg, comp: comp, cache: c, store: store, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "coverage")
	return s
}

// Result is a satellite computation as returned to callers.
type Result struct {
	model.CoverageResult
	Year     int    `json:"year"`
	Cached   bool   `json:"cached"`
	CacheKey string `json:"cache_key"`
	Saved    bool   `json:"saved_to_database"`
}

// ComputeOrCached returns the cached result for the request's parameters and
// file contents, computing and caching it on a miss. Saving to the database
// is best effort.
func (s *Service) ComputeOrCached(ctx context.Context, req SatelliteRequest) (Result, error) {
	req.CityName = strings.TrimSpace(req.CityName)
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.NameAttribute == "" {
		req.NameAttribute = s.cfg.NameAttribute
	}
	if req.BoundaryDigest == "" {
		req.BoundaryDigest = keys.FileDigest(req.BoundaryPath)
	}
	if req.RasterDigest == "" {
		req.RasterDigest = keys.FileDigest(req.RasterPath)
	}
	threshold := req.threshold(s.cfg.DefaultThreshold)
	red, nir := req.bands()

	key := keys.Satellite(keys.SatelliteParams{
		City:           req.CityName,
		Threshold:      threshold,
		NameAttribute:  req.NameAttribute,
		RedBand:        red,
		NIRBand:        nir,
		Year:           req.Year,
		BoundaryDigest: req.BoundaryDigest,
		RasterDigest:   req.RasterDigest,
	})

	cityName, cityID := req.CityName, (*int64)(nil)
	if c, err := s.store.FindCity(ctx, req.CityName); err != nil {
		s.log.Warn("city lookup failed", "city", req.CityName, "err", err)
	} else if c != nil {
		cityName, cityID = c.Name, &c.ID
	}

	res, hit, err := cache.GetOrCalculate(ctx, s.cache, cache.Lookup{
		Key:    key,
		Type:   model.CalcSatellite,
		City:   cityName,
		CityID: cityID,
	}, func(ctx context.Context) (model.CoverageResult, error) {
		return s.comp.Run(ctx, analyzer.Request{
			BoundaryPath:  req.BoundaryPath,
			RasterPath:    req.RasterPath,
			CityName:      req.CityName,
			Threshold:     threshold,
			NameAttribute: req.NameAttribute,
			RedBand:       red,
			NIRBand:       nir,
		})
	})
	if err != nil {
		return Result{}, err
	}

	out := Result{CoverageResult: res, Year: req.Year, Cached: hit, CacheKey: key}
	if req.SaveToDatabase {
		if err := s.SaveToDatabase(ctx, res, req.Year); err != nil {
			s.log.Error("saving coverage to database failed", "city", req.CityName, "year", req.Year, "err", err)
		} else {
			out.Saved = true
		}
	}
	return out, nil
}

// SaveToDatabase upserts the (city, year) record, creating the city when it
// is unknown, and drops the city's cached statistics.
func (s *Service) SaveToDatabase(ctx context.Context, res model.CoverageResult, year int) error {
	city, err := s.store.FindCity(ctx, res.CityName)
	if err != nil {
		return fmt.Errorf("find city: %w", err)
	}
	if city == nil {
		id, err := s.store.UpsertCity(ctx, model.City{Name: res.CityName, Country: "Unknown", AreaKm2: res.TotalAreaKm2})
		if err != nil {
			return fmt.Errorf("create city: %w", err)
		}
		city = &model.City{ID: id, Name: res.CityName}
		s.log.Info("created city for uploaded coverage", "city", res.CityName, "id", id)
	}

	rec := model.RecordFromResult(city.ID, year, res, "")
	rec.CityName = city.Name
	meta, _ := json.Marshal(map[string]any{
		"shapefile_source":     "uploaded",
		"raster_source":        "uploaded",
		"processing_timestamp": res.ComputedAt.UTC().Format(time.RFC3339),
		"fallback_sampled":     res.FallbackSampled,
		"repaired_geometry":    res.RepairedGeometry,
	})
	rec.ProcessingMetadata = string(meta)
	if _, err := s.store.UpsertCoverage(ctx, rec); err != nil {
		return fmt.Errorf("upsert coverage: %w", err)
	}
	if _, err := s.cache.InvalidateCity(ctx, city.Name, model.CalcStats); err != nil {
		s.log.Warn("stats cache not invalidated after save", "city", city.Name, "err", err)
	}
	return nil
}

func (s *Service) findCity(ctx context.Context, ref string) (*model.City, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: city is required", analyzer.ErrInvalidParameters)
	}
	c, err := s.store.FindCity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %q", ErrCityNotFound, ref)
	}
	return c, nil
}

type CityStats struct {
	City            model.City             `json:"city"`
	RecordCount     int                    `json:"record_count"`
	LatestCoverage  *model.CoverageRecord  `json:"latest_green_coverage"`
	CoverageHistory []model.CoverageRecord `json:"green_coverage_history"`
	// ChangeSinceFirst is latest minus earliest coverage in percentage points.
	ChangeSinceFirst *float64 `json:"change_since_first_year,omitempty"`
}

// CityStats summarizes a city's coverage records, newest first. Results are
// cached under the stats type.
func (s *Service) CityStats(ctx context.Context, ref string) (CityStats, bool, error) {
	city, err := s.findCity(ctx, ref)
	if err != nil {
		return CityStats{}, false, err
	}
	return cache.GetOrCalculate(ctx, s.cache, cache.Lookup{
		Key:    keys.CityStats(city.ID),
		Type:   model.CalcStats,
		City:   city.Name,
		CityID: &city.ID,
	}, func(ctx context.Context) (CityStats, error) {
		hist, err := s.store.ListCoverageHistory(ctx, city.ID)
		if err != nil {
			return CityStats{}, err
		}
		st := CityStats{City: *city, RecordCount: len(hist), CoverageHistory: make([]model.CoverageRecord, 0, len(hist))}
		for i := len(hist) - 1; i >= 0; i-- {
			st.CoverageHistory = append(st.CoverageHistory, hist[i])
		}
		if len(hist) > 0 {
			latest := hist[len(hist)-1]
			st.LatestCoverage = &latest
			d := latest.CoveragePercent - hist[0].CoveragePercent
			st.ChangeSinceFirst = &d
		}
		return st, nil
	})
}

type Profile struct {
	City           model.City            `json:"city"`
	LatestCoverage *model.CoverageRecord `json:"latest_green_coverage"`
	External       *enrich.CityData      `json:"external_data,omitempty"`
}

// Profile returns the city with its latest coverage and, when an enricher is
// configured, live external data.
func (s *Service) Profile(ctx context.Context, ref string) (Profile, error) {
	city, err := s.findCity(ctx, ref)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{City: *city}
	hist, err := s.store.ListCoverageHistory(ctx, city.ID)
	if err != nil {
		return Profile{}, err
	}
	if len(hist) > 0 {
		p.LatestCoverage = &hist[len(hist)-1]
	}
	if s.enricher != nil {
		ext := s.enricher.City(ctx, *city)
		p.External = &ext
	}
	return p, nil
}

// WHORecommendation is the urban green coverage share recommended by the WHO.
const WHORecommendation = 30.0

type Comparison struct {
	CityName       string  `json:"city_name"`
	CityCoverage   float64 `json:"city_green_coverage_percentage"`
	Recommendation float64 `json:"who_recommendation_percentage"`
	Result         string  `json:"comparison_result"`
	Year           int     `json:"year"`
}

// Comparison rates the city's most recent coverage against WHORecommendation.
func (s *Service) Comparison(ctx context.Context, ref string) (Comparison, bool, error) {
	city, err := s.findCity(ctx, ref)
	if err != nil {
		return Comparison{}, false, err
	}
	return cache.GetOrCalculate(ctx, s.cache, cache.Lookup{
		Key:    keys.Comparison(city.Name),
		Type:   model.CalcStats,
		City:   city.Name,
		CityID: &city.ID,
	}, func(ctx context.Context) (Comparison, error) {
		hist, err := s.store.ListCoverageHistory(ctx, city.ID)
		if err != nil {
			return Comparison{}, err
		}
		if len(hist) == 0 {
			return Comparison{}, fmt.Errorf("%w for city %q", ErrNoCoverageData, city.Name)
		}
		latest := hist[len(hist)-1]
		return Comparison{
			CityName:       city.Name,
			CityCoverage:   latest.CoveragePercent,
			Recommendation: WHORecommendation,
			Result:         compareToWHO(city.Name, latest.CoveragePercent),
			Year:           latest.Year,
		}, nil
	})
}

func compareToWHO(city string, pct float64) string {
	diff := pct - WHORecommendation
	if diff >= 0 {
		switch {
		case diff >= 10:
			return fmt.Sprintf("Excellent! %s exceeds WHO recommendations by %.1f percentage points, indicating a very healthy urban environment.", city, diff)
		case diff >= 5:
			return fmt.Sprintf("Great! %s exceeds WHO recommendations by %.1f percentage points, showing good environmental planning.", city, diff)
		default:
			return fmt.Sprintf("Good! %s meets WHO recommendations with %.1f percentage points above the threshold.", city, diff)
		}
	}
	gap := -diff
	switch {
	case gap >= 15:
		return fmt.Sprintf("Critical: %s is %.1f percentage points below WHO recommendations. Significant improvement in green infrastructure is needed.", city, gap)
	case gap >= 10:
		return fmt.Sprintf("Below standard: %s is %.1f percentage points below WHO recommendations. More green spaces are needed.", city, gap)
	case gap >= 5:
		return fmt.Sprintf("Moderate gap: %s is %.1f percentage points below WHO recommendations. Additional green initiatives would be beneficial.", city, gap)
	default:
		return fmt.Sprintf("Nearly meets standard: %s is %.1f percentage points below WHO recommendations. Small improvements would reach the target.", city, gap)
	}
}

// History returns the city's records in ascending year order, limited to
// [from, to] when those are non-zero.
func (s *Service) History(ctx context.Context, ref string, from, to int) ([]model.CoverageRecord, error) {
	city, err := s.findCity(ctx, ref)
	if err != nil {
		return nil, err
	}
	hist, err := s.store.ListCoverageHistory(ctx, city.ID)
	if err != nil {
		return nil, err
	}
	out := hist[:0]
	for _, r := range hist {
		if (from != 0 && r.Year < from) || (to != 0 && r.Year > to) {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for city %q", ErrNoCoverageData, city.Name)
	}
	return out, nil
}

type CacheStats struct {
	cache.Stats
	CachedCities []string `json:"cached_cities"`
}

func (s *Service) CacheStats(ctx context.Context) (CacheStats, error) {
	st, err := s.cache.Stats(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	cities, err := s.cache.CachedCities(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	if cities == nil {
		cities = []string{}
	}
	return CacheStats{Stats: st, CachedCities: cities}, nil
}

// CleanupExpiredCache removes expired entries, for one city when city is set.
func (s *Service) CleanupExpiredCache(ctx context.Context, city string) (int, error) {
	return s.cache.CleanupExpired(ctx, strings.TrimSpace(city))
}

// InvalidateCity drops the city's entries, optionally only those of typ.
func (s *Service) InvalidateCity(ctx context.Context, city, typ string) (int, error) {
	var ct model.CalculationType
	if typ != "" {
		var err error
		if ct, err = model.ParseCalculationType(typ); err != nil {
			return 0, fmt.Errorf("%w: %v", analyzer.ErrInvalidParameters, err)
		}
	}
	if strings.TrimSpace(city) == "" {
		return 0, fmt.Errorf("%w: city is required", analyzer.ErrInvalidParameters)
	}
	if c, err := s.store.FindCity(ctx, city); err == nil && c != nil {
		city = c.Name
	}
	return s.cache.InvalidateCity(ctx, city, ct)
}

func (s *Service) TriggerManualRefresh(ctx context.Context, city string) (refresh.RunSummary, error) {
	if s.refresher == nil {
		return refresh.RunSummary{}, fmt.Errorf("%w: refresher", ErrUnavailable)
	}
	return s.refresher.TriggerManual(ctx, strings.TrimSpace(city))
}

type SchedulerStatusReport struct {
	scheduler.Status
	LastRun *refresh.RunSummary `json:"last_run,omitempty"`
}

func (s *Service) SchedulerStatus() SchedulerStatusReport {
	var rep SchedulerStatusReport
	if s.sched != nil {
		rep.Status = s.sched.Status()
	} else {
		rep.Status = scheduler.Status{State: scheduler.StateStopped, Jobs: []scheduler.JobStatus{}}
	}
	if s.refresher != nil {
		if last, ok := s.refresher.LastRun(); ok {
			rep.LastRun = &last
		}
	}
	return rep
}

func (s *Service) Ping(ctx context.Context) error { return s.cache.Ping(ctx) }
