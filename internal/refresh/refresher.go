// Package refresh decides which cities need new coverage figures, recomputes
// them and keeps the cache coherent afterwards.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	obs "github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/observability"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/events"
)

var ErrCityNotFound = errors.New("city not found")

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	DataSource = "Weekly Satellite Update"
)

type CityStore interface {
	ListCities(ctx context.Context, limit, offset int) ([]model.City, error)
	FindCity(ctx context.Context, nameOrID string) (*model.City, error)
	FindCoverage(ctx context.Context, cityID int64, year int) (*model.CoverageRecord, error)
	UpsertCoverage(ctx context.Context, r model.CoverageRecord) (int64, error)
}

// Computer runs one analysis; *analyzer.Pool satisfies it.
type Computer interface {
	Run(ctx context.Context, req analyzer.Request) (model.CoverageResult, error)
}

type Invalidator interface {
	InvalidateCity(ctx context.Context, city string, typ model.CalculationType) (int, error)
	InvalidateAllCoverage(ctx context.Context) (int, error)
}

type Finder interface {
	Find(city string) (DataFiles, bool)
}

type Notifier interface {
	Publish(ev events.RefreshCompleted)
}

type Config struct {
	Threshold     float64
	NameAttribute string
	RedBand       int
	NIRBand       int
	BatchSize     int
	BatchPause    time.Duration
	// StaleAfter is the age after which an existing current-year record is
	// recomputed.
	StaleAfter time.Duration
}

type Refresher struct {
	cfg    Config
	store  CityStore
	comp   Computer
	cache  Invalidator
	finder Finder
	notify Notifier
	log    *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last *RunSummary
}

type Option func(*Refresher)

func WithNotifier(n Notifier) Option { return func(r *Refresher) { r.notify = n } }

func WithLogger(l *slog.Logger) Option { return func(r *Refresher) { r.log = l } }

func WithClock(now func() time.Time) Option { return func(r *Refresher) { r.now = now } }

func New(cfg Config, store CityStore, comp Computer, cache Invalidator, finder Finder, opts ...Option) *Refresher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 7 * 24 * time.Hour
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = analyzer.DefaultThreshold
	}
	if cfg.NIRBand == 0 && cfg.RedBand == 0 {
		cfg.NIRBand = 1
	}
	r := &Refresher{
		cfg:    cfg,
		store:  store,
		comp:   comp,
		cache:  cache,
		finder: finder,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("component", "refresh")
	return r
}

type Candidate struct {
	City  model.City
	Files DataFiles
	// Reason is "missing" (no record this year) or "stale".
	Reason string
}

type CityResult struct {
	City     string  `json:"city"`
	Status   string  `json:"status"`
	Coverage float64 `json:"coverage_percentage,omitempty"`
	Error    string  `json:"error,omitempty"`
	Kind     string  `json:"error_kind,omitempty"`
}

type RunSummary struct {
	RunID           string        `json:"run_id"`
	Trigger         string        `json:"trigger"`
	City            string        `json:"city,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Processed       int           `json:"total_processed"`
	Errors          int           `json:"total_errors"`
	Skipped         int           `json:"total_skipped"`
	Invalidated     int           `json:"cache_entries_invalidated"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	Results         []CityResult  `json:"results"`
}

// Candidates lists cities with discoverable data that have no record for
// year or whose record is older than StaleAfter. Cities without data files
// are counted in skipped.
func (r *Refresher) Candidates(ctx context.Context, year int) ([]Candidate, int, error) {
	cities, err := r.store.ListCities(ctx, 0, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("list cities: %w", err)
	}
	cutoff := r.now().Add(-r.cfg.StaleAfter)
	var out []Candidate
	skipped := 0
	for _, c := range cities {
		files, ok := r.finder.Find(c.Name)
		if !ok {
			skipped++
			r.log.Debug("no data files for city", "city", c.Name)
			continue
		}
		rec, err := r.store.FindCoverage(ctx, c.ID, year)
		if err != nil {
			return nil, skipped, fmt.Errorf("coverage for %q: %w", c.Name, err)
		}
		switch {
		case rec == nil:
			out = append(out, Candidate{City: c, Files: files, Reason: "missing"})
		case rec.UpdatedAt.Before(cutoff):
			out = append(out, Candidate{City: c, Files: files, Reason: "stale"})
		}
	}
	return out, skipped, nil
}

// RunScheduled refreshes every candidate in batches, pausing between
// batches, then invalidates all coverage cache entries once.
func (r *Refresher) RunScheduled(ctx context.Context) (RunSummary, error) {
	sum := r.newSummary(TriggerScheduled, "")
	log := r.log.With("run_id", sum.RunID, "trigger", sum.Trigger)
	year := sum.StartedAt.Year()

	cands, skipped, err := r.Candidates(ctx, year)
	if err != nil {
		return sum, err
	}
	sum.Skipped = skipped
	log.Info("refresh run started", "candidates", len(cands), "skipped", skipped, "year", year)
	if len(cands) == 0 {
		log.Info("no cities require coverage updates")
		return r.finish(sum, log), nil
	}

	for start := 0; start < len(cands); start += r.cfg.BatchSize {
		if start > 0 && r.cfg.BatchPause > 0 {
			if err := sleep(ctx, r.cfg.BatchPause); err != nil {
				log.Warn("refresh run interrupted", "done", start, "of", len(cands), "err", err)
				break
			}
		}
		batch := cands[start:min(start+r.cfg.BatchSize, len(cands))]
		log.Info("processing batch", "batch", start/r.cfg.BatchSize+1, "size", len(batch))
		for _, c := range batch {
			r.record(&sum, r.processCity(ctx, c, year, log))
		}
	}

	n, err := r.cache.InvalidateAllCoverage(ctx)
	if err != nil {
		log.Error("post-run cache invalidation failed", "err", err)
	}
	sum.Invalidated = n
	return r.finish(sum, log), nil
}

// TriggerManual refreshes one named city, or every candidate when city is
// empty. A named city is processed regardless of staleness and only its
// cache entries are invalidated.
func (r *Refresher) TriggerManual(ctx context.Context, city string) (RunSummary, error) {
	sum := r.newSummary(TriggerManual, city)
	log := r.log.With("run_id", sum.RunID, "trigger", sum.Trigger)
	year := sum.StartedAt.Year()

	var (
		cands  []Candidate
		target string
	)
	if city != "" {
		c, err := r.store.FindCity(ctx, city)
		if err != nil {
			return sum, fmt.Errorf("find city %q: %w", city, err)
		}
		if c == nil {
			return sum, fmt.Errorf("%w: %q", ErrCityNotFound, city)
		}
		target = c.Name
		files, ok := r.finder.Find(c.Name)
		if !ok {
			sum.Skipped = 1
			sum.Results = append(sum.Results, CityResult{City: c.Name, Status: "skipped", Error: "no data files found"})
		} else {
			cands = []Candidate{{City: *c, Files: files, Reason: "manual"}}
		}
	} else {
		var skipped int
		var err error
		cands, skipped, err = r.Candidates(ctx, year)
		if err != nil {
			return sum, err
		}
		sum.Skipped = skipped
	}

	for _, c := range cands {
		r.record(&sum, r.processCity(ctx, c, year, log))
	}

	var (
		n   int
		err error
	)
	if target != "" {
		n, err = r.cache.InvalidateCity(ctx, target, "")
	} else {
		n, err = r.cache.InvalidateAllCoverage(ctx)
	}
	if err != nil {
		log.Error("post-run cache invalidation failed", "err", err)
	}
	sum.Invalidated = n
	return r.finish(sum, log), nil
}

func (r *Refresher) newSummary(trigger, city string) RunSummary {
	return RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		City:      city,
		StartedAt: r.now(),
		Results:   []CityResult{},
	}
}

func (r *Refresher) record(sum *RunSummary, res CityResult) {
	sum.Results = append(sum.Results, res)
	if res.Status == "success" {
		sum.Processed++
	} else {
		sum.Errors++
	}
}

func (r *Refresher) finish(sum RunSummary, log *slog.Logger) RunSummary {
	sum.Duration = r.now().Sub(sum.StartedAt)
	sum.DurationSeconds = sum.Duration.Seconds()
	obs.AddRefreshCities(sum.Processed, sum.Errors, sum.Skipped)
	obs.SetRefreshLastRun(sum.Trigger, float64(r.now().Unix()))

	r.mu.Lock()
	cp := sum
	r.last = &cp
	r.mu.Unlock()

	if r.notify != nil {
		cities := make([]string, 0, len(sum.Results))
		for _, res := range sum.Results {
			if res.Status == "success" {
				cities = append(cities, res.City)
			}
		}
		r.notify.Publish(events.RefreshCompleted{
			RunID:     sum.RunID,
			Trigger:   sum.Trigger,
			Processed: sum.Processed,
			Errors:    sum.Errors,
			Skipped:   sum.Skipped,
			Cities:    cities,
			TS:        r.now().UTC(),
		})
	}

	log.Info("refresh run finished",
		"processed", sum.Processed,
		"errors", sum.Errors,
		"skipped", sum.Skipped,
		"invalidated", sum.Invalidated,
		"duration_s", sum.DurationSeconds)
	return sum
}

// processCity never panics or returns an error; failures become a result.
func (r *Refresher) processCity(ctx context.Context, c Candidate, year int, log *slog.Logger) (res CityResult) {
	res.City = c.City.Name
	log = log.With("city", c.City.Name)
	defer func() {
		if p := recover(); p != nil {
			res.Status, res.Error, res.Kind = "error", fmt.Sprint("panic: ", p), analyzer.KindSystem.String()
			log.Error("city refresh panicked", "panic", p)
		}
	}()

	if c.Files.Regional {
		log.Info("using regional data files", "raster", c.Files.Raster, "boundary", c.Files.Boundary)
	}
	out, err := r.comp.Run(ctx, analyzer.Request{
		BoundaryPath:  c.Files.Boundary,
		RasterPath:    c.Files.Raster,
		CityName:      c.City.Name,
		Threshold:     r.cfg.Threshold,
		NameAttribute: r.cfg.NameAttribute,
		RedBand:       r.cfg.RedBand,
		NIRBand:       r.cfg.NIRBand,
	})
	if err != nil {
		log.Error("city refresh failed", "err", err, "kind", analyzer.Classify(err).String())
		return CityResult{City: c.City.Name, Status: "error", Error: err.Error(), Kind: analyzer.Classify(err).String()}
	}

	rec := model.RecordFromResult(c.City.ID, year, out, "")
	rec.CityName = c.City.Name
	rec.DataSource = DataSource
	meta, _ := json.Marshal(map[string]any{
		"processed_at":      r.now().UTC().Format(time.RFC3339),
		"processing_method": "automated_weekly_update",
		"ndvi_threshold":    r.cfg.Threshold,
		"batch_processing":  true,
		"regional_data":     c.Files.Regional,
		"fallback_sampled":  out.FallbackSampled,
	})
	rec.ProcessingMetadata = string(meta)
	if _, err := r.store.UpsertCoverage(ctx, rec); err != nil {
		log.Error("persist coverage failed", "err", err)
		return CityResult{City: c.City.Name, Status: "error", Error: err.Error(), Kind: analyzer.KindSystem.String()}
	}
	log.Info("coverage refreshed", "coverage_pct", out.CoveragePercent, "reason", c.Reason)
	return CityResult{City: c.City.Name, Status: "success", Coverage: out.CoveragePercent}
}

// LastRun returns the most recent run summary, if any.
func (r *Refresher) LastRun() (RunSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return RunSummary{}, false
	}
	return *r.last, true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
