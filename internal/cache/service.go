package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	obs "github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/observability"
)

type Options struct {
	TTL TTLPolicy
	// Coalesce makes concurrent misses on one key share a single calculation.
	Coalesce bool
	Now      func() time.Time
	Logger   *slog.Logger
}

type Service struct {
	store    Store
	ttl      TTLPolicy
	coalesce bool
	now      func() time.Time
	log      *slog.Logger
	flight   singleflight.Group
}

func New(store Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TTL.Default == 0 && opts.TTL.Overrides == nil {
		opts.TTL = DefaultTTLPolicy()
	}
	return &Service{
		store:    store,
		ttl:      opts.TTL,
		coalesce: opts.Coalesce,
		now:      opts.Now,
		log:      opts.Logger.With("component", "cache"),
	}
}

// Get decodes the live entry for (key, typ) into dst. A payload that no
// longer decodes is deleted and reported as a miss.
func (s *Service) Get(ctx context.Context, key string, typ model.CalculationType, dst any) (bool, error) {
	e, ok, err := s.store.Get(ctx, key, typ)
	if err != nil {
		return false, fmt.Errorf("cache get %s/%s: %w", typ, key, err)
	}
	if !ok || !e.Live(s.now()) {
		obs.IncCacheMiss(string(typ))
		return false, nil
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		s.log.Warn("removing corrupt cache entry", "key", key, "type", typ, "city", e.City, "err", err)
		if derr := s.store.Delete(ctx, key, typ); derr != nil {
			s.log.Warn("corrupt cache entry not removed", "key", key, "type", typ, "err", derr)
		}
		obs.IncCacheMiss(string(typ))
		return false, nil
	}
	obs.IncCacheHit(string(typ))
	return true, nil
}

type PutOptions struct {
	CityID *int64
	// TTL overrides the type policy when positive.
	TTL time.Duration
}

// Put upserts payload under (key, typ), replacing any live or expired entry.
func (s *Service) Put(ctx context.Context, key string, typ model.CalculationType, city string, payload any, o PutOptions) error {
	if !typ.Valid() {
		return fmt.Errorf("cache put: unknown calculation type %q", typ)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache put %s/%s: encode: %w", typ, key, err)
	}
	ttl := o.TTL
	if ttl <= 0 {
		ttl = s.ttl.For(typ)
	}
	now := s.now().UTC()
	e := Entry{
		Key:       key,
		Type:      typ,
		City:      city,
		CityID:    o.CityID,
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.Upsert(ctx, e); err != nil {
		return fmt.Errorf("cache put %s/%s: %w", typ, key, err)
	}
	return nil
}

// Lookup names one memoized calculation.
type Lookup struct {
	Key    string
	Type   model.CalculationType
	City   string
	CityID *int64
	TTL    time.Duration
}

// GetOrCalculate returns the cached value for l or runs calc, caches its
// result and returns it. calc errors are returned uncached. Store failures
// never fail the call: a read error counts as a miss and a write error only
// costs the next caller a recomputation.
func GetOrCalculate[T any](ctx context.Context, s *Service, l Lookup, calc func(context.Context) (T, error)) (T, bool, error) {
	var out T
	hit, err := s.Get(ctx, l.Key, l.Type, &out)
	if err != nil {
		s.log.Warn("cache read failed, calculating", "key", l.Key, "type", l.Type, "err", err)
	}
	if hit {
		return out, true, nil
	}

	compute := func() (T, error) {
		v, err := calc(ctx)
		if err != nil {
			return v, err
		}
		if perr := s.Put(ctx, l.Key, l.Type, l.City, v, PutOptions{CityID: l.CityID, TTL: l.TTL}); perr != nil {
			s.log.Warn("cache write failed", "key", l.Key, "type", l.Type, "city", l.City, "err", perr)
		}
		return v, nil
	}

	if !s.coalesce {
		v, err := compute()
		return v, false, err
	}
	res, err, _ := s.flight.Do(string(l.Type)+"|"+l.Key, func() (any, error) {
		return compute()
	})
	if err != nil {
		return out, false, err
	}
	v, ok := res.(T)
	if !ok {
		return out, false, errors.New("cache: coalesced result has unexpected type")
	}
	return v, false, nil
}

// InvalidateCity deletes every entry of city, optionally only of one type.
func (s *Service) InvalidateCity(ctx context.Context, city string, typ model.CalculationType) (int, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return 0, errors.New("invalidate: city name is required")
	}
	f := Filter{City: city}
	if typ != "" {
		f.Types = []model.CalculationType{typ}
	}
	n, err := s.store.DeleteWhere(ctx, f)
	if err != nil {
		return n, fmt.Errorf("invalidate city %q: %w", city, err)
	}
	obs.AddInvalidated("city", n)
	s.log.Info("cache invalidated for city", "city", city, "type", typ, "deleted", n)
	return n, nil
}

// InvalidateKey deletes exactly one entry.
func (s *Service) InvalidateKey(ctx context.Context, key string, typ model.CalculationType) error {
	if err := s.store.Delete(ctx, key, typ); err != nil {
		return fmt.Errorf("invalidate %s/%s: %w", typ, key, err)
	}
	obs.AddInvalidated("key", 1)
	return nil
}

// InvalidateAllCoverage drops every satellite and stats entry.
func (s *Service) InvalidateAllCoverage(ctx context.Context) (int, error) {
	n, err := s.store.DeleteWhere(ctx, Filter{Types: model.CoverageCalculationTypes})
	if err != nil {
		return n, fmt.Errorf("invalidate all coverage: %w", err)
	}
	obs.AddInvalidated("all_coverage", n)
	s.log.Info("coverage cache invalidated", "deleted", n)
	return n, nil
}

// CleanupExpired deletes expired entries, for one city when city is set.
func (s *Service) CleanupExpired(ctx context.Context, city string) (int, error) {
	n, err := s.store.DeleteWhere(ctx, Filter{City: city, ExpiredBy: s.now()})
	if err != nil {
		return n, fmt.Errorf("cleanup expired: %w", err)
	}
	obs.AddInvalidated("expired", n)
	if n > 0 {
		s.log.Info("expired cache entries removed", "deleted", n, "city", city)
	}
	return n, nil
}

type Stats struct {
	Total   int            `json:"total_entries"`
	Valid   int            `json:"valid_entries"`
	Expired int            `json:"expired_entries"`
	ByType  map[string]int `json:"by_type"`
}

// Stats counts entries; ByType covers live entries only.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.store.List(ctx, Filter{})
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	now := s.now()
	st := Stats{Total: len(all), ByType: map[string]int{}}
	for _, e := range all {
		if e.Live(now) {
			st.Valid++
			st.ByType[string(e.Type)]++
		} else {
			st.Expired++
		}
	}
	return st, nil
}

// CachedCities lists the cities that have at least one live entry.
func (s *Service) CachedCities(ctx context.Context) ([]string, error) {
	all, err := s.store.List(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("cached cities: %w", err)
	}
	now := s.now()
	seen := map[string]struct{}{}
	var out []string
	for _, e := range all {
		if e.City == "" || !e.Live(now) {
			continue
		}
		if _, ok := seen[e.City]; ok {
			continue
		}
		seen[e.City] = struct{}{}
		out = append(out, e.City)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
