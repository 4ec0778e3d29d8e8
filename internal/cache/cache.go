// Package cache memoizes coverage calculations keyed by content-derived hashes,
// with per-type expiry and invalidation by city.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

var ErrClosed = errors.New("cache store closed")

// Entry is one cached payload. At most one entry exists per (Key, Type).
type Entry struct {
	Key       string                `json:"cache_key"`
	Type      model.CalculationType `json:"calculation_type"`
	City      string                `json:"city_name"`
	CityID    *int64                `json:"city_id,omitempty"`
	Data      []byte                `json:"cached_data"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// Live reports whether the entry may still be served at now.
func (e Entry) Live(now time.Time) bool { return e.ExpiresAt.After(now) }

// Filter selects entries. Zero fields match everything.
type Filter struct {
	City  string
	Types []model.CalculationType
	// ExpiredBy, when set, keeps only entries with ExpiresAt <= ExpiredBy.
	ExpiredBy time.Time
}

func (f Filter) Match(e Entry) bool {
	if f.City != "" && e.City != f.City {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.ExpiredBy.IsZero() && e.ExpiresAt.After(f.ExpiredBy) {
		return false
	}
	return true
}

// Store persists entries. Implementations enforce upsert on (Key, Type) and
// do not interpret Data.
type Store interface {
	Get(ctx context.Context, key string, typ model.CalculationType) (Entry, bool, error)
	Upsert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string, typ model.CalculationType) error
	DeleteWhere(ctx context.Context, f Filter) (int, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}
