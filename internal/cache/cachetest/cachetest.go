// Package cachetest holds a behavioural suite every cache.Store must pass.
package cachetest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

// Base is the reference instant used by the suite.
var Base = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func entry(key string, typ model.CalculationType, city, data string, ttl time.Duration) cache.Entry {
	return cache.Entry{
		Key:       key,
		Type:      typ,
		City:      city,
		Data:      []byte(data),
		CreatedAt: Base,
		ExpiresAt: Base.Add(ttl),
	}
}

// RunStoreContract runs the suite; newStore must return an empty store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) cache.Store) {
	t.Run("UpsertKeepsOneRowPerKeyAndType", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, v := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
			if err := s.Upsert(ctx, entry("k1", model.CalcSatellite, "Oslo", v, time.Hour)); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
		}
		// same key, other type is a separate row
		if err := s.Upsert(ctx, entry("k1", model.CalcStats, "Oslo", `{"v":9}`, time.Hour)); err != nil {
			t.Fatalf("Upsert stats: %v", err)
		}
		all, err := s.List(ctx, cache.Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("rows=%d want 2", len(all))
		}
		e, ok, err := s.Get(ctx, "k1", model.CalcSatellite)
		if err != nil || !ok {
			t.Fatalf("Get ok=%v err=%v", ok, err)
		}
		if string(e.Data) != `{"v":3}` || e.City != "Oslo" {
			t.Fatalf("entry=%+v want last payload", e)
		}
		if !e.ExpiresAt.Equal(Base.Add(time.Hour)) {
			t.Fatalf("expires_at=%v", e.ExpiresAt)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, ok, err := s.Get(context.Background(), "nope", model.CalcStats); ok || err != nil {
			t.Fatalf("ok=%v err=%v want miss", ok, err)
		}
	})

	t.Run("UpsertMovesCity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, entry("k", model.CalcStats, "Oslo", `1`, time.Hour))
		mustUpsert(t, s, entry("k", model.CalcStats, "Bergen", `2`, time.Hour))
		if es, _ := s.List(ctx, cache.Filter{City: "Oslo"}); len(es) != 0 {
			t.Fatalf("old city still indexed: %+v", es)
		}
		if es, _ := s.List(ctx, cache.Filter{City: "Bergen"}); len(es) != 1 {
			t.Fatalf("new city entries=%d want 1", len(es))
		}
	})

	t.Run("DeleteWhereScopes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, entry("a", model.CalcSatellite, "X", `1`, time.Hour))
		mustUpsert(t, s, entry("b", model.CalcStats, "X", `1`, time.Hour))
		mustUpsert(t, s, entry("c", model.CalcSatellite, "Y", `1`, time.Hour))
		mustUpsert(t, s, entry("d", model.CalcStored, "Y", `1`, time.Hour))

		n, err := s.DeleteWhere(ctx, cache.Filter{City: "X", Types: []model.CalculationType{model.CalcStats}})
		if err != nil || n != 1 {
			t.Fatalf("scoped delete n=%d err=%v", n, err)
		}
		n, err = s.DeleteWhere(ctx, cache.Filter{City: "X"})
		if err != nil || n != 1 {
			t.Fatalf("city delete n=%d err=%v", n, err)
		}
		n, err = s.DeleteWhere(ctx, cache.Filter{Types: model.CoverageCalculationTypes})
		if err != nil || n != 1 {
			t.Fatalf("coverage delete n=%d err=%v", n, err)
		}
		left := keysOf(t, s, cache.Filter{})
		if len(left) != 1 || left[0] != "d" {
			t.Fatalf("remaining=%v want [d]", left)
		}
	})

	t.Run("DeleteWhereExpired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, entry("old", model.CalcStats, "X", `1`, time.Minute))
		mustUpsert(t, s, entry("new", model.CalcStats, "X", `1`, 48*time.Hour))
		n, err := s.DeleteWhere(ctx, cache.Filter{ExpiredBy: Base.Add(time.Hour)})
		if err != nil || n != 1 {
			t.Fatalf("expired delete n=%d err=%v", n, err)
		}
		if got := keysOf(t, s, cache.Filter{}); len(got) != 1 || got[0] != "new" {
			t.Fatalf("remaining=%v", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustUpsert(t, s, entry("k", model.CalcSatellite, "X", `1`, time.Hour))
		if err := s.Delete(ctx, "k", model.CalcSatellite); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "k", model.CalcSatellite); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
		if _, ok, _ := s.Get(ctx, "k", model.CalcSatellite); ok {
			t.Fatalf("entry still present")
		}
	})

	t.Run("CityIDRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := int64(42)
		e := entry("k", model.CalcStats, "X", `1`, time.Hour)
		e.CityID = &id
		mustUpsert(t, s, e)
		got, ok, err := s.Get(ctx, "k", model.CalcStats)
		if err != nil || !ok || got.CityID == nil || *got.CityID != 42 {
			t.Fatalf("city id not kept: %+v ok=%v err=%v", got, ok, err)
		}
	})
}

func mustUpsert(t *testing.T, s cache.Store, e cache.Entry) {
	t.Helper()
	if err := s.Upsert(context.Background(), e); err != nil {
		t.Fatalf("Upsert %s: %v", e.Key, err)
	}
}

func keysOf(t *testing.T, s cache.Store, f cache.Filter) []string {
	t.Helper()
	es, err := s.List(context.Background(), f)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Key)
	}
	sort.Strings(out)
	return out
}
