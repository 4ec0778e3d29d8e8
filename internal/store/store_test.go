package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("version=%d want %d", v, len(migrations))
	}
}

func TestUpsertAndFindCity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertCity(ctx, model.City{Name: "New York", Country: "USA", Latitude: 40.7, Longitude: -74})
	if err != nil {
		t.Fatalf("UpsertCity: %v", err)
	}
	again, err := s.UpsertCity(ctx, model.City{Name: "new york", Country: "United States"})
	if err != nil {
		t.Fatalf("UpsertCity again: %v", err)
	}
	if again != id {
		t.Fatalf("case variant created new city: %d vs %d", again, id)
	}

	c, err := s.FindCity(ctx, "NEW YORK")
	if err != nil || c == nil {
		t.Fatalf("FindCity by name: %v %v", c, err)
	}
	if c.Country != "United States" || c.Name != "New York" {
		t.Fatalf("city=%+v", c)
	}
	byID, err := s.FindCity(ctx, strconv.FormatInt(id, 10))
	if err != nil || byID == nil || byID.Name != "New York" {
		t.Fatalf("FindCity by id: %+v %v", byID, err)
	}
	missing, err := s.FindCity(ctx, "Atlantis")
	if err != nil || missing != nil {
		t.Fatalf("missing city: %+v %v", missing, err)
	}
}

func TestListCities_Paging(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for _, n := range []string{"Oslo", "Bergen", "Tromso"} {
		if _, err := s.UpsertCity(ctx, model.City{Name: n}); err != nil {
			t.Fatalf("UpsertCity: %v", err)
		}
	}
	all, err := s.ListCities(ctx, 0, 0)
	if err != nil || len(all) != 3 || all[0].Name != "Bergen" {
		t.Fatalf("all=%+v err=%v", all, err)
	}
	page, err := s.ListCities(ctx, 1, 1)
	if err != nil || len(page) != 1 || page[0].Name != "Oslo" {
		t.Fatalf("page=%+v err=%v", page, err)
	}
}

func TestUpsertCoverage_UniquePerCityYearLastWriteWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	cityID, err := s.UpsertCity(ctx, model.City{Name: "Oslo"})
	if err != nil {
		t.Fatalf("UpsertCity: %v", err)
	}

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }
	id1, err := s.UpsertCoverage(ctx, model.CoverageRecord{CityID: cityID, Year: 2024, CoveragePercent: 30, DataSource: "a"})
	if err != nil {
		t.Fatalf("UpsertCoverage: %v", err)
	}

	s.now = func() time.Time { return t0.Add(48 * time.Hour) }
	id2, err := s.UpsertCoverage(ctx, model.CoverageRecord{CityID: cityID, Year: 2024, CoveragePercent: 42.5, DataSource: "b",
		MeanNDVI: 0.4, TotalPixels: 100, ProcessingMetadata: `{"x":1}`})
	if err != nil {
		t.Fatalf("UpsertCoverage again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("upsert created a second row: %d vs %d", id1, id2)
	}

	r, err := s.FindCoverage(ctx, cityID, 2024)
	if err != nil || r == nil {
		t.Fatalf("FindCoverage: %+v %v", r, err)
	}
	if r.CoveragePercent != 42.5 || r.DataSource != "b" || r.TotalPixels != 100 || r.CityName != "Oslo" {
		t.Fatalf("record=%+v", r)
	}
	if !r.CreatedAt.Equal(t0) || !r.UpdatedAt.Equal(t0.Add(48*time.Hour)) {
		t.Fatalf("created=%v updated=%v", r.CreatedAt, r.UpdatedAt)
	}

	if _, err := s.UpsertCoverage(ctx, model.CoverageRecord{CityID: cityID, Year: 2022, CoveragePercent: 20}); err != nil {
		t.Fatalf("UpsertCoverage 2022: %v", err)
	}
	hist, err := s.ListCoverageHistory(ctx, cityID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Year != 2022 || hist[1].Year != 2024 {
		t.Fatalf("history=%+v", hist)
	}
	if none, err := s.FindCoverage(ctx, cityID, 1999); err != nil || none != nil {
		t.Fatalf("missing year: %+v %v", none, err)
	}
}

func TestUpsertCoverage_RequiresNaturalKey(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.UpsertCoverage(context.Background(), model.CoverageRecord{Year: 2024}); err == nil {
		t.Fatalf("expected error without city id")
	}
}
