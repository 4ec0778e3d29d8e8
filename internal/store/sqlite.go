// Package store persists cities and their yearly green coverage in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

func New(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log.With("component", "store"), now: time.Now}
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	// one connection: sqlite serializes writers and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure db: %w", err)
	}
	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

const cityColumns = `id, name, country, state_province, population, area_km2, latitude, longitude, description, created_at`

func scanCity(row interface{ Scan(...any) error }) (model.City, error) {
	var c model.City
	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.StateProvince, &c.Population, &c.AreaKm2,
		&c.Latitude, &c.Longitude, &c.Description, &c.CreatedAt)
	return c, err
}

// UpsertCity inserts c or updates the city with the same name
// (case-insensitive) and returns its id.
func (s *Store) UpsertCity(ctx context.Context, c model.City) (int64, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return 0, errors.New("city name is required")
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM cities WHERE name = ? COLLATE NOCASE`, name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO cities (name, country, state_province, population, area_km2, latitude, longitude, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, name, c.Country, c.StateProvince, c.Population, c.AreaKm2, c.Latitude, c.Longitude, c.Description, s.now().UTC())
		if err != nil {
			return 0, fmt.Errorf("insert city %q: %w", name, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("find city %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE cities SET country = ?, state_province = ?, population = ?, area_km2 = ?,
			latitude = ?, longitude = ?, description = ?
		WHERE id = ?
	`, c.Country, c.StateProvince, c.Population, c.AreaKm2, c.Latitude, c.Longitude, c.Description, id)
	if err != nil {
		return 0, fmt.Errorf("update city %q: %w", name, err)
	}
	return id, nil
}

// FindCity looks a city up by numeric id or by case-insensitive name. A
// missing city is (nil, nil).
func (s *Store) FindCity(ctx context.Context, nameOrID string) (*model.City, error) {
	key := strings.TrimSpace(nameOrID)
	var row *sql.Row
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		row = s.db.QueryRowContext(ctx, `SELECT `+cityColumns+` FROM cities WHERE id = ?`, id)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT `+cityColumns+` FROM cities WHERE name = ? COLLATE NOCASE`, key)
	}
	c, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find city %q: %w", key, err)
	}
	return &c, nil
}

// ListCities pages through cities ordered by name. limit <= 0 means all.
func (s *Store) ListCities(ctx context.Context, limit, offset int) ([]model.City, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cityColumns+` FROM cities ORDER BY name COLLATE NOCASE LIMIT ? OFFSET ?`, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const coverageColumns = `g.id, g.city_id, c.name, g.year, g.coverage_percentage, g.data_source, g.measurement_method,
	g.notes, g.total_area_km2, g.green_area_km2, g.ndvi_threshold, g.mean_ndvi, g.std_ndvi, g.min_ndvi, g.max_ndvi,
	g.coordinate_system, g.shapefile_path, g.raster_path, g.total_pixels, g.green_pixels, g.processing_metadata,
	g.created_at, g.updated_at`

func scanCoverage(row interface{ Scan(...any) error }) (model.CoverageRecord, error) {
	var r model.CoverageRecord
	err := row.Scan(&r.ID, &r.CityID, &r.CityName, &r.Year, &r.CoveragePercent, &r.DataSource, &r.MeasurementMethod,
		&r.Notes, &r.TotalAreaKm2, &r.GreenAreaKm2, &r.NDVIThreshold, &r.MeanNDVI, &r.StdNDVI, &r.MinNDVI, &r.MaxNDVI,
		&r.CoordinateSystem, &r.ShapefilePath, &r.RasterPath, &r.TotalPixels, &r.GreenPixels, &r.ProcessingMetadata,
		&r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// FindCoverage returns the (city, year) row, or nil when absent.
func (s *Store) FindCoverage(ctx context.Context, cityID int64, year int) (*model.CoverageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+coverageColumns+`
		FROM green_coverage g JOIN cities c ON c.id = g.city_id
		WHERE g.city_id = ? AND g.year = ?
	`, cityID, year)
	r, err := scanCoverage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find coverage city=%d year=%d: %w", cityID, year, err)
	}
	return &r, nil
}

// UpsertCoverage inserts the (city, year) row or overwrites every computed
// field of the existing one. The last write wins.
func (s *Store) UpsertCoverage(ctx context.Context, r model.CoverageRecord) (int64, error) {
	if r.CityID == 0 || r.Year == 0 {
		return 0, fmt.Errorf("upsert coverage: city_id and year are required (city=%d year=%d)", r.CityID, r.Year)
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO green_coverage (city_id, year, coverage_percentage, data_source, measurement_method, notes,
			total_area_km2, green_area_km2, ndvi_threshold, mean_ndvi, std_ndvi, min_ndvi, max_ndvi,
			coordinate_system, shapefile_path, raster_path, total_pixels, green_pixels, processing_metadata,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(city_id, year) DO UPDATE SET
			coverage_percentage = excluded.coverage_percentage,
			data_source = excluded.data_source,
			measurement_method = excluded.measurement_method,
			notes = excluded.notes,
			total_area_km2 = excluded.total_area_km2,
			green_area_km2 = excluded.green_area_km2,
			ndvi_threshold = excluded.ndvi_threshold,
			mean_ndvi = excluded.mean_ndvi,
			std_ndvi = excluded.std_ndvi,
			min_ndvi = excluded.min_ndvi,
			max_ndvi = excluded.max_ndvi,
			coordinate_system = excluded.coordinate_system,
			shapefile_path = excluded.shapefile_path,
			raster_path = excluded.raster_path,
			total_pixels = excluded.total_pixels,
			green_pixels = excluded.green_pixels,
			processing_metadata = excluded.processing_metadata,
			updated_at = excluded.updated_at
	`, r.CityID, r.Year, r.CoveragePercent, r.DataSource, r.MeasurementMethod, r.Notes,
		r.TotalAreaKm2, r.GreenAreaKm2, r.NDVIThreshold, r.MeanNDVI, r.StdNDVI, r.MinNDVI, r.MaxNDVI,
		r.CoordinateSystem, r.ShapefilePath, r.RasterPath, r.TotalPixels, r.GreenPixels, r.ProcessingMetadata,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert coverage city=%d year=%d: %w", r.CityID, r.Year, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM green_coverage WHERE city_id = ? AND year = ?`, r.CityID, r.Year).Scan(&id); err != nil {
		return 0, fmt.Errorf("read coverage id: %w", err)
	}
	return id, nil
}

// ListCoverageHistory returns a city's rows ordered by year ascending.
func (s *Store) ListCoverageHistory(ctx context.Context, cityID int64) ([]model.CoverageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+coverageColumns+`
		FROM green_coverage g JOIN cities c ON c.id = g.city_id
		WHERE g.city_id = ?
		ORDER BY g.year ASC
	`, cityID)
	if err != nil {
		return nil, fmt.Errorf("coverage history city=%d: %w", cityID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.CoverageRecord
	for rows.Next() {
		r, err := scanCoverage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
