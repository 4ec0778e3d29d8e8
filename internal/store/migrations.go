package store

import (
	"context"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS cities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    country TEXT NOT NULL DEFAULT '',
    state_province TEXT NOT NULL DEFAULT '',
    population INTEGER NOT NULL DEFAULT 0,
    area_km2 REAL NOT NULL DEFAULT 0,
    latitude REAL NOT NULL DEFAULT 0,
    longitude REAL NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cities_name ON cities(name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS green_coverage (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    city_id INTEGER NOT NULL REFERENCES cities(id) ON DELETE CASCADE,
    year INTEGER NOT NULL,
    coverage_percentage REAL NOT NULL,
    data_source TEXT NOT NULL DEFAULT '',
    measurement_method TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE(city_id, year)
);
`,
	},
	{
		Version:     2,
		Description: "Satellite analysis columns",
		SQL: `
ALTER TABLE green_coverage ADD COLUMN total_area_km2 REAL NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN green_area_km2 REAL NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN ndvi_threshold REAL NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN mean_ndvi REAL NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN std_ndvi REAL NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN min_ndvi REAL NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN max_ndvi REAL NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN coordinate_system TEXT NOT NULL DEFAULT '';
ALTER TABLE green_coverage ADD COLUMN shapefile_path TEXT NOT NULL DEFAULT '';
ALTER TABLE green_coverage ADD COLUMN raster_path TEXT NOT NULL DEFAULT '';
ALTER TABLE green_coverage ADD COLUMN total_pixels INTEGER NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN green_pixels INTEGER NOT NULL DEFAULT 0;
ALTER TABLE green_coverage ADD COLUMN processing_metadata TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_green_coverage_updated ON green_coverage(updated_at);
`,
	},
	{
		Version:     3,
		Description: "Calculation cache",
		SQL: `
CREATE TABLE IF NOT EXISTS cache_entries (
    cache_key TEXT NOT NULL,
    calculation_type TEXT NOT NULL,
    city_name TEXT NOT NULL DEFAULT '',
    city_id INTEGER,
    cached_data BLOB NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    PRIMARY KEY (cache_key, calculation_type)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_city ON cache_entries(city_name);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`,
	},
}

// Migrate applies pending migrations, one transaction each.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		s.log.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}
