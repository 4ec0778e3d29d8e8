// Package sqlstore keeps cache entries in the cache_entries table of the
// service database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/observability"
)

const backend = "sqlite"

// Store expects the schema created by store.Migrate.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func observe(op string, start time.Time, err error) {
	observability.ObserveCacheOp(backend, op, err, time.Since(start).Seconds())
}

func (s *Store) Get(ctx context.Context, key string, typ model.CalculationType) (e cache.Entry, ok bool, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())
	row := s.db.QueryRowContext(ctx, `
		SELECT cache_key, calculation_type, city_name, city_id, cached_data, created_at, expires_at
		FROM cache_entries WHERE cache_key = ? AND calculation_type = ?
	`, key, string(typ))
	e, err = scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("sqlite get %s/%s: %w", typ, key, err)
	}
	return e, true, nil
}

func scanEntry(row interface{ Scan(...any) error }) (cache.Entry, error) {
	var (
		e      cache.Entry
		typ    string
		cityID sql.NullInt64
	)
	if err := row.Scan(&e.Key, &typ, &e.City, &cityID, &e.Data, &e.CreatedAt, &e.ExpiresAt); err != nil {
		return cache.Entry{}, err
	}
	e.Type = model.CalculationType(typ)
	if cityID.Valid {
		id := cityID.Int64
		e.CityID = &id
	}
	return e, nil
}

func (s *Store) Upsert(ctx context.Context, e cache.Entry) (err error) {
	defer func(start time.Time) { observe("upsert", start, err) }(time.Now())
	var cityID any
	if e.CityID != nil {
		cityID = *e.CityID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, calculation_type, city_name, city_id, cached_data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key, calculation_type) DO UPDATE SET
			city_name = excluded.city_name,
			city_id = excluded.city_id,
			cached_data = excluded.cached_data,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, e.Key, string(e.Type), e.City, cityID, e.Data, e.CreatedAt.UTC(), e.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite upsert %s/%s: %w", e.Type, e.Key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string, typ model.CalculationType) (err error) {
	defer func(start time.Time) { observe("delete", start, err) }(time.Now())
	_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ? AND calculation_type = ?`, key, string(typ))
	if err != nil {
		return fmt.Errorf("sqlite delete %s/%s: %w", typ, key, err)
	}
	return nil
}

// where renders f as a SQL predicate. Expiry compares instants in Go after
// the query; see List and DeleteWhere.
func where(f cache.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.City != "" {
		conds = append(conds, "city_name = ?")
		args = append(args, f.City)
	}
	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, t := range f.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "calculation_type IN ("+strings.Join(ph, ",")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) List(ctx context.Context, f cache.Filter) (out []cache.Entry, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())
	w, args := where(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT cache_key, calculation_type, city_name, city_id, cached_data, created_at, expires_at
		FROM cache_entries`+w, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// DeleteWhere removes matching entries inside one transaction.
func (s *Store) DeleteWhere(ctx context.Context, f cache.Filter) (n int, err error) {
	defer func(start time.Time) { observe("delete_where", start, err) }(time.Now())
	if f.ExpiredBy.IsZero() {
		w, args := where(f)
		res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`+w, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite delete where: %w", err)
		}
		affected, err := res.RowsAffected()
		return int(affected), err
	}

	es, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	if len(es) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	for _, e := range es {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cache_key = ? AND calculation_type = ?`, e.Key, string(e.Type)); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite delete expired: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	return len(es), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close is a no-op; the database belongs to the caller.
func (s *Store) Close() error { return nil }

var _ cache.Store = (*Store)(nil)
