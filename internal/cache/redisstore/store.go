package redisstore

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

const mgetBatch = 500

// Store keeps each entry as a JSON value plus membership in an "all" index
// set and a per-city index set. Redis expires a value Retention after the
// entry itself expires, so expired entries stay visible to Stats until a
// cleanup pass removes them.
type Store struct {
	c         *Client
	prefix    string
	retention time.Duration
}

type StoreOption func(*Store)

func WithPrefix(p string) StoreOption { return func(s *Store) { s.prefix = p } }

func WithRetention(d time.Duration) StoreOption { return func(s *Store) { s.retention = d } }

func NewStore(c *Client, opts ...StoreOption) *Store {
	s := &Store{c: c, prefix: "gc", retention: 24 * time.Hour}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) entryKey(key string, typ model.CalculationType) string {
	return fmt.Sprintf("%s:entry:%s:%s", s.prefix, typ, key)
}

func (s *Store) allSet() string { return s.prefix + ":idx:all" }

func (s *Store) citySet(city string) string { return s.prefix + ":idx:city:" + city }

func (s *Store) Get(ctx context.Context, key string, typ model.CalculationType) (cache.Entry, bool, error) {
	ek := s.entryKey(key, typ)
	b, ok, err := s.c.Get(ctx, ek)
	if err != nil || !ok {
		return cache.Entry{}, false, err
	}
	var e cache.Entry
	if err := json.Unmarshal(b, &e); err != nil {
		// unreadable envelope: drop it so the next write starts clean
		_ = s.c.Pipelined(ctx, "del", func(p redis.Pipeliner) error {
			p.Del(ctx, ek)
			p.SRem(ctx, s.allSet(), ek)
			return nil
		})
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

func (s *Store) Upsert(ctx context.Context, e cache.Entry) error {
	ek := s.entryKey(e.Key, e.Type)
	prev, had, err := s.Get(ctx, e.Key, e.Type)
	if err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	ttl := e.ExpiresAt.Sub(e.CreatedAt) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.c.Pipelined(ctx, "upsert", func(p redis.Pipeliner) error {
		if had && prev.City != e.City {
			p.SRem(ctx, s.citySet(prev.City), ek)
		}
		p.Set(ctx, ek, b, ttl)
		p.SAdd(ctx, s.allSet(), ek)
		p.SAdd(ctx, s.citySet(e.City), ek)
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, key string, typ model.CalculationType) error {
	e, ok, err := s.Get(ctx, key, typ)
	if err != nil || !ok {
		return err
	}
	_, err = s.remove(ctx, []cache.Entry{e})
	return err
}

func (s *Store) DeleteWhere(ctx context.Context, f cache.Filter) (int, error) {
	es, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	return s.remove(ctx, es)
}

func (s *Store) remove(ctx context.Context, es []cache.Entry) (int, error) {
	if len(es) == 0 {
		return 0, nil
	}
	err := s.c.Pipelined(ctx, "delete", func(p redis.Pipeliner) error {
		for _, e := range es {
			ek := s.entryKey(e.Key, e.Type)
			p.Del(ctx, ek)
			p.SRem(ctx, s.allSet(), ek)
			p.SRem(ctx, s.citySet(e.City), ek)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(es), nil
}

// List loads the entries of the narrowest index set and filters them.
// Index members whose value Redis already evicted are pruned on the way.
func (s *Store) List(ctx context.Context, f cache.Filter) ([]cache.Entry, error) {
	set := s.allSet()
	if f.City != "" {
		set = s.citySet(f.City)
	}
	members, err := s.c.Members(ctx, set)
	if err != nil {
		return nil, err
	}

	var out []cache.Entry
	var gone []string
	for start := 0; start < len(members); start += mgetBatch {
		batch := members[start:min(start+mgetBatch, len(members))]
		vals, err := s.c.MGet(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			b, ok := vals[k]
			if !ok {
				gone = append(gone, k)
				continue
			}
			var e cache.Entry
			if err := json.Unmarshal(b, &e); err != nil {
				continue
			}
			if f.Match(e) {
				out = append(out, e)
			}
		}
	}
	if len(gone) > 0 {
		_ = s.c.Pipelined(ctx, "prune", func(p redis.Pipeliner) error {
			for _, k := range gone {
				p.SRem(ctx, set, k)
				p.SRem(ctx, s.allSet(), k)
			}
			return nil
		})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.c.Ping(ctx) }

func (s *Store) Close() error { return s.c.Close() }

var _ cache.Store = (*Store)(nil)
