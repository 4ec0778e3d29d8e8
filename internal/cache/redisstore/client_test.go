package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache/cachetest"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestStoreContract(t *testing.T) {
	cachetest.RunStoreContract(t, func(t *testing.T) cache.Store {
		rc, _ := newMini(t)
		return NewStore(rc)
	})
}

func TestNew_RequiresAddrAndReachableServer(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestContextCanceled_IsRespected(t *testing.T) {
	rc, _ := newMini(t)
	s := NewStore(rc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := s.Get(ctx, "k", model.CalcStats); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if _, err := s.List(ctx, cache.Filter{}); err == nil {
		t.Fatalf("expected error on List with canceled context")
	}
}

func TestRetention_KeepsExpiredUntilRedisTTL(t *testing.T) {
	rc, mr := newMini(t)
	s := NewStore(rc, WithRetention(time.Hour), WithPrefix("t"))
	ctx := context.Background()

	now := time.Now().UTC()
	e := cache.Entry{Key: "k", Type: model.CalcStats, City: "Oslo", Data: []byte(`{}`),
		CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if ttl := mr.TTL("t:entry:stats:k"); ttl != time.Hour+time.Minute {
		t.Fatalf("redis ttl=%v want 1h1m", ttl)
	}

	mr.FastForward(30 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k", model.CalcStats); !ok {
		t.Fatalf("expired entry should still be inspectable during retention")
	}

	mr.FastForward(time.Hour)
	es, err := s.List(ctx, cache.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(es) != 0 {
		t.Fatalf("entries=%d want 0 after redis ttl", len(es))
	}
	if mr.Exists("t:idx:all") {
		members, _ := mr.Members("t:idx:all")
		if len(members) != 0 {
			t.Fatalf("index not pruned: %v", members)
		}
	}
}

func TestGet_UnreadableEnvelopeIsDropped(t *testing.T) {
	rc, mr := newMini(t)
	s := NewStore(rc)
	if err := mr.Set("gc:entry:stats:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := s.Get(context.Background(), "bad", model.CalcStats); ok || err != nil {
		t.Fatalf("ok=%v err=%v want miss", ok, err)
	}
	if mr.Exists("gc:entry:stats:bad") {
		t.Fatalf("corrupt envelope not removed")
	}
}
