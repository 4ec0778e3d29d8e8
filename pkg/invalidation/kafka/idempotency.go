package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// versionDedupe remembers the last applied version per event scope
// (city/type, key/type or all). Scopes beyond size are evicted oldest
// first, after which any version for them applies again.
type versionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newVersionDedupe(size int, evicted prometheus.Counter) *versionDedupe {
	if size <= 0 {
		size = 4096
	}
	var onEvict func(string, uint64)
	if evicted != nil {
		onEvict = func(string, uint64) { evicted.Inc() }
	}
	c, _ := lru.NewWithEvict[string, uint64](size, onEvict)
	return &versionDedupe{lru: c}
}

// shouldApply records v for scope when it is newer than the last version seen.
func (d *versionDedupe) shouldApply(scope string, v uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(scope); ok && v <= last {
		return false
	}
	d.lru.Add(scope, v)
	return true
}

// forget undoes shouldApply for v so a redelivery after a failure is applied.
func (d *versionDedupe) forget(scope string, v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Peek(scope); ok && last == v {
		d.lru.Remove(scope)
	}
}
