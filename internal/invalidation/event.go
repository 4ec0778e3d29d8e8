// Package invalidation defines the cache invalidation message exchanged over
// Kafka between replicas and data pipelines.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

type Op string

const (
	// OpInvalidate drops a city's entries, or one exact entry when Key is set.
	OpInvalidate Op = "invalidate"
	// OpInvalidateAll drops every satellite and stats entry.
	OpInvalidateAll Op = "invalidate_all"
	// OpRefresh invalidates the city and recomputes its coverage.
	OpRefresh Op = "refresh"
	// OpCleanup removes expired entries, for one city when City is set.
	OpCleanup Op = "cleanup"
)

// Event is one invalidation instruction. Version increases per producer and
// lets consumers skip replays of the same or an older instruction.
type Event struct {
	Version         uint64                `json:"version"`
	Op              Op                    `json:"op"`
	City            string                `json:"city,omitempty"`
	CalculationType model.CalculationType `json:"calculation_type,omitempty"`
	Key             string                `json:"key,omitempty"`
	Source          string                `json:"source,omitempty"`
	TS              time.Time             `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version must be positive")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.CalculationType != "" && !e.CalculationType.Valid() {
		return fmt.Errorf("unknown calculation_type %q", e.CalculationType)
	}
	city := strings.TrimSpace(e.City)
	switch e.Op {
	case OpInvalidate:
		if e.Key != "" {
			if e.CalculationType == "" {
				return fmt.Errorf("calculation_type is required with key")
			}
			return nil
		}
		if city == "" {
			return fmt.Errorf("city or key is required for %s", e.Op)
		}
	case OpRefresh:
		if city == "" {
			return fmt.Errorf("city is required for %s", e.Op)
		}
		if e.Key != "" {
			return fmt.Errorf("key is not allowed for %s", e.Op)
		}
	case OpInvalidateAll, OpCleanup:
		if e.Key != "" {
			return fmt.Errorf("key is not allowed for %s", e.Op)
		}
	default:
		return fmt.Errorf("op must be invalidate|invalidate_all|refresh|cleanup")
	}
	return nil
}

// DedupeKey names the cache scope the event applies to; two events with the
// same DedupeKey are ordered by Version.
func (e Event) DedupeKey() string {
	switch {
	case e.Key != "":
		return "key|" + string(e.CalculationType) + "|" + e.Key
	case e.Op == OpInvalidateAll:
		return "all"
	default:
		return string(e.Op) + "|" + strings.ToLower(strings.TrimSpace(e.City)) + "|" + string(e.CalculationType)
	}
}
