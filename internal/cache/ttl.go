package cache

import (
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

const DefaultTTL = 24 * time.Hour

type TTLPolicy struct {
	Default   time.Duration
	Overrides map[model.CalculationType]time.Duration
}

// DefaultTTLPolicy keeps satellite results three days and stats half a day.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Default: DefaultTTL,
		Overrides: map[model.CalculationType]time.Duration{
			model.CalcSatellite: 72 * time.Hour,
			model.CalcStats:     12 * time.Hour,
		},
	}
}

// PolicyFromConfig merges string-keyed overrides onto the defaults. Unknown
// types are ignored.
func PolicyFromConfig(def time.Duration, overrides map[string]time.Duration) TTLPolicy {
	p := DefaultTTLPolicy()
	if def > 0 {
		p.Default = def
	}
	for k, v := range overrides {
		t, err := model.ParseCalculationType(k)
		if err != nil || v <= 0 {
			continue
		}
		p.Overrides[t] = v
	}
	return p
}

func (p TTLPolicy) For(t model.CalculationType) time.Duration {
	if d, ok := p.Overrides[t]; ok && d > 0 {
		return d
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultTTL
}
