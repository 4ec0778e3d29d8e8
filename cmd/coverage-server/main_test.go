package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/config"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

func TestTTLPolicy_KeepsDefaultsForUnlistedTypes(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		CacheTTLDefault: 24 * time.Hour,
		CacheTTLOvr:     map[string]time.Duration{"satellite": time.Hour, "bogus": time.Minute},
	}
	p := ttlPolicy(cfg, log)
	if got := p.For(model.CalcSatellite); got != time.Hour {
		t.Fatalf("satellite ttl=%v want 1h", got)
	}
	if got := p.For(model.CalcStats); got != 12*time.Hour {
		t.Fatalf("stats ttl=%v want built-in 12h", got)
	}
	if got := p.For(model.CalcStored); got != 24*time.Hour {
		t.Fatalf("stored ttl=%v want 24h", got)
	}
}
