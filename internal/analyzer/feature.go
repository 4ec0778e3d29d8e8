package analyzer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/vector"
)

const DefaultNameAttribute = "NAME"

// AmbiguityPolicy decides what a name matching several features does.
type AmbiguityPolicy string

const (
	AmbiguousFirst AmbiguityPolicy = "first"
	AmbiguousError AmbiguityPolicy = "error"
)

type Match struct {
	Feature  vector.Feature
	Name     string
	Exact    bool
	Matches  int
	Repaired bool
}

// ExtractFeature finds the feature named name: a case-insensitive exact match
// first, then a case-insensitive substring match. With several matches the
// first in file order wins unless policy is AmbiguousError. The returned
// geometry has been repaired.
func ExtractFeature(c *vector.Collection, name, attr string, policy AmbiguityPolicy, log *slog.Logger) (Match, error) {
	if log == nil {
		log = slog.Default()
	}
	if attr == "" {
		attr = DefaultNameAttribute
	}
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return Match{}, fmt.Errorf("%w: empty feature name", ErrInvalidParameters)
	}

	var exact, partial []int
	for i, f := range c.Features {
		got := strings.ToLower(f.Name(attr))
		if got == "" {
			continue
		}
		switch {
		case got == want:
			exact = append(exact, i)
		case strings.Contains(got, want):
			partial = append(partial, i)
		}
	}

	hits, isExact := exact, true
	if len(hits) == 0 {
		hits, isExact = partial, false
	}
	if len(hits) == 0 {
		return Match{}, &FeatureNotFoundError{
			Name:       name,
			Attribute:  attr,
			Candidates: vector.Names(c, attr, MaxCandidates),
		}
	}

	f := c.Features[hits[0]]
	if len(hits) > 1 {
		names := make([]string, 0, len(hits))
		for _, i := range hits {
			names = append(names, c.Features[i].Name(attr))
		}
		if policy == AmbiguousError {
			return Match{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguousFeature, name, strings.Join(names, ", "))
		}
		log.Warn("multiple features match, using first",
			"name", name, "matches", len(hits), "selected", f.Name(attr), "exact", isExact)
	}

	if f.Geometry.IsEmpty() {
		return Match{}, fmt.Errorf("%w: feature %q has no polygon geometry", ErrFeatureNotFound, f.Name(attr))
	}

	m := Match{Name: f.Name(attr), Exact: isExact, Matches: len(hits)}
	if !geo.IsValid(f.Geometry) {
		fixed, rep := geo.Repair(f.Geometry)
		if fixed.IsEmpty() {
			return Match{}, fmt.Errorf("%w: feature %q geometry is degenerate", ErrFeatureNotFound, m.Name)
		}
		log.Warn("repaired invalid boundary geometry",
			"name", m.Name,
			"closed_rings", rep.ClosedRings,
			"removed_points", rep.RemovedPoints,
			"dropped_rings", rep.DroppedRings,
			"reoriented", rep.Reoriented,
			"self_intersects", rep.SelfIntersects)
		f.Geometry = fixed
		m.Repaired = true
	}
	m.Feature = f
	return m, nil
}
