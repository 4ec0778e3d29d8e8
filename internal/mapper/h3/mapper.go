package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

// Mapper works on lon/lat degrees (EPSG:4326) only.
type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellAt(lat, lng float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %.6f,%.6f: %w", lat, lng, err)
	}
	return c.String(), nil
}

// CellsForPolygon returns the sorted unique cells whose centers fall inside
// any polygon.
func (m *Mapper) CellsForPolygon(poly geo.MultiPolygon, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if poly.IsEmpty() {
		return nil, errors.New("empty polygon")
	}
	seen := make(map[string]struct{})
	var out []string
	for pi, p := range poly {
		if len(p) == 0 {
			continue
		}
		outer := toLoop(p[0])
		if len(outer) < 3 {
			return nil, fmt.Errorf("polygon %d outer ring has < 3 distinct vertices", pi)
		}
		var holes []h3.GeoLoop
		for i := 1; i < len(p); i++ {
			h := toLoop(p[i])
			if len(h) < 3 {
				return nil, fmt.Errorf("polygon %d hole %d has < 3 distinct vertices", pi, i-1)
			}
			holes = append(holes, h)
		}
		cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 polyfill: %w", err)
		}
		for _, c := range cells {
			s := c.String()
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop converts a closed ring to an h3 loop without the repeated vertex.
func toLoop(r geo.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p.Y, Lng: p.X})
	}
	if n := len(loop); n >= 2 && loop[0] == loop[n-1] {
		loop = loop[:n-1]
	}
	return loop
}
