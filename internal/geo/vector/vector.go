// Package vector reads named boundary polygons from GeoJSON, ESRI shapefile
// and GeoPackage files.
package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

const DefaultCRS = "EPSG:4326"

type Feature struct {
	Properties   map[string]any
	Geometry     geo.MultiPolygon
	GeometryType string
}

// Name returns the attribute as a string, empty when absent.
func (f Feature) Name(attr string) string {
	v, ok := f.Properties[attr]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

type Collection struct {
	Features []Feature
	CRS      string
	Format   string
}

// Columns returns the sorted set of attribute names across features.
func (c *Collection) Columns() []string {
	seen := map[string]struct{}{}
	for _, f := range c.Features {
		for k := range f.Properties {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Collection) Bounds() geo.Bounds {
	b := geo.EmptyBounds()
	for _, f := range c.Features {
		b = b.Union(f.Geometry.Bounds())
	}
	return b
}

type loader func(path string) (*Collection, error)

var loaders = map[string]loader{
	".geojson": loadGeoJSON,
	".json":    loadGeoJSON,
	".shp":     loadShapefile,
	".gpkg":    loadGeoPackage,
}

// Formats lists the accepted boundary file extensions.
func Formats() []string {
	out := make([]string, 0, len(loaders))
	for k := range loaders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func Supported(path string) bool {
	_, ok := loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads every feature of a boundary file. Non-polygon features are kept
// with an empty geometry.
func Load(path string) (*Collection, error) {
	ext := strings.ToLower(filepath.Ext(path))
	ld, ok := loaders[ext]
	if !ok {
		return nil, fmt.Errorf("boundary %q: %w (extension %q)", path, geo.ErrUnsupportedFormat, ext)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("boundary %q: %w", path, geo.ErrNotFound)
		}
		return nil, fmt.Errorf("stat boundary %q: %w", path, err)
	}
	c, err := ld(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary %q: %w", path, err)
	}
	if c.CRS == "" {
		c.CRS = DefaultCRS
	}
	return c, nil
}

// fromOrb converts polygonal orb geometries; anything else yields nil.
func fromOrb(g orb.Geometry) (geo.MultiPolygon, string) {
	if g == nil {
		return nil, ""
	}
	switch v := g.(type) {
	case orb.Polygon:
		return geo.MultiPolygon{polygonFromOrb(v)}, "Polygon"
	case orb.MultiPolygon:
		out := make(geo.MultiPolygon, 0, len(v))
		for _, p := range v {
			out = append(out, polygonFromOrb(p))
		}
		return out, "MultiPolygon"
	default:
		return nil, g.GeoJSONType()
	}
}

func polygonFromOrb(p orb.Polygon) geo.Polygon {
	out := make(geo.Polygon, 0, len(p))
	for _, r := range p {
		ring := make(geo.Ring, len(r))
		for i, pt := range r {
			ring[i] = geo.Point{X: pt[0], Y: pt[1]}
		}
		out = append(out, ring)
	}
	return out
}
