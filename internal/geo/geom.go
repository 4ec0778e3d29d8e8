// Package geo holds the planar geometry used to mask rasters with boundaries.
package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNotFound          = errors.New("file not found")
)

type Point struct {
	X, Y float64
}

// Ring is a closed sequence of points; the last point repeats the first.
type Ring []Point

// Polygon is an outer ring followed by zero or more holes.
type Polygon []Ring

type MultiPolygon []Polygon

type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

func EmptyBounds() Bounds {
	return Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}

func (b Bounds) IsEmpty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

func (b Bounds) Extend(p Point) Bounds {
	b.MinX = math.Min(b.MinX, p.X)
	b.MinY = math.Min(b.MinY, p.Y)
	b.MaxX = math.Max(b.MaxX, p.X)
	b.MaxY = math.Max(b.MaxY, p.Y)
	return b
}

func (b Bounds) Union(o Bounds) Bounds {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

func (b Bounds) Intersects(o Bounds) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

func fromBound(b orb.Bound) Bounds {
	return Bounds{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// orbRing converts r, closing it when the last point does not repeat the first.
func (r Ring) orbRing() orb.Ring {
	out := make(orb.Ring, len(r), len(r)+1)
	for i, p := range r {
		out[i] = orb.Point{p.X, p.Y}
	}
	if len(r) > 0 && !r.Closed() {
		out = append(out, out[0])
	}
	return out
}

func (p Polygon) orbPolygon() orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = r.orbRing()
	}
	return out
}

func (r Ring) Bounds() Bounds {
	if len(r) == 0 {
		return EmptyBounds()
	}
	return fromBound(r.orbRing().Bound())
}

// SignedArea is positive for counter-clockwise rings.
func (r Ring) SignedArea() float64 {
	if len(r) < 3 {
		return 0
	}
	return planar.Area(r.orbRing())
}

func (r Ring) Closed() bool {
	return len(r) > 1 && r[0] == r[len(r)-1]
}

func (p Polygon) Bounds() Bounds {
	if len(p) == 0 {
		return EmptyBounds()
	}
	return p[0].Bounds()
}

// Area is the outer ring area minus its holes.
func (p Polygon) Area() float64 {
	if len(p) == 0 {
		return 0
	}
	return math.Max(planar.Area(p.orbPolygon()), 0)
}

func (m MultiPolygon) Bounds() Bounds {
	b := EmptyBounds()
	for _, p := range m {
		b = b.Union(p.Bounds())
	}
	return b
}

func (m MultiPolygon) Area() float64 {
	var a float64
	for _, p := range m {
		a += p.Area()
	}
	return a
}

func (m MultiPolygon) IsEmpty() bool {
	for _, p := range m {
		if len(p) > 0 && len(p[0]) > 0 {
			return false
		}
	}
	return true
}
