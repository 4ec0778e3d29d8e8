package geo

import (
	"fmt"
	"math"
	"sort"
)

type edge struct {
	x1, y1, x2, y2 float64
}

// Rasterize burns the geometry into a row-major width*height mask. A pixel is
// inside when its center is inside a polygon under the even-odd rule; separate
// polygons are unioned.
func Rasterize(m MultiPolygon, t Affine, width, height int) ([]bool, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("rasterize: invalid grid %dx%d", width, height)
	}
	inv, err := t.Invert()
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	mask := make([]bool, width*height)
	if m.IsEmpty() {
		return mask, nil
	}
	for _, p := range m {
		edges, minY, maxY := pixelEdges(p, inv)
		if len(edges) == 0 {
			continue
		}
		r0 := max(0, int(math.Floor(minY-0.5)))
		r1 := min(height-1, int(math.Ceil(maxY-0.5)))
		xs := make([]float64, 0, 16)
		for row := r0; row <= r1; row++ {
			yc := float64(row) + 0.5
			xs = xs[:0]
			for _, e := range edges {
				if (e.y1 <= yc && e.y2 > yc) || (e.y2 <= yc && e.y1 > yc) {
					xs = append(xs, e.x1+(yc-e.y1)*(e.x2-e.x1)/(e.y2-e.y1))
				}
			}
			if len(xs) < 2 {
				continue
			}
			sort.Float64s(xs)
			base := row * width
			for k := 0; k+1 < len(xs); k += 2 {
				c0 := int(math.Ceil(xs[k] - 0.5))
				c1 := int(math.Ceil(xs[k+1]-0.5)) - 1
				c0 = max(c0, 0)
				c1 = min(c1, width-1)
				for c := c0; c <= c1; c++ {
					mask[base+c] = true
				}
			}
		}
	}
	return mask, nil
}

func pixelEdges(p Polygon, inv Affine) ([]edge, float64, float64) {
	var edges []edge
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, r := range p {
		if len(r) < 3 {
			continue
		}
		pts := make([]Point, len(r))
		for i, pt := range r {
			pts[i] = inv.Apply(pt.X, pt.Y)
			minY = math.Min(minY, pts[i].Y)
			maxY = math.Max(maxY, pts[i].Y)
		}
		for i := range pts {
			a := pts[i]
			b := pts[(i+1)%len(pts)]
			if a == b || a.Y == b.Y {
				continue
			}
			edges = append(edges, edge{x1: a.X, y1: a.Y, x2: b.X, y2: b.Y})
		}
	}
	return edges, minY, maxY
}

// CountTrue is a small helper for mask statistics.
func CountTrue(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}
