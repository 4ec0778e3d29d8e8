package geo

// RepairReport describes what Repair changed.
type RepairReport struct {
	ClosedRings     int
	RemovedPoints   int
	DroppedRings    int
	DroppedPolygons int
	Reoriented      int
	SelfIntersects  bool
}

func (r RepairReport) Changed() bool {
	return r.ClosedRings > 0 || r.RemovedPoints > 0 || r.DroppedRings > 0 ||
		r.DroppedPolygons > 0 || r.Reoriented > 0
}

// rings above this size are not checked for self-intersection
const maxIntersectionCheckSegments = 4096

// IsValid reports whether every ring is closed, non-degenerate and free of
// repeated vertices, and no checked ring crosses itself.
func IsValid(m MultiPolygon) bool {
	if m.IsEmpty() {
		return false
	}
	for _, p := range m {
		if len(p) == 0 {
			return false
		}
		for _, r := range p {
			if len(r) < 4 || !r.Closed() || r.SignedArea() == 0 {
				return false
			}
			for i := 1; i < len(r); i++ {
				if r[i] == r[i-1] {
					return false
				}
			}
			if selfIntersects(r) {
				return false
			}
		}
	}
	return true
}

// Repair is a zero-width clean-up of polygon rings: it closes open rings,
// drops repeated vertices and rings with no area, and orients outer rings
// counter-clockwise with clockwise holes. Crossing edges are left in place
// and reported; Rasterize fills them with the even-odd rule.
func Repair(m MultiPolygon) (MultiPolygon, RepairReport) {
	var rep RepairReport
	out := make(MultiPolygon, 0, len(m))
	for _, p := range m {
		var np Polygon
		for ri, r := range p {
			cr, removed, closed := cleanRing(r)
			rep.RemovedPoints += removed
			if closed {
				rep.ClosedRings++
			}
			if len(cr) < 4 || cr.SignedArea() == 0 {
				rep.DroppedRings++
				if ri == 0 {
					// without an outer ring the holes mean nothing
					rep.DroppedRings += len(p) - 1
					break
				}
				continue
			}
			outer := ri == 0
			area := cr.SignedArea()
			if (outer && area < 0) || (!outer && area > 0) {
				reverse(cr)
				rep.Reoriented++
			}
			if selfIntersects(cr) {
				rep.SelfIntersects = true
			}
			np = append(np, cr)
		}
		if len(np) == 0 {
			rep.DroppedPolygons++
			continue
		}
		out = append(out, np)
	}
	return out, rep
}

func cleanRing(r Ring) (Ring, int, bool) {
	out := make(Ring, 0, len(r)+1)
	removed := 0
	for _, pt := range r {
		if len(out) > 0 && out[len(out)-1] == pt {
			removed++
			continue
		}
		out = append(out, pt)
	}
	closed := false
	if len(out) > 0 && out[0] != out[len(out)-1] {
		out = append(out, out[0])
		closed = true
	}
	return out, removed, closed
}

func reverse(r Ring) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}

func selfIntersects(r Ring) bool {
	n := len(r) - 1
	if n < 4 || n > maxIntersectionCheckSegments {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := r[i], r[i+1]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue // adjacent through the closing vertex
			}
			if segmentsCross(a1, a2, r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, p3, p4 Point) bool {
	d1 := orient(p3, p4, p1)
	d2 := orient(p3, p4, p2)
	d3 := orient(p1, p2, p3)
	d4 := orient(p1, p2, p4)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func orient(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}
