package geo

import (
	"math"
	"testing"
)

func square(x0, y0, x1, y1 float64) Ring {
	return Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
}

func TestAffine_InvertRoundTrip(t *testing.T) {
	tr := Affine{A: 30, B: 2, C: 500000, D: -1.5, E: -30, F: 6600000}
	inv, err := tr.Invert()
	if err != nil {
		t.Fatalf("Invert: %v", err)
	}
	p := tr.Apply(12.25, 7.5)
	back := inv.Apply(p.X, p.Y)
	if math.Abs(back.X-12.25) > 1e-9 || math.Abs(back.Y-7.5) > 1e-9 {
		t.Fatalf("round trip got %+v", back)
	}
	if got := NorthUp(0, 0, 10, 10).PixelArea(); got != 100 {
		t.Fatalf("pixel area=%v want 100", got)
	}
	if _, err := (Affine{}).Invert(); err == nil {
		t.Fatalf("expected error for singular transform")
	}
}

func TestRasterize_SquareUsesPixelCenters(t *testing.T) {
	tr := NorthUp(0, 10, 1, 1)
	m := MultiPolygon{{square(2, 2, 6, 6)}}
	mask, err := Rasterize(m, tr, 10, 10)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if n := CountTrue(mask); n != 16 {
		t.Fatalf("inside=%d want 16", n)
	}
	// row 4 is y in [5,6], col 2 is x in [2,3]
	if !mask[4*10+2] {
		t.Fatalf("expected (col 2,row 4) inside")
	}
	if mask[3*10+2] || mask[4*10+6] {
		t.Fatalf("pixels outside the square were burned")
	}
}

func TestRasterize_HoleIsExcluded(t *testing.T) {
	tr := NorthUp(0, 10, 1, 1)
	hole := square(4, 4, 6, 6)
	reverse(hole)
	m := MultiPolygon{{square(2, 2, 8, 8), hole}}
	mask, err := Rasterize(m, tr, 10, 10)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if n := CountTrue(mask); n != 36-4 {
		t.Fatalf("inside=%d want 32", n)
	}
}

func TestRasterize_DisjointPolygonsAreUnioned(t *testing.T) {
	tr := NorthUp(0, 10, 1, 1)
	m := MultiPolygon{{square(0, 0, 2, 2)}, {square(1, 0, 3, 2)}}
	mask, err := Rasterize(m, tr, 10, 10)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if n := CountTrue(mask); n != 6 {
		t.Fatalf("inside=%d want 6 (overlap counted once)", n)
	}
}

func TestRasterize_OutsideExtentIsEmpty(t *testing.T) {
	tr := NorthUp(0, 10, 1, 1)
	m := MultiPolygon{{square(100, 100, 120, 120)}}
	mask, err := Rasterize(m, tr, 10, 10)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if n := CountTrue(mask); n != 0 {
		t.Fatalf("inside=%d want 0", n)
	}
}

func TestRepair_ClosesDedupesAndOrients(t *testing.T) {
	cw := Ring{{0, 0}, {0, 4}, {0, 4}, {4, 4}, {4, 0}}
	m := MultiPolygon{{cw}}
	if IsValid(m) {
		t.Fatalf("open ring with duplicates must be invalid")
	}
	fixed, rep := Repair(m)
	if !rep.Changed() {
		t.Fatalf("expected a change report")
	}
	if rep.ClosedRings != 1 || rep.RemovedPoints != 1 || rep.Reoriented != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if !IsValid(fixed) {
		t.Fatalf("repaired geometry still invalid: %+v", fixed)
	}
	if fixed[0][0].SignedArea() <= 0 {
		t.Fatalf("outer ring must be counter-clockwise")
	}
	if got := fixed.Area(); got != 16 {
		t.Fatalf("area=%v want 16", got)
	}
}

func TestRepair_DropsDegenerateAndFlagsBowtie(t *testing.T) {
	line := Ring{{0, 0}, {1, 1}, {2, 2}, {0, 0}}
	bowtie := Ring{{0, 0}, {4, 4}, {4, 0}, {0, 2}, {0, 0}}
	fixed, rep := Repair(MultiPolygon{{line}, {bowtie}})
	if rep.DroppedPolygons != 1 {
		t.Fatalf("degenerate polygon should be dropped: %+v", rep)
	}
	if !rep.SelfIntersects {
		t.Fatalf("bowtie should be flagged as self-intersecting")
	}
	if len(fixed) != 1 {
		t.Fatalf("polygons=%d want 1", len(fixed))
	}
}

func TestAreaAndBounds(t *testing.T) {
	m := MultiPolygon{{square(0, 0, 4, 2)}}
	if got := m.Area(); got != 8 {
		t.Fatalf("area=%v want 8", got)
	}
	b := m.Bounds()
	if b.MinX != 0 || b.MaxX != 4 || b.MinY != 0 || b.MaxY != 2 {
		t.Fatalf("bounds=%+v", b)
	}
	if !b.Intersects(Bounds{MinX: 3, MinY: 1, MaxX: 10, MaxY: 10}) {
		t.Fatalf("expected intersection")
	}
	if !(Ring{}).Bounds().IsEmpty() || !(MultiPolygon{}).Bounds().IsEmpty() {
		t.Fatalf("empty geometry should have empty bounds")
	}
}

func TestSignedArea_OrientationAndOpenRings(t *testing.T) {
	ccw := square(0, 0, 3, 3)
	if got := ccw.SignedArea(); got != 9 {
		t.Fatalf("ccw signed area=%v want 9", got)
	}
	cw := Ring{{0, 0}, {0, 3}, {3, 3}, {3, 0}, {0, 0}}
	if got := cw.SignedArea(); got != -9 {
		t.Fatalf("cw signed area=%v want -9", got)
	}
	open := ccw[:4]
	if got := open.SignedArea(); got != 9 {
		t.Fatalf("open ring signed area=%v want 9", got)
	}
	holed := Polygon{square(0, 0, 10, 10), square(2, 2, 4, 4)}
	if got := holed.Area(); got != 96 {
		t.Fatalf("holed area=%v want 96", got)
	}
}
