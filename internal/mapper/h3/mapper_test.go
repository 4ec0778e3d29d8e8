package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

func stockholm() geo.MultiPolygon {
	return geo.MultiPolygon{{geo.Ring{
		{X: 18.00, Y: 59.32}, {X: 18.12, Y: 59.32}, {X: 18.12, Y: 59.38}, {X: 18.00, Y: 59.38}, {X: 18.00, Y: 59.32},
	}}}
}

func TestCellsForPolygon_SortedUniqueDeterministic(t *testing.T) {
	m := New()
	cells, err := m.CellsForPolygon(stockholm(), 8)
	if err != nil {
		t.Fatalf("CellsForPolygon: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty coverage")
	}
	if !sort.StringsAreSorted(cells) || hasDups(cells) {
		t.Fatalf("cells must be sorted + unique")
	}
	again, err := m.CellsForPolygon(stockholm(), 8)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !reflect.DeepEqual(cells, again) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestCellAt_InsidePolygonCells(t *testing.T) {
	m := New()
	cells, err := m.CellsForPolygon(stockholm(), 7)
	if err != nil {
		t.Fatalf("CellsForPolygon: %v", err)
	}
	c, err := m.CellAt(59.35, 18.06, 7)
	if err != nil {
		t.Fatalf("CellAt: %v", err)
	}
	found := false
	for _, x := range cells {
		if x == c {
			found = true
		}
	}
	if !found {
		t.Fatalf("cell %s of polygon center not in polygon cells %v", c, cells)
	}
}

func TestInvalidResolutionAndEmptyPolygon(t *testing.T) {
	m := New()
	if _, err := m.CellAt(59, 18, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellsForPolygon(stockholm(), -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CellsForPolygon(geo.MultiPolygon{}, 8); err == nil {
		t.Fatalf("expected error for empty polygon")
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
