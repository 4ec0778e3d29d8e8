package keys

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestDerive_OrderIndependentAndDeterministic(t *testing.T) {
	a := Derive(map[string]any{"city": "oslo", "threshold": 0.3, "year": 2024})
	b := Derive(map[string]any{"year": 2024, "threshold": 0.3, "city": "oslo"})
	if a != b {
		t.Fatalf("map order changed key: %s vs %s", a, b)
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(a) {
		t.Fatalf("unexpected key shape %q", a)
	}
	if c := Derive(map[string]any{"city": "oslo", "threshold": 0.35, "year": 2024}); c == a {
		t.Fatalf("different threshold must change key")
	}
}

func TestSatellite_ContentNotPath(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "upload-1.tif")
	p2 := filepath.Join(dir, "nested-upload-2.tif")
	for _, p := range []string{p1, p2} {
		if err := os.WriteFile(p, []byte("same raster bytes"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if FileDigest(p1) != FileDigest(p2) {
		t.Fatalf("identical content under different names must digest equally")
	}

	base := SatelliteParams{City: "New  York", Threshold: 0.3, NameAttribute: "NAME", NIRBand: 1, Year: 2024,
		BoundaryDigest: "b", RasterDigest: FileDigest(p1)}
	other := base
	other.City = "new york"
	other.RasterDigest = FileDigest(p2)
	if Satellite(base) != Satellite(other) {
		t.Fatalf("city spelling variants with same content should share a key")
	}
	other.NIRBand = 3
	if Satellite(base) == Satellite(other) {
		t.Fatalf("band change must change key")
	}
}

func TestFileDigest_MissingFileFallsBackToPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "gone.tif")
	d := FileDigest(p)
	if !strings.HasPrefix(d, "path-") {
		t.Fatalf("digest=%q want path fallback", d)
	}
	if d != FileDigest(p) {
		t.Fatalf("path fallback must be stable")
	}
}

func TestDigest_StreamingMatchesFile(t *testing.T) {
	body := strings.Repeat("0123456789", 20000) // spans several chunks
	p := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	d := NewDigest()
	for i := 0; i < len(body); i += 777 {
		end := min(i+777, len(body))
		if _, err := d.Write([]byte(body[i:end])); err != nil {
			t.Fatalf("write digest: %v", err)
		}
	}
	if d.Sum() != FileDigest(p) {
		t.Fatalf("streaming digest differs from file digest")
	}
	if d.Size() != int64(len(body)) {
		t.Fatalf("size=%d want %d", d.Size(), len(body))
	}
}

func TestCombineDigests_OrderIndependent(t *testing.T) {
	a := CombineDigests(map[string]string{".shp": "aa", ".dbf": "bb", ".prj": "cc"})
	b := CombineDigests(map[string]string{".prj": "cc", ".shp": "aa", ".dbf": "bb"})
	if a != b {
		t.Fatalf("combined digest depends on insertion order: %s vs %s", a, b)
	}
	if c := CombineDigests(map[string]string{".shp": "bb", ".dbf": "aa", ".prj": "cc"}); c == a {
		t.Fatalf("swapping contents between parts kept the same digest")
	}
}

func TestStatsAndComparisonKeysDiffer(t *testing.T) {
	if CityStats(1) == CityStats(2) {
		t.Fatalf("city ids must not collide")
	}
	if Comparison("Oslo") != Comparison(" oslo ") {
		t.Fatalf("comparison key should normalize city")
	}
}
