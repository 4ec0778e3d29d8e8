package vector

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

const twoCities = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32633"}},
  "features": [
    {"type": "Feature", "properties": {"NAME": "New York", "pop": 8}, "geometry": {"type": "Polygon", "coordinates": [[[0,0],[4,0],[4,4],[0,4],[0,0]]]}},
    {"type": "Feature", "properties": {"NAME": "Newark"}, "geometry": {"type": "MultiPolygon", "coordinates": [[[[10,10],[12,10],[12,12],[10,12],[10,10]]]]}},
    {"type": "Feature", "properties": {"NAME": "Pin"}, "geometry": {"type": "Point", "coordinates": [1,1]}}
  ]
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_GeoJSON_FeaturesAndCRS(t *testing.T) {
	p := writeFile(t, "cities.geojson", twoCities)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CRS != "EPSG:32633" {
		t.Fatalf("crs=%q", c.CRS)
	}
	if len(c.Features) != 3 {
		t.Fatalf("features=%d want 3", len(c.Features))
	}
	if got := c.Features[0].Name("NAME"); got != "New York" {
		t.Fatalf("name=%q", got)
	}
	if c.Features[1].GeometryType != "MultiPolygon" || c.Features[1].Geometry.Area() != 4 {
		t.Fatalf("multipolygon not converted: %+v", c.Features[1])
	}
	if !c.Features[2].Geometry.IsEmpty() || c.Features[2].GeometryType != "Point" {
		t.Fatalf("point feature should carry empty geometry")
	}
}

func TestLoad_DefaultsToWGS84WithoutCRSMember(t *testing.T) {
	p := writeFile(t, "plain.json", `{"type":"FeatureCollection","features":[]}`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CRS != DefaultCRS {
		t.Fatalf("crs=%q want %q", c.CRS, DefaultCRS)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("boundary.kml"); !errors.Is(err, geo.ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.geojson")); !errors.Is(err, geo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	bad := writeFile(t, "bad.geojson", `{"type":`)
	if _, err := Load(bad); err == nil || errors.Is(err, geo.ErrNotFound) {
		t.Fatalf("want parse error, got %v", err)
	}
}

func TestLoad_Shapefile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "districts.shp")
	w, err := shp.Create(p, shp.POLYGON)
	if err != nil {
		t.Fatalf("shp.Create: %v", err)
	}
	w.SetFields([]shp.Field{shp.StringField("NAME", 32)})
	// clockwise outer ring
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, hole}))
	n := w.Write(&poly)
	if err := w.WriteAttribute(int(n), 0, "Old Town"); err != nil {
		t.Fatalf("WriteAttribute: %v", err)
	}
	w.Close()
	// the writer names the table "districtsdbf" while the reader opens "districts.dbf"
	if err := os.Rename(filepath.Join(dir, "districtsdbf"), filepath.Join(dir, "districts.dbf")); err != nil {
		t.Fatalf("rename dbf: %v", err)
	}

	prj := `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295],AUTHORITY["EPSG","4326"]]`
	if err := os.WriteFile(filepath.Join(dir, "districts.prj"), []byte(prj), 0o600); err != nil {
		t.Fatalf("write prj: %v", err)
	}

	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CRS != "EPSG:4326" {
		t.Fatalf("crs=%q", c.CRS)
	}
	if len(c.Features) != 1 {
		t.Fatalf("features=%d", len(c.Features))
	}
	f := c.Features[0]
	if got := f.Properties["NAME"]; got != "Old Town" {
		t.Fatalf("NAME=%q want %q", got, "Old Town")
	}
	if len(f.Geometry) != 1 || len(f.Geometry[0]) != 2 {
		t.Fatalf("expected one polygon with a hole, got %d polygons", len(f.Geometry))
	}
	if got := f.Geometry.Area(); got != 96 {
		t.Fatalf("area=%v want 96", got)
	}
}

func TestDBFValueStripsPadding(t *testing.T) {
	for in, want := range map[string]string{
		"Old Town\x00\x00\x00": "Old Town",
		"  Nord \x00 \x00":     "Nord",
		"":                     "",
	} {
		if got := dbfValue(in); got != want {
			t.Fatalf("dbfValue(%q)=%q want %q", in, got, want)
		}
	}
}

func gpkgBlob(t *testing.T, g orb.Geometry, srs int32) []byte {
	t.Helper()
	body, err := wkb.Marshal(g)
	if err != nil {
		t.Fatalf("wkb: %v", err)
	}
	hdr := []byte{'G', 'P', 0, 0x01, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(hdr[4:], uint32(srs))
	return append(hdr, body...)
}

func TestLoad_GeoPackage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "parks.gpkg")
	db, err := sql.Open("sqlite", p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stmts := []string{
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, geometry_type_name TEXT, srs_id INTEGER, z INTEGER, m INTEGER)`,
		`CREATE TABLE districts (fid INTEGER PRIMARY KEY, geom BLOB, NAME TEXT)`,
		`INSERT INTO gpkg_contents VALUES ('districts', 'features', 'districts', 3006)`,
		`INSERT INTO gpkg_geometry_columns VALUES ('districts', 'geom', 'POLYGON', 3006, 0, 0)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	poly := orb.Polygon{orb.Ring{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {0, 0}}}
	if _, err := db.Exec(`INSERT INTO districts (geom, NAME) VALUES (?, ?)`, gpkgBlob(t, poly, 3006), "Södermalm"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = db.Close()

	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CRS != "EPSG:3006" || c.Format != "GeoPackage" {
		t.Fatalf("crs=%q format=%q", c.CRS, c.Format)
	}
	if len(c.Features) != 1 || c.Features[0].Name("NAME") != "Södermalm" {
		t.Fatalf("features=%+v", c.Features)
	}
	if got := c.Features[0].Geometry.Area(); got != 9 {
		t.Fatalf("area=%v want 9", got)
	}
}

func TestDescribe(t *testing.T) {
	p := writeFile(t, "cities.geojson", twoCities)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	info := Describe(c, "NAME")
	if info.FeatureCount != 3 || info.NameColumn != "NAME" {
		t.Fatalf("info=%+v", info)
	}
	if len(info.SampleNames) != 3 || info.SampleNames[0] != "New York" {
		t.Fatalf("sample names=%v", info.SampleNames)
	}
	if info.Bounds != [4]float64{0, 0, 12, 12} {
		t.Fatalf("bounds=%v", info.Bounds)
	}
	if len(info.GeometryTypes) != 3 {
		t.Fatalf("geometry types=%v", info.GeometryTypes)
	}
}
