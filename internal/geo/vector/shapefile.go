package vector

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/jonas-p/go-shp"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

var (
	prjAuthority = regexp.MustCompile(`AUTHORITY\["EPSG",\s*"(\d+)"\]`)
	prjProjName  = regexp.MustCompile(`^\s*PROJCS\["([^"]+)"`)
)

// dbfValue strips the NUL and space padding of a fixed-width DBF field.
func dbfValue(v string) string {
	return strings.TrimSpace(strings.TrimRight(v, "\x00 "))
}

func loadShapefile(path string) (*Collection, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	out := &Collection{Format: "ESRI Shapefile", CRS: crsFromPrj(path)}
	for r.Next() {
		n, s := r.Shape()
		props := make(map[string]any, len(fields))
		for k, f := range fields {
			props[f.String()] = dbfValue(r.ReadAttribute(n, k))
		}
		geom, typ := fromShape(s)
		out.Features = append(out.Features, Feature{Properties: props, Geometry: geom, GeometryType: typ})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return out, nil
}

func fromShape(s shp.Shape) (geo.MultiPolygon, string) {
	switch v := s.(type) {
	case *shp.Polygon:
		return ringsToPolygons(v.Parts, v.Points), "Polygon"
	case *shp.PolygonZ:
		return ringsToPolygons(v.Parts, v.Points), "Polygon"
	case *shp.PolygonM:
		return ringsToPolygons(v.Parts, v.Points), "Polygon"
	case nil:
		return nil, ""
	default:
		return nil, fmt.Sprintf("%T", s)
	}
}

// ringsToPolygons groups shapefile parts: clockwise rings start a polygon and
// counter-clockwise rings are holes of the polygon before them.
func ringsToPolygons(parts []int32, pts []shp.Point) geo.MultiPolygon {
	var out geo.MultiPolygon
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || int(end) > len(pts) {
			continue
		}
		ring := make(geo.Ring, 0, end-start)
		for _, p := range pts[start:end] {
			ring = append(ring, geo.Point{X: p.X, Y: p.Y})
		}
		if ring.SignedArea() > 0 && len(out) > 0 {
			out[len(out)-1] = append(out[len(out)-1], ring)
			continue
		}
		out = append(out, geo.Polygon{ring})
	}
	return out
}

// crsFromPrj reads the sibling .prj WKT; the outermost EPSG authority wins.
func crsFromPrj(shpPath string) string {
	prj := strings.TrimSuffix(shpPath, ".shp") + ".prj"
	if strings.HasSuffix(shpPath, ".SHP") {
		prj = strings.TrimSuffix(shpPath, ".SHP") + ".prj"
	}
	raw, err := os.ReadFile(prj)
	if err != nil {
		return ""
	}
	wkt := string(raw)
	if m := prjAuthority.FindAllStringSubmatch(wkt, -1); len(m) > 0 {
		return "EPSG:" + m[len(m)-1][1]
	}
	if m := prjProjName.FindStringSubmatch(wkt); len(m) == 2 {
		return m[1]
	}
	if strings.Contains(wkt, "WGS_1984") || strings.Contains(wkt, "WGS 84") {
		return DefaultCRS
	}
	return ""
}
