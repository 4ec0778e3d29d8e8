package vector

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
)

// legacy "crs" member, e.g. {"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::32633"}}
type crsMember struct {
	CRS *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

var epsgCode = regexp.MustCompile(`(?i)EPSG:{1,2}(\d+)`)

func loadGeoJSON(path string) (*Collection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	out := &Collection{Format: "GeoJSON", CRS: DefaultCRS}
	var cm crsMember
	if err := json.Unmarshal(raw, &cm); err == nil && cm.CRS != nil {
		out.CRS = normalizeCRS(cm.CRS.Properties.Name)
	}

	for _, f := range fc.Features {
		geom, typ := fromOrb(f.Geometry)
		props := map[string]any(f.Properties)
		if props == nil {
			props = map[string]any{}
		}
		out.Features = append(out.Features, Feature{Properties: props, Geometry: geom, GeometryType: typ})
	}
	return out, nil
}

// normalizeCRS maps URN/OGC spellings onto "EPSG:<code>".
func normalizeCRS(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCRS
	}
	if strings.Contains(strings.ToUpper(s), "CRS84") {
		return DefaultCRS
	}
	if m := epsgCode.FindStringSubmatch(s); len(m) == 2 {
		return "EPSG:" + m[1]
	}
	return s
}
