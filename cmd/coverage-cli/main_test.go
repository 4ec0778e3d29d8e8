package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/config"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/raster/rastertest"
)

const boundaryJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "EPSG:32633"}},
  "features": [
    {"type": "Feature", "properties": {"NAME": "Springfield"}, "geometry": {"type": "Polygon", "coordinates": [[[0,0],[100,0],[100,100],[0,100],[0,0]]]}}
  ]
}`

func fixtures(t *testing.T) (boundary, raster string) {
	t.Helper()
	dir := t.TempDir()
	red := make([]float64, 100)
	nir := make([]float64, 100)
	for i := range red {
		if i%10 < 3 {
			red[i], nir[i] = 0.1, 0.8
		} else {
			red[i], nir[i] = 0.3, 0.3
		}
	}
	tif, err := rastertest.Encode(rastertest.Spec{
		Width: 10, Height: 10,
		Bands:     [][]float64{red, nir},
		Transform: geo.NorthUp(0, 100, 10, 10),
		EPSG:      32633,
		Projected: true,
	})
	if err != nil {
		t.Fatalf("encode raster: %v", err)
	}
	boundary = filepath.Join(dir, "city.geojson")
	raster = filepath.Join(dir, "scene.tif")
	if err := os.WriteFile(boundary, []byte(boundaryJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(raster, tif, 0o644); err != nil {
		t.Fatal(err)
	}
	return boundary, raster
}

func testCfg() config.Config {
	return config.Config{NDVIThreshold: 0.3, NameAttribute: "NAME", AnalyzerWorkers: 1}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCompute(t *testing.T) {
	b, r := fixtures(t)
	var out bytes.Buffer
	err := compute(context.Background(), testCfg(), discard(),
		[]string{"-boundary", b, "-raster", r, "-city", "Springfield"}, &out)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	var res struct {
		City    string  `json:"city_name"`
		Percent float64 `json:"green_coverage_percentage"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if res.City != "Springfield" || res.Percent != 30 {
		t.Fatalf("got %+v", res)
	}
}

func TestComputeRequiresFlags(t *testing.T) {
	err := compute(context.Background(), testCfg(), discard(), []string{"-city", "x"}, io.Discard)
	if !errors.Is(err, analyzer.ErrInvalidParameters) {
		t.Fatalf("err=%v", err)
	}
	if analyzer.Classify(err) != analyzer.KindInput {
		t.Fatalf("kind=%v", analyzer.Classify(err))
	}
}

func TestInfoAndValidateCRS(t *testing.T) {
	b, r := fixtures(t)

	var out bytes.Buffer
	if err := info(testCfg(), discard(), []string{"-boundary", b}, &out); err != nil {
		t.Fatalf("info: %v", err)
	}
	var bi struct {
		Count int `json:"feature_count"`
	}
	if err := json.Unmarshal(out.Bytes(), &bi); err != nil || bi.Count != 1 {
		t.Fatalf("info=%s err=%v", out.String(), err)
	}

	out.Reset()
	if err := validateCRS(testCfg(), discard(), []string{"-boundary", b, "-raster", r}, &out); err != nil {
		t.Fatalf("validate-crs: %v", err)
	}
	if out.Len() == 0 {
		t.Fatalf("empty output")
	}
}
