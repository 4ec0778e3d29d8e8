package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/raster/rastertest"
)

func twoBandSpec() rastertest.Spec {
	return rastertest.Spec{
		Width:     3,
		Height:    2,
		Bands:     [][]float64{{1, 2, 3, 4, 5, 6}, {10, 20, 30, 40, 50, 60}},
		Transform: geo.NorthUp(500000, 6600000, 10, 10),
		EPSG:      32633,
		Projected: true,
	}
}

func TestLoad_ChunkyFloat32(t *testing.T) {
	p := rastertest.Write(t, t.TempDir(), "scene.tif", twoBandSpec())
	im, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if im.Width != 3 || im.Height != 2 || im.BandCount() != 2 {
		t.Fatalf("shape=%dx%d bands=%d", im.Width, im.Height, im.BandCount())
	}
	if im.Bands[0][4] != 5 || im.Bands[1][5] != 60 {
		t.Fatalf("bands=%v", im.Bands)
	}
	if im.CRS != "EPSG:32633" {
		t.Fatalf("crs=%q", im.CRS)
	}
	want := geo.NorthUp(500000, 6600000, 10, 10)
	if im.Transform != want {
		t.Fatalf("transform=%+v want %+v", im.Transform, want)
	}
	if im.Transform.PixelArea() != 100 {
		t.Fatalf("pixel area=%v", im.Transform.PixelArea())
	}
}

func TestLoad_PlanarMatchesChunky(t *testing.T) {
	s := twoBandSpec()
	s.Planar = true
	s.Projected = false
	s.EPSG = 4326
	p := rastertest.Write(t, t.TempDir(), "planar.tiff", s)
	im, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if im.Bands[0][0] != 1 || im.Bands[1][0] != 10 || im.Bands[1][3] != 40 {
		t.Fatalf("bands=%v", im.Bands)
	}
	if im.CRS != "EPSG:4326" {
		t.Fatalf("crs=%q", im.CRS)
	}
}

func TestLoad_NormalizesDeclaredNoData(t *testing.T) {
	s := twoBandSpec()
	zero := 0.0
	s.NoData = &zero
	s.Bands[0][2] = 0
	p := rastertest.Write(t, t.TempDir(), "nodata.tif", s)
	im, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if im.NoData == nil || *im.NoData != 0 {
		t.Fatalf("declared nodata not read: %v", im.NoData)
	}
	if im.Bands[0][2] != NoData {
		t.Fatalf("nodata pixel=%v want %v", im.Bands[0][2], NoData)
	}
}

func TestLoad_CompressedFallsBackToImageDecoder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 200, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := filepath.Join(t.TempDir(), "rgb.tif")
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	im, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if im.BandCount() != 4 {
		t.Fatalf("bands=%d want 4", im.BandCount())
	}
	if im.Bands[0][0] != 10 || im.Bands[1][11] != 200 {
		t.Fatalf("unexpected samples r=%v g=%v", im.Bands[0][0], im.Bands[1][11])
	}
	if im.CRS != "" || im.Transform.PixelArea() != 1 {
		t.Fatalf("ungeoreferenced image: crs=%q transform=%+v", im.CRS, im.Transform)
	}
}

func TestLoad_FormatErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "scene.png")); !errors.Is(err, geo.ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.tif")); !errors.Is(err, geo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	img := filepath.Join(dir, "scene.img")
	if err := os.WriteFile(img, []byte("EHFA_HEADER_TAG"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(img)
	if !errors.Is(err, ErrNoDecoder) || !errors.Is(err, geo.ErrUnsupportedFormat) {
		t.Fatalf("want ErrNoDecoder, got %v", err)
	}
	junk := filepath.Join(dir, "junk.tif")
	if err := os.WriteFile(junk, []byte("not a tiff at all"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(junk); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFormatsIncludeAcceptedExtensions(t *testing.T) {
	got := Formats()
	want := map[string]bool{".tif": true, ".tiff": true, ".img": true, ".jp2": true}
	for _, f := range got {
		delete(want, f)
	}
	if len(want) != 0 {
		t.Fatalf("missing formats: %v (got %v)", want, got)
	}
}

// withDimensions rewrites the inline ImageWidth and ImageLength values of a
// little-endian TIFF produced by rastertest.
func withDimensions(t *testing.T, raw []byte, w, h uint32) []byte {
	t.Helper()
	le := binary.LittleEndian
	out := append([]byte(nil), raw...)
	ifd := int(le.Uint32(out[4:]))
	n := int(le.Uint16(out[ifd:]))
	patched := 0
	for i := 0; i < n; i++ {
		e := ifd + 2 + 12*i
		switch le.Uint16(out[e:]) {
		case 256:
			le.PutUint32(out[e+8:], w)
			patched++
		case 257:
			le.PutUint32(out[e+8:], h)
			patched++
		}
	}
	if patched != 2 {
		t.Fatalf("patched %d dimension tags", patched)
	}
	return out
}

func TestLoad_RejectsDimensionsBeyondPixelData(t *testing.T) {
	raw, err := rastertest.Encode(rastertest.Spec{
		Width:  1,
		Height: 1,
		Bands:  [][]float64{{0.5}, {0.25}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cases := []struct {
		name string
		w, h uint32
	}{
		{"over sample cap", 60000, 50000},
		{"under cap but strips too short", 4000, 4000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "huge.tif")
			if err := os.WriteFile(p, withDimensions(t, raw, tc.w, tc.h), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := Load(p)
			if !errors.Is(err, ErrInvalidRaster) {
				t.Fatalf("err=%v want ErrInvalidRaster", err)
			}
		})
	}
}

func TestLoad_Float32NoDataMatchesAtStoredPrecision(t *testing.T) {
	nd := 0.1
	p := rastertest.Write(t, t.TempDir(), "nd.tif", rastertest.Spec{
		Width:  2,
		Height: 1,
		Bands:  [][]float64{{0.1, 0.5}},
		NoData: &nd,
	})
	im, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !im.Float32 {
		t.Fatalf("float32 samples not detected")
	}
	if im.Bands[0][0] != NoData {
		t.Fatalf("nodata pixel=%v want %v", im.Bands[0][0], NoData)
	}
	if im.Bands[0][1] != float64(float32(0.5)) {
		t.Fatalf("valid pixel=%v", im.Bands[0][1])
	}
}
