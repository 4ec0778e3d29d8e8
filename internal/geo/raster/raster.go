// Package raster loads multi-band rasters fully into memory together with
// their georeferencing.
package raster

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
)

// NoData is the sentinel every declared nodata value is normalized to.
const NoData = -9999.0

var ErrNoDecoder = fmt.Errorf("%w: no decoder available for this raster format", geo.ErrUnsupportedFormat)

// ErrInvalidRaster reports a structurally broken or oversized raster file.
var ErrInvalidRaster = errors.New("invalid raster")

type Image struct {
	Width     int
	Height    int
	Bands     [][]float64
	Transform geo.Affine
	CRS       string
	// NoData is the value declared by the file before normalization.
	NoData *float64
	// Float32 is set when samples were stored as 32-bit floats.
	Float32 bool
	Format  string
}

func (im *Image) BandCount() int { return len(im.Bands) }

func (im *Image) Extent() geo.Bounds {
	return im.Transform.Extent(im.Width, im.Height)
}

// Decoder reads one raster file.
type Decoder func(path string) (*Image, error)

var (
	regMu    sync.RWMutex
	decoders = map[string]Decoder{
		".tif":  decodeGeoTIFF,
		".tiff": decodeGeoTIFF,
		".img":  nil,
		".jp2":  nil,
	}
)

// Register installs a decoder for an extension, replacing any existing one.
func Register(ext string, d Decoder) {
	regMu.Lock()
	defer regMu.Unlock()
	decoders[strings.ToLower(ext)] = d
}

// Formats lists the accepted raster extensions, including ones with no decoder.
func Formats() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func Supported(path string) bool {
	regMu.RLock()
	defer regMu.RUnlock()
	_, ok := decoders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads every band of the raster into memory.
func Load(path string) (*Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	regMu.RLock()
	dec, ok := decoders[ext]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("raster %q: %w (extension %q)", path, geo.ErrUnsupportedFormat, ext)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("raster %q: %w", path, geo.ErrNotFound)
		}
		return nil, fmt.Errorf("stat raster %q: %w", path, err)
	}
	if dec == nil {
		return nil, fmt.Errorf("raster %q: %w", path, ErrNoDecoder)
	}
	im, err := dec(path)
	if err != nil {
		return nil, fmt.Errorf("read raster %q: %w", path, err)
	}
	normalizeNoData(im)
	return im, nil
}

// normalizeNoData rewrites the declared nodata value and NaNs to NoData.
// Float32 samples are compared at float32 precision, since the declared
// value is text that float32 may not represent exactly.
func normalizeNoData(im *Image) {
	match := func(float64) bool { return false }
	if nd := im.NoData; nd != nil {
		match = func(v float64) bool { return v == *nd }
		if im.Float32 {
			nd32 := float32(*nd)
			match = func(v float64) bool { return float32(v) == nd32 }
		}
	}
	for _, band := range im.Bands {
		for i, v := range band {
			if math.IsNaN(v) || match(v) {
				band[i] = NoData
			}
		}
	}
}
