package analyzer

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/raster"
)

// MaxFallbackSamples caps the whole-raster sample used when the boundary
// selects no valid pixel.
const MaxFallbackSamples = 100_000

const DefaultThreshold = 0.3

type CoverageParams struct {
	Threshold float64
	RedBand   int
	NIRBand   int
}

type Coverage struct {
	Percent         float64
	ValidPixels     int
	GreenPixels     int
	PixelAreaM2     float64
	TotalAreaM2     float64
	GreenAreaM2     float64
	Mean            float64
	Std             float64
	Min             float64
	Max             float64
	FallbackSampled bool

	ndvi     []float64
	selected []int
}

// ComputeCoverage masks the NDVI of im with poly and classifies the valid
// pixels against the threshold.
func ComputeCoverage(im *raster.Image, poly geo.MultiPolygon, p CoverageParams, log *slog.Logger) (Coverage, error) {
	if log == nil {
		log = slog.Default()
	}
	need := max(p.RedBand, p.NIRBand) + 1
	if p.RedBand < 0 || p.NIRBand < 0 {
		return Coverage{}, fmt.Errorf("%w: negative band index", ErrInvalidParameters)
	}
	if im.BandCount() < need {
		return Coverage{}, fmt.Errorf("%w: need %d bands for red=%d nir=%d, raster has %d",
			ErrInsufficientBands, need, p.RedBand, p.NIRBand, im.BandCount())
	}

	ndvi, err := ComputeNDVI(im.Bands[p.RedBand], im.Bands[p.NIRBand], NoData)
	if err != nil {
		return Coverage{}, err
	}

	mask, err := geo.Rasterize(poly, im.Transform, im.Width, im.Height)
	if err != nil {
		return Coverage{}, fmt.Errorf("rasterize boundary: %w", err)
	}

	selected := make([]int, 0, geo.CountTrue(mask))
	for i, in := range mask {
		if in && ndvi[i] != NoData {
			selected = append(selected, i)
		}
	}

	fallback := false
	if len(selected) == 0 {
		all := make([]int, 0, len(ndvi))
		for i, v := range ndvi {
			if v != NoData {
				all = append(all, i)
			}
		}
		if len(all) == 0 {
			return Coverage{}, ErrNoValidPixels
		}
		selected = sampleWithoutReplacement(all, MaxFallbackSamples, fallbackSeed(im))
		fallback = true
		log.Warn("boundary selected no valid pixels, sampling whole raster",
			"sampled", len(selected), "valid_in_raster", len(all), "raster_crs", im.CRS)
	}

	c := Coverage{
		ValidPixels:     len(selected),
		PixelAreaM2:     im.Transform.PixelArea(),
		FallbackSampled: fallback,
		Min:             math.Inf(1),
		Max:             math.Inf(-1),
		ndvi:            ndvi,
		selected:        selected,
	}
	// Welford running mean and variance
	var mean, m2 float64
	for k, i := range selected {
		v := ndvi[i]
		if v >= p.Threshold {
			c.GreenPixels++
		}
		d := v - mean
		mean += d / float64(k+1)
		m2 += d * (v - mean)
		c.Min = math.Min(c.Min, v)
		c.Max = math.Max(c.Max, v)
	}
	c.Mean = mean
	c.Std = math.Sqrt(m2 / float64(len(selected)))
	c.Percent = float64(c.GreenPixels) * 100 / float64(c.ValidPixels)
	c.TotalAreaM2 = float64(c.ValidPixels) * c.PixelAreaM2
	c.GreenAreaM2 = float64(c.GreenPixels) * c.PixelAreaM2
	return c, nil
}

// sampleWithoutReplacement returns up to k distinct items chosen uniformly by
// a partial Fisher-Yates shuffle. The input slice is reordered.
func sampleWithoutReplacement(items []int, k int, seed uint64) []int {
	if len(items) <= k {
		return items
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(items)-i)
		items[i], items[j] = items[j], items[i]
	}
	return items[:k]
}

// fallbackSeed keeps repeated runs over the same raster identical.
func fallbackSeed(im *raster.Image) uint64 {
	return uint64(im.Width)<<32 | uint64(im.Height)
}
