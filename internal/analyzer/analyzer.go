// Package analyzer derives green coverage statistics from a boundary file and
// a multi-band satellite raster using NDVI.
package analyzer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	obs "github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/observability"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/raster"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/vector"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/mapper"
)

const (
	DataSource = "Satellite Imagery Analysis"
	geographic = "EPSG:4326"
)

type Options struct {
	NameAttribute  string
	AmbiguousMatch AmbiguityPolicy
	// HexResolution > 0 adds a per-H3-cell breakdown for EPSG:4326 rasters.
	HexResolution int
}

// Request is one full analysis run.
type Request struct {
	BoundaryPath  string
	RasterPath    string
	CityName      string
	Threshold     float64
	NameAttribute string
	RedBand       int
	NIRBand       int
}

// Analyzer is stateless apart from its configuration; one value can serve
// concurrent runs.
type Analyzer struct {
	opts Options
	log  *slog.Logger
	hex  mapper.Interface
	now  func() time.Time
}

func New(opts Options, hex mapper.Interface, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	if opts.NameAttribute == "" {
		opts.NameAttribute = DefaultNameAttribute
	}
	if opts.AmbiguousMatch == "" {
		opts.AmbiguousMatch = AmbiguousFirst
	}
	return &Analyzer{opts: opts, log: log.With("component", "analyzer"), hex: hex, now: time.Now}
}

func (a *Analyzer) LoadBoundary(path string) (*vector.Collection, error) {
	return vector.Load(path)
}

func (a *Analyzer) ExtractFeature(c *vector.Collection, name, attr string) (Match, error) {
	if attr == "" {
		attr = a.opts.NameAttribute
	}
	return ExtractFeature(c, name, attr, a.opts.AmbiguousMatch, a.log)
}

func (a *Analyzer) LoadRaster(path string) (*raster.Image, error) {
	return raster.Load(path)
}

// FullPipeline loads both files, extracts the named feature and computes its
// coverage. Every failure comes back as a *CalculationError.
func (a *Analyzer) FullPipeline(req Request) (model.CoverageResult, error) {
	start := time.Now()
	res, err := a.run(req)
	obs.ObserveAnalysis(err == nil, time.Since(start).Seconds())
	if err != nil {
		a.log.Error("coverage calculation failed",
			"city", req.CityName, "boundary", req.BoundaryPath, "raster", req.RasterPath, "err", err)
		return model.CoverageResult{}, &CalculationError{
			City:         req.CityName,
			BoundaryPath: req.BoundaryPath,
			RasterPath:   req.RasterPath,
			Err:          err,
		}
	}
	a.log.Info("coverage calculated",
		"city", req.CityName,
		"coverage_pct", res.CoveragePercent,
		"valid_pixels", res.TotalPixels,
		"fallback", res.FallbackSampled,
		"took_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (a *Analyzer) run(req Request) (model.CoverageResult, error) {
	if err := validateRequest(req); err != nil {
		return model.CoverageResult{}, err
	}
	coll, err := a.LoadBoundary(req.BoundaryPath)
	if err != nil {
		return model.CoverageResult{}, err
	}
	match, err := a.ExtractFeature(coll, req.CityName, req.NameAttribute)
	if err != nil {
		return model.CoverageResult{}, err
	}
	im, err := a.LoadRaster(req.RasterPath)
	if err != nil {
		return model.CoverageResult{}, err
	}
	if im.CRS != "" && coll.CRS != "" && !SameCRS(im.CRS, coll.CRS) {
		a.log.Warn("boundary and raster CRS differ",
			"boundary_crs", coll.CRS, "raster_crs", im.CRS, "city", req.CityName)
	}

	cov, err := ComputeCoverage(im, match.Feature.Geometry, CoverageParams{
		Threshold: req.Threshold,
		RedBand:   req.RedBand,
		NIRBand:   req.NIRBand,
	}, a.log)
	if err != nil {
		return model.CoverageResult{}, err
	}

	crs := im.CRS
	if crs == "" {
		crs = "Unknown"
	}
	out := model.CoverageResult{
		CityName:          req.CityName,
		CoveragePercent:   cov.Percent,
		TotalPixels:       cov.ValidPixels,
		GreenPixels:       cov.GreenPixels,
		TotalAreaM2:       cov.TotalAreaM2,
		TotalAreaKm2:      cov.TotalAreaM2 / 1e6,
		GreenAreaM2:       cov.GreenAreaM2,
		GreenAreaKm2:      cov.GreenAreaM2 / 1e6,
		NDVIThreshold:     req.Threshold,
		MeanNDVI:          cov.Mean,
		StdNDVI:           cov.Std,
		MinNDVI:           cov.Min,
		MaxNDVI:           cov.Max,
		CoordinateSystem:  crs,
		DataSource:        DataSource,
		MeasurementMethod: MeasurementMethod(req.Threshold),
		BoundaryPath:      req.BoundaryPath,
		RasterPath:        req.RasterPath,
		BoundaryCRS:       coll.CRS,
		FallbackSampled:   cov.FallbackSampled,
		RepairedGeometry:  match.Repaired,
		ComputedAt:        a.now().UTC(),
	}
	if a.hex != nil && a.opts.HexResolution > 0 && SameCRS(im.CRS, geographic) {
		hexes, err := a.hexBreakdown(im, cov, req.Threshold)
		if err != nil {
			a.log.Warn("hex breakdown skipped", "city", req.CityName, "err", err)
		} else {
			out.Hexes = hexes
		}
	}
	return out, nil
}

func MeasurementMethod(threshold float64) string {
	return fmt.Sprintf("NDVI-based analysis (threshold: %g)", threshold)
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.BoundaryPath) == "":
		return fmt.Errorf("%w: boundary file is required", ErrInvalidParameters)
	case strings.TrimSpace(req.RasterPath) == "":
		return fmt.Errorf("%w: raster file is required", ErrInvalidParameters)
	case strings.TrimSpace(req.CityName) == "":
		return fmt.Errorf("%w: city name is required", ErrInvalidParameters)
	case req.Threshold < -1 || req.Threshold > 1:
		return fmt.Errorf("%w: threshold %v outside [-1, 1]", ErrInvalidParameters, req.Threshold)
	}
	return nil
}

// hexBreakdown bins the selected pixels by the H3 cell of their centers.
func (a *Analyzer) hexBreakdown(im *raster.Image, cov Coverage, threshold float64) ([]model.HexCoverage, error) {
	byCell := map[string]*model.HexCoverage{}
	for _, i := range cov.selected {
		p := im.Transform.PixelCenter(i%im.Width, i/im.Width)
		cell, err := a.hex.CellAt(p.Y, p.X, a.opts.HexResolution)
		if err != nil {
			return nil, err
		}
		h, ok := byCell[cell]
		if !ok {
			h = &model.HexCoverage{Cell: cell}
			byCell[cell] = h
		}
		h.ValidPixels++
		if cov.ndvi[i] >= threshold {
			h.GreenPixels++
		}
	}
	out := make([]model.HexCoverage, 0, len(byCell))
	for _, h := range byCell {
		h.Percentage = float64(h.GreenPixels) * 100 / float64(h.ValidPixels)
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out, nil
}

// SameCRS compares CRS identifiers case-insensitively; no reprojection is done.
func SameCRS(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

type CRSCheck struct {
	BoundaryCRS    string `json:"boundary_crs"`
	RasterCRS      string `json:"raster_crs"`
	Match          bool   `json:"crs_match"`
	ExtentsOverlap bool   `json:"extents_overlap"`
	Message        string `json:"message"`
}

// ValidateCRS reports whether a boundary and raster can be analysed together.
func (a *Analyzer) ValidateCRS(boundaryPath, rasterPath string) (CRSCheck, error) {
	coll, err := a.LoadBoundary(boundaryPath)
	if err != nil {
		return CRSCheck{}, err
	}
	im, err := a.LoadRaster(rasterPath)
	if err != nil {
		return CRSCheck{}, err
	}
	chk := CRSCheck{BoundaryCRS: coll.CRS, RasterCRS: im.CRS}
	chk.Match = im.CRS != "" && SameCRS(coll.CRS, im.CRS)
	chk.ExtentsOverlap = coll.Bounds().Intersects(im.Extent())
	switch {
	case !chk.Match:
		chk.Message = fmt.Sprintf("CRS mismatch: boundary %s, raster %s; reproject one of them first", coll.CRS, orUnknown(im.CRS))
	case !chk.ExtentsOverlap:
		chk.Message = "CRS match but the boundary lies outside the raster extent"
	default:
		chk.Message = "coordinate systems match"
	}
	return chk, nil
}

type BoundaryInfo struct {
	vector.Info
	HexCells int `json:"hex_cells,omitempty"`
}

// BoundaryInfo summarizes a boundary file; for EPSG:4326 files the H3 cell
// count at the configured resolution is included.
func (a *Analyzer) BoundaryInfo(path string) (BoundaryInfo, error) {
	coll, err := a.LoadBoundary(path)
	if err != nil {
		return BoundaryInfo{}, err
	}
	info := BoundaryInfo{Info: vector.Describe(coll, a.opts.NameAttribute)}
	if a.hex != nil && a.opts.HexResolution > 0 && SameCRS(coll.CRS, geographic) {
		var all geo.MultiPolygon
		for _, f := range coll.Features {
			all = append(all, f.Geometry...)
		}
		if fixed, _ := geo.Repair(all); !fixed.IsEmpty() {
			if cells, err := a.hex.CellsForPolygon(fixed, a.opts.HexResolution); err == nil {
				info.HexCells = len(cells)
			}
		}
	}
	return info, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
