// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
	"time"
)

// CalculationType partitions cache entries and selects their TTL.
type CalculationType string

const (
	CalcSatellite CalculationType = "satellite"
	CalcStats     CalculationType = "stats"
	CalcStored    CalculationType = "stored"
)

func (c CalculationType) Valid() bool {
	switch c {
	case CalcSatellite, CalcStats, CalcStored:
		return true
	}
	return false
}

func ParseCalculationType(s string) (CalculationType, error) {
	c := CalculationType(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown calculation type %q", s)
	}
	return c, nil
}

// CoverageCalculationTypes are dropped after a bulk refresh.
var CoverageCalculationTypes = []CalculationType{CalcSatellite, CalcStats}

type HexCoverage struct {
	Cell        string  `json:"cell"`
	ValidPixels int     `json:"valid_pixels"`
	GreenPixels int     `json:"green_pixels"`
	Percentage  float64 `json:"green_coverage_percentage"`
}

// CoverageResult is the immutable output of one analysis run.
type CoverageResult struct {
	CityName          string  `json:"city_name"`
	CoveragePercent   float64 `json:"green_coverage_percentage"`
	TotalPixels       int     `json:"total_pixels"`
	GreenPixels       int     `json:"green_pixels"`
	TotalAreaM2       float64 `json:"total_area_m2"`
	TotalAreaKm2      float64 `json:"total_area_km2"`
	GreenAreaM2       float64 `json:"green_area_m2"`
	GreenAreaKm2      float64 `json:"green_area_km2"`
	NDVIThreshold     float64 `json:"ndvi_threshold"`
	MeanNDVI          float64 `json:"mean_ndvi"`
	StdNDVI           float64 `json:"std_ndvi"`
	MinNDVI           float64 `json:"min_ndvi"`
	MaxNDVI           float64 `json:"max_ndvi"`
	CoordinateSystem  string  `json:"coordinate_system"`
	DataSource        string  `json:"data_source"`
	MeasurementMethod string  `json:"measurement_method"`

	BoundaryPath     string        `json:"boundary_path,omitempty"`
	RasterPath       string        `json:"raster_path,omitempty"`
	BoundaryCRS      string        `json:"boundary_crs,omitempty"`
	FallbackSampled  bool          `json:"fallback_sampled"`
	RepairedGeometry bool          `json:"repaired_geometry"`
	Hexes            []HexCoverage `json:"hexes,omitempty"`
	ComputedAt       time.Time     `json:"computed_at"`
}

type City struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Country       string    `json:"country"`
	StateProvince string    `json:"state_province,omitempty"`
	Population    int64     `json:"population,omitempty"`
	AreaKm2       float64   `json:"area_km2,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CoverageRecord is the persisted per (city, year) coverage row.
type CoverageRecord struct {
	ID                 int64     `json:"id"`
	CityID             int64     `json:"city_id"`
	CityName           string    `json:"city_name"`
	Year               int       `json:"year"`
	CoveragePercent    float64   `json:"coverage_percentage"`
	DataSource         string    `json:"data_source"`
	MeasurementMethod  string    `json:"measurement_method"`
	Notes              string    `json:"notes,omitempty"`
	TotalAreaKm2       float64   `json:"total_area_km2"`
	GreenAreaKm2       float64   `json:"green_area_km2"`
	NDVIThreshold      float64   `json:"ndvi_threshold"`
	MeanNDVI           float64   `json:"mean_ndvi"`
	StdNDVI            float64   `json:"std_ndvi"`
	MinNDVI            float64   `json:"min_ndvi"`
	MaxNDVI            float64   `json:"max_ndvi"`
	CoordinateSystem   string    `json:"coordinate_system"`
	ShapefilePath      string    `json:"shapefile_path,omitempty"`
	RasterPath         string    `json:"raster_path,omitempty"`
	TotalPixels        int       `json:"total_pixels"`
	GreenPixels        int       `json:"green_pixels"`
	ProcessingMetadata string    `json:"processing_metadata,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RecordFromResult maps a computed result onto the persisted row shape.
func RecordFromResult(cityID int64, year int, r CoverageResult, notes string) CoverageRecord {
	return CoverageRecord{
		CityID:            cityID,
		CityName:          r.CityName,
		Year:              year,
		CoveragePercent:   r.CoveragePercent,
		DataSource:        r.DataSource,
		MeasurementMethod: r.MeasurementMethod,
		Notes:             notes,
		TotalAreaKm2:      r.TotalAreaKm2,
		GreenAreaKm2:      r.GreenAreaKm2,
		NDVIThreshold:     r.NDVIThreshold,
		MeanNDVI:          r.MeanNDVI,
		StdNDVI:           r.StdNDVI,
		MinNDVI:           r.MinNDVI,
		MaxNDVI:           r.MaxNDVI,
		CoordinateSystem:  r.CoordinateSystem,
		ShapefilePath:     r.BoundaryPath,
		RasterPath:        r.RasterPath,
		TotalPixels:       r.TotalPixels,
		GreenPixels:       r.GreenPixels,
	}
}
