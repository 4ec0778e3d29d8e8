package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/coverage"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/raster"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/geo/vector"
)

var formatNames = map[string]string{
	".shp":     "ESRI Shapefile",
	".geojson": "GeoJSON",
	".json":    "GeoJSON",
	".gpkg":    "GeoPackage",
	".tif":     "GeoTIFF",
	".tiff":    "GeoTIFF",
	".img":     "ERDAS IMAGINE",
	".jp2":     "JPEG 2000",
}

func describe(exts []string) map[string]string {
	out := make(map[string]string, len(exts))
	for _, e := range exts {
		out[e] = formatNames[e]
	}
	return out
}

func (a *api) formats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"boundary_formats": describe(vector.Formats()),
		"raster_formats":   describe(raster.Formats()),
		"requirements": map[string]string{
			"boundary":           "Must contain city/administrative boundaries; upload .dbf/.shx/.prj companions with a .shp",
			"raster":             "Must be satellite imagery with Red and NIR bands for NDVI calculation",
			"coordinate_systems": "Boundary and raster must use the same CRS; no reprojection is performed",
		},
		"defaults": map[string]any{
			"ndvi_threshold": analyzer.DefaultThreshold,
			"red_band_idx":   0,
			"nir_band_idx":   1,
			"name_column":    analyzer.DefaultNameAttribute,
		},
	})
}

func (a *api) satellite(w http.ResponseWriter, r *http.Request) {
	up, err := receive(w, r, a.cfg.TempDir, a.cfg.MaxUploadBytes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer up.cleanup()
	if up.boundary == "" || up.raster == "" {
		a.writeError(w, r, fmt.Errorf("%w: both boundary and raster files are required", analyzer.ErrInvalidParameters))
		return
	}

	var req coverage.SatelliteRequest
	raw := strings.TrimSpace(up.fields["request_data"])
	if raw == "" {
		a.writeError(w, r, fmt.Errorf("%w: request_data is required", analyzer.ErrInvalidParameters))
		return
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid JSON in request_data: %v", analyzer.ErrInvalidParameters, err))
		return
	}
	if v, ok := up.fields["save_to_database"]; ok {
		save, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: save_to_database: %v", analyzer.ErrInvalidParameters, err))
			return
		}
		req.SaveToDatabase = save
	}
	req.BoundaryPath, req.BoundaryDigest = up.boundary, up.boundaryDigest
	req.RasterPath, req.RasterDigest = up.raster, up.rasterDigest

	res, err := a.cov.ComputeOrCached(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// temp paths mean nothing to the caller
	res.BoundaryPath, res.RasterPath = "", ""
	setCacheHeader(w, res.Cached)
	writeJSON(w, http.StatusOK, res)
}

func (a *api) boundaryInfo(w http.ResponseWriter, r *http.Request) {
	up, err := receive(w, r, a.cfg.TempDir, a.cfg.MaxUploadBytes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer up.cleanup()
	if up.boundary == "" {
		a.writeError(w, r, fmt.Errorf("%w: boundary file is required", analyzer.ErrInvalidParameters))
		return
	}
	info, err := a.ins.BoundaryInfo(up.boundary)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) validateCRS(w http.ResponseWriter, r *http.Request) {
	up, err := receive(w, r, a.cfg.TempDir, a.cfg.MaxUploadBytes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer up.cleanup()
	if up.boundary == "" || up.raster == "" {
		a.writeError(w, r, fmt.Errorf("%w: both boundary and raster files are required", analyzer.ErrInvalidParameters))
		return
	}
	chk, err := a.ins.ValidateCRS(up.boundary, up.raster)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chk)
}

func queryYear(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1900 || n > 2100 {
		return 0, fmt.Errorf("%w: %s must be a year between 1900 and 2100", analyzer.ErrInvalidParameters, name)
	}
	return n, nil
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	from, err := queryYear(r, "from")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	to, err := queryYear(r, "to")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if from != 0 && to != 0 && from > to {
		a.writeError(w, r, fmt.Errorf("%w: from must not be after to", analyzer.ErrInvalidParameters))
		return
	}
	recs, err := a.cov.History(r.Context(), chi.URLParam(r, "city"), from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	st, hit, err := a.cov.CityStats(r.Context(), chi.URLParam(r, "city"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setCacheHeader(w, hit)
	writeJSON(w, http.StatusOK, st)
}

func (a *api) comparison(w http.ResponseWriter, r *http.Request) {
	cmp, hit, err := a.cov.Comparison(r.Context(), chi.URLParam(r, "city"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setCacheHeader(w, hit)
	writeJSON(w, http.StatusOK, cmp)
}

func (a *api) enriched(w http.ResponseWriter, r *http.Request) {
	p, err := a.cov.Profile(r.Context(), chi.URLParam(r, "city"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) cacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.cov.CacheStats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) cacheCleanup(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	n, err := a.cov.CleanupExpiredCache(r.Context(), city)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n, "city": strings.TrimSpace(city)})
}

func (a *api) invalidateCity(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	typ := r.URL.Query().Get("type")
	n, err := a.cov.InvalidateCity(r.Context(), city, typ)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": n, "city": city, "type": typ})
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	sum, err := a.cov.TriggerManualRefresh(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *api) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cov.SchedulerStatus())
}

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}
