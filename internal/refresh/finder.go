package refresh

import (
	"path/filepath"
	"sort"
	"strings"
)

var (
	rasterExts   = []string{".tif", ".tiff"}
	boundaryExts = []string{".shp", ".geojson", ".gpkg"}
)

// DataFiles is the raster/boundary pair used to analyse one city.
type DataFiles struct {
	Raster   string `json:"raster"`
	Boundary string `json:"boundary"`
	// Regional is set when either file is a generic fallback rather than a
	// city-named file.
	Regional bool `json:"regional"`
}

// DataFinder locates input files by city name under two directories.
type DataFinder struct {
	SatelliteDir string
	BoundaryDir  string
	// RegionalFallback uses the first generic file of a kind when no
	// city-named file exists.
	RegionalFallback bool
}

// Find returns the files for city and whether both were found.
func (f DataFinder) Find(city string) (DataFiles, bool) {
	var out DataFiles
	for _, p := range cityPatterns(city) {
		if out.Raster == "" {
			out.Raster = first(f.SatelliteDir, "*"+p+"*", rasterExts)
		}
		if out.Boundary == "" {
			out.Boundary = first(f.BoundaryDir, "*"+p+"*", boundaryExts)
		}
	}
	if f.RegionalFallback {
		if out.Raster == "" {
			out.Raster = first(f.SatelliteDir, "*", rasterExts)
			out.Regional = out.Raster != ""
		}
		if out.Boundary == "" {
			out.Boundary = first(f.BoundaryDir, "*", boundaryExts)
			out.Regional = out.Regional || out.Boundary != ""
		}
	}
	return out, out.Raster != "" && out.Boundary != ""
}

// cityPatterns yields "new_york", "new-york" and "new york" for "New York".
func cityPatterns(city string) []string {
	base := strings.ToLower(strings.TrimSpace(city))
	if base == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range []string{
		strings.ReplaceAll(base, " ", "_"),
		strings.ReplaceAll(base, " ", "-"),
		base,
	} {
		if !seen[p] {
			seen[p] = true
			out = append(out, globEscape(p))
		}
	}
	return out
}

// first returns the lexically first file in dir matching pattern+ext for
// any ext. Matching is case-insensitive on the file name.
func first(dir, pattern string, exts []string) string {
	if dir == "" {
		return ""
	}
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return ""
	}
	var hits []string
	for _, p := range entries {
		name := strings.ToLower(filepath.Base(p))
		for _, ext := range exts {
			if ok, _ := filepath.Match(pattern+ext, name); ok {
				hits = append(hits, p)
				break
			}
		}
	}
	if len(hits) == 0 {
		return ""
	}
	sort.Strings(hits)
	return hits[0]
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
