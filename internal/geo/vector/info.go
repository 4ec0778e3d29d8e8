package vector

import (
	"sort"
	"strings"
)

const maxSampleNames = 10

type Info struct {
	Format        string     `json:"format"`
	FeatureCount  int        `json:"feature_count"`
	Columns       []string   `json:"columns"`
	CRS           string     `json:"crs"`
	Bounds        [4]float64 `json:"bounds"`
	GeometryTypes []string   `json:"geometry_types"`
	NameColumn    string     `json:"name_column,omitempty"`
	SampleNames   []string   `json:"sample_names,omitempty"`
	TotalArea     float64    `json:"total_area_crs_units"`
}

// Describe summarizes a collection for display before an analysis is run.
func Describe(c *Collection, nameAttr string) Info {
	info := Info{
		Format:       c.Format,
		FeatureCount: len(c.Features),
		Columns:      c.Columns(),
		CRS:          c.CRS,
	}
	if b := c.Bounds(); !b.IsEmpty() {
		info.Bounds = [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
	}

	types := map[string]struct{}{}
	var area float64
	for _, f := range c.Features {
		if f.GeometryType != "" {
			types[f.GeometryType] = struct{}{}
		}
		area += f.Geometry.Area()
	}
	for t := range types {
		info.GeometryTypes = append(info.GeometryTypes, t)
	}
	sort.Strings(info.GeometryTypes)
	info.TotalArea = area

	info.NameColumn = nameColumn(info.Columns, nameAttr)
	if info.NameColumn != "" {
		info.SampleNames = Names(c, info.NameColumn, maxSampleNames)
	}
	return info
}

// Names returns up to limit non-empty names in file order.
func Names(c *Collection, attr string, limit int) []string {
	var out []string
	for _, f := range c.Features {
		if n := f.Name(attr); n != "" {
			out = append(out, n)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

// nameColumn prefers the configured attribute, then any column containing "name".
func nameColumn(cols []string, preferred string) string {
	for _, c := range cols {
		if c == preferred {
			return c
		}
	}
	for _, c := range cols {
		if strings.Contains(strings.ToLower(c), "name") {
			return c
		}
	}
	return ""
}
