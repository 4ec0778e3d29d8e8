package vector

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite"
)

var errNoFeatureTable = errors.New("geopackage has no features table")

func loadGeoPackage(path string) (*Collection, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	defer db.Close()

	var table, geomCol string
	var srsID int64
	err = db.QueryRow(`
		SELECT c.table_name, g.column_name, COALESCE(c.srs_id, g.srs_id, 4326)
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
		LIMIT 1`).Scan(&table, &geomCol, &srsID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNoFeatureTable
	}
	if err != nil {
		return nil, fmt.Errorf("read gpkg_contents: %w", err)
	}

	rows, err := db.Query(`SELECT * FROM ` + quoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}

	out := &Collection{Format: "GeoPackage", CRS: gpkgCRS(srsID)}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		f := Feature{Properties: make(map[string]any, len(cols)-1)}
		for i, c := range cols {
			if strings.EqualFold(c, geomCol) {
				blob, _ := vals[i].([]byte)
				g, err := decodeGPKGGeometry(blob)
				if err != nil {
					return nil, fmt.Errorf("geometry row %d: %w", len(out.Features), err)
				}
				f.Geometry, f.GeometryType = fromOrb(g)
				continue
			}
			switch v := vals[i].(type) {
			case []byte:
				f.Properties[c] = string(v)
			default:
				f.Properties[c] = v
			}
		}
		out.Features = append(out.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// decodeGPKGGeometry strips the GeoPackage binary header and parses the WKB body.
func decodeGPKGGeometry(b []byte) (orb.Geometry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, errors.New("missing GeoPackage header")
	}
	flags := b[3]
	if flags&0x10 != 0 {
		return nil, nil
	}
	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, fmt.Errorf("invalid envelope flag %d", (flags>>1)&0x07)
	}
	start := 8 + envelope
	if len(b) <= start {
		return nil, errors.New("truncated geometry")
	}
	g, err := wkb.Unmarshal(b[start:])
	if err != nil {
		return nil, fmt.Errorf("wkb: %w", err)
	}
	return g, nil
}

func gpkgCRS(srsID int64) string {
	switch srsID {
	case 0, -1:
		return ""
	default:
		return "EPSG:" + strconv.FormatInt(srsID, 10)
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
